// Package component defines the lifecycle interfaces used by govkit.
//
// Components represent long-lived objects that own background work and
// need ordered startup, shutdown, and health monitoring. The governor
// implements Component so applications can manage it alongside their
// own components through a Registry.
//
// # Interfaces
//
//   - Component: lifecycle interface (Name/Start/Stop/Health)
//   - Describable: optional configuration summary for startup reports
//
// # Usage
//
//	reg := component.NewRegistry()
//	reg.Register(gov)
//	if err := reg.StartAll(ctx); err != nil {
//		return err
//	}
//	defer reg.StopAll(context.Background())
package component
