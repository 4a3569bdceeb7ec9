package component

import "context"

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusDegraded  HealthStatus = "degraded"
)

// Health holds health information for a component.
type Health struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Component represents a lifecycle-managed component. Anything that owns
// background goroutines or pooled resources (a governor, a cache with a
// sweeper, a client with a batcher) implements this interface so callers
// can start and stop it deterministically.
type Component interface {
	// Name returns the unique name of the component for registration.
	Name() string

	// Start initializes and starts the component.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the component and releases resources.
	Stop(ctx context.Context) error

	// Health returns the current health status of the component.
	Health(ctx context.Context) Health
}

// Description holds summary information for a startup report.
// Components that implement Describable return this to self-report
// what they are and how they're configured.
type Description struct {
	// Name is the human-readable display name (e.g., "Resource Governor").
	// If empty, the component's Name() is used.
	Name string
	// Type categorizes the component: "governor", "cache", "limiter", etc.
	Type string
	// Details is a human-readable one-liner shown in the startup summary.
	// Examples: "categories=3 cached=2", "capacity=256 ttl=30s"
	Details string
}

// Describable is optionally implemented by Components to provide
// configuration summaries. Callers that assemble several components can
// collect descriptions at startup and log them in one place.
type Describable interface {
	Describe() Description
}
