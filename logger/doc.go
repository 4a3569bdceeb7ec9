// Package logger provides structured logging for govkit applications
// using zerolog.
//
// It supports JSON and console output formats, log level configuration,
// and component-scoped loggers with structured fields. Governance
// primitives (ratelimit, cache, breaker, client) never log; they report
// through typed errors and callbacks, and the governor facade owns the
// log stream.
//
// # Configuration
//
//	logging:
//	  service_name: "chat-service"
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.Get("governor")
//	log.Info("request finished", logger.Fields(
//		logger.FieldCategory, "completion",
//		logger.FieldOutcome, "success",
//	))
package logger
