// Package validation provides input validation for govkit configuration.
//
// It supports both struct tag validation (using the validator library) and
// programmatic validation with error collection. Struct tags cover
// per-field constraints; the fluent Validator handles cross-field rules
// such as ordered timeout bounds. Either way the result is a typed
// configuration error tagged with the validation failure kind, which no
// retry policy retries.
//
// # Struct Tag Validation
//
//	type PoolSettings struct {
//	    Capacity       int           `json:"capacity" validate:"required,min=1"`
//	    RefillInterval time.Duration `json:"refill_interval" validate:"gte=0"`
//	}
//	err := validation.Validate(settings)
//
// # Programmatic Validation
//
//	v := validation.New()
//	v.Min("capacity", cfg.Capacity, 1)
//	v.Custom(cfg.MinTimeout <= cfg.MaxTimeout, "min_timeout", "must not exceed max_timeout")
//	if appErr := v.Validate(); appErr != nil {
//	    return appErr
//	}
package validation
