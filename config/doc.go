// Package config provides configuration loading for govkit applications.
//
// It discovers config.yml and .env files in the standard locations of the
// consuming service (./cmd/<service>/, ./config/, the working directory),
// binds environment variables automatically, and unmarshals the merged
// result into a caller-provided struct using Viper.
//
// # Usage
//
//	var cfg governor.Config
//	err := config.LoadConfig("chat-service", &cfg)
//
// Environment variables override file values; LOGGING_LEVEL binds to
// logging.level and related nested keys, so deployments can tune any
// config field without editing files.
package config
