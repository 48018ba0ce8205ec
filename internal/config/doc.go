// Package config loads application settings with viper from defaults, an
// optional YAML file and MEDIASCRIBE_* environment variables, and validates
// them with go-playground/validator.
package config
