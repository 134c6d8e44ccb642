// Package config loads, normalizes, and validates flaccapture configuration.
//
// It supplies defaults, expands user paths (including tilde shortcuts), reads
// TOML files, loads an optional .env file, and honours environment fallbacks
// such as FLACCAPTURE_INPUT_DIR. The Config type centralizes every knob the
// watch daemon and CLI need so directories, capture policy, and encoder
// settings are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// expanded paths, clamped values, and clear validation errors.
package config
