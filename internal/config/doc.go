// Package config loads, normalizes, and validates paperpipe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), resolves stage directories under the working directory, reads
// TOML files, and honours environment fallbacks such as PAPERPIPE_SOURCE_URL.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical log formats, and clear validation errors.
package config
