// Package config loads the bgjobs configuration from JSON or YAML, validates it
// strictly and hot-reloads it when the file changes.
package config
