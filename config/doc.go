// Package config loads the imagerelay configuration.
//
// Values come from defaults, then an optional YAML file, then IMAGERELAY_*
// environment variables. Provider credentials are resolved from their named
// environment variables once, at load time.
package config
