// Package config loads the intentd configuration from JSON, YAML or TOML
// files and fills in defaults for the store, event bus, auction and web3
// sections.
package config
