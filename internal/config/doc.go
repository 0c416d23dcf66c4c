// Package config handles configuration loading for mrwp-agent.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. The format follows the file extension: .toml is TOML, anything
// else is YAML.
//
// # Configuration File
//
// Lookup order:
//
//  1. Path from the --config flag
//  2. Path from MRWP_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/mrwp/agent.yaml (~/.config/mrwp/agent.yaml)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	smtp:
//	  password: "${MRWP_SMTP_PASSWORD}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	server:
//	  shutdown_timeout: "10s"
//	  health_poll_interval: "5s"
//	smtp:
//	  timeout: "15s"
//
// # Configuration Sections
//
// Site being fronted:
//
//	site:
//	  name: "My Site"
//	  base_url: "https://example.com"     # required, used for bypass links
//	  upstream: "http://127.0.0.1:8081"   # page requests are proxied here
//	  api_root: "/wp-json/mrwp/v1"
//
// Option store:
//
//	database:
//	  driver: "sqlite"    # sqlite (pure Go) or sqlite3 (cgo)
//	  path: "/var/lib/mrwp/agent.db"
//	  encryption_key: "${MRWP_STORE_KEY}"
//
// See SampleYAML for every section.
//
// # Usage
//
//	cfg, err := config.Load(config.ResolvePath(flagValue))
//	if err != nil {
//	    return err
//	}
package config
