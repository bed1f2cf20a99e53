// Package config loads the admission gateway configuration.
//
// Configuration is a YAML document. Before parsing, ${VAR} and
// ${VAR:-default} references are replaced from the environment, which
// may be seeded from a .env file. Omitted values take the defaults of
// DefaultConfig, and ValidateConfig reports every problem at once.
//
//	cfg, err := config.LoadConfig("configs/admission.yaml")
//	if err != nil {
//	    return err
//	}
//
// A Watcher reloads the file when it changes and hands the new,
// validated configuration to a callback; the gateway uses it to swap
// the origin allow-list without a restart.
package config
