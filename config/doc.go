// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files. It covers the transport settings, the
// platform-wide sandbox ceilings (timeout, memory, CPU), logging and the
// runtime registry that maps a runtime name to its container image,
// default command and default code filename.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Server transport: %s\n", cfg.Server.Transport)
package config
