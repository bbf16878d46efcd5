// Package config loads application configuration from COLABRIX_*
// environment variables and validates it at startup.
//
// Example:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//	    log.Fatalf("invalid configuration: %v", err)
//	}
//	fmt.Printf("Listening on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
