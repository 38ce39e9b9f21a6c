package api

import "time"

// ServerConfig represents the API part of the server subcommand configuration.
type ServerConfig struct {
	Addr              string        `help:"API server listen address" default:":3243" env:"VIIPMI_API_ADDR"`
	RequireLocalAuth  bool          `help:"Require the API password from loopback clients too" default:"false" env:"VIIPMI_API_REQUIRE_LOCAL_AUTH"`
	ConnectionTimeout time.Duration `help:"Deadline for a single request/response exchange" default:"30s" env:"VIIPMI_API_CONNECTION_TIMEOUT"`
	// Password enables authentication when set. Loaded from the key file, never from flags.
	Password string `kong:"-"`
}
