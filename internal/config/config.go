// Package config defines the command line of viipmi.
package config

import "github.com/Alia5/VIIPMI/internal/cmd"

// LogConfig controls the process logger.
type LogConfig struct {
	Level   string `help:"Log level" enum:"trace,debug,info,warn,error" default:"info" env:"VIIPMI_LOG_LEVEL"`
	File    string `help:"Write logs to this file instead of stdout/stderr" env:"VIIPMI_LOG_FILE"`
	RawFile string `help:"Hex-dump raw BMC link traffic to this file" env:"VIIPMI_LOG_RAW_FILE"`
}

// CLI is the root command.
type CLI struct {
	Config string    `help:"Configuration file (json, yaml or toml)" type:"path" env:"VIIPMI_CONFIG"`
	Log    LogConfig `embed:"" prefix:"log."`

	Server    cmd.Server        `cmd:"" help:"Run the interface emulator and its API server"`
	Proxy     cmd.Proxy         `cmd:"" help:"Relay and log the VM protocol between an emulator and a BMC"`
	Raw       cmd.Raw           `cmd:"" help:"Send a raw IPMI request to an attached interface"`
	ConfigCmd cmd.ConfigCommand `cmd:"" name:"config" help:"Configuration helpers"`
}
