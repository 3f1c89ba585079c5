// Package config defines the top level CLI structure parsed by kong.
package config

import (
	"github.com/hwbench/usbperf/internal/cmd"
)

type CLI struct {
	Config string `help:"Path to a configuration file (JSON, YAML or TOML)" env:"USBPERF_CONFIG"`

	Log struct {
		Level   string `help:"Log level" enum:"trace,debug,info,warn,error" default:"info" env:"USBPERF_LOG_LEVEL"`
		File    string `help:"Write logs to this file in addition to the console" env:"USBPERF_LOG_FILE"`
		RawFile string `help:"Dump raw transfer payloads (hex) to this file" env:"USBPERF_LOG_RAW_FILE"`
	} `embed:"" prefix:"log."`

	Run       cmd.Run           `cmd:"" help:"Benchmark sustained throughput of a USB endpoint"`
	List      cmd.List          `cmd:"" help:"List USB devices, interfaces and endpoints"`
	ConfigCmd cmd.ConfigCommand `cmd:"" name:"config" help:"Configuration file helpers"`
}
