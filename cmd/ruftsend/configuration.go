// SPDX-FileCopyrightText: 2026 The ruft-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"

	"github.com/ruft/ruft-go/pkg/endpoint"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Transfer transferConf
	Logging  logConf
}

// transferConf describes the Transfer-configuration block.
type transferConf struct {
	Host             string
	Port             int
	WindowSize       uint32  `toml:"window-size"`
	Timeout          float64 `toml:"timeout"`
	MaxPayloadSize   int     `toml:"max-payload-size"`
	MaxRetries       int     `toml:"max-retries"`
	HandshakeRetries int     `toml:"handshake-retries"`
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

func defaultTomlConfig() tomlConfig {
	conf := endpoint.DefaultConfiguration()

	return tomlConfig{
		Transfer: transferConf{
			Host:             "localhost",
			Port:             8888,
			WindowSize:       conf.WindowSize,
			Timeout:          conf.Timeout.Seconds(),
			MaxPayloadSize:   conf.MaxPayloadSize,
			MaxRetries:       conf.MaxRetries,
			HandshakeRetries: conf.HandshakeRetries,
		},
	}
}

// loadConfiguration overlays the defaults with a TOML configuration file.
func loadConfiguration(filename string) (conf tomlConfig, err error) {
	conf = defaultTomlConfig()
	if filename != "" {
		_, err = toml.DecodeFile(filename, &conf)
	}
	return
}

// endpointConfiguration maps the Transfer block onto the endpoint's
// Configuration.
func (tc tomlConfig) endpointConfiguration() endpoint.Configuration {
	conf := endpoint.DefaultConfiguration()
	conf.WindowSize = tc.Transfer.WindowSize
	conf.Timeout = time.Duration(tc.Transfer.Timeout * float64(time.Second))
	conf.MaxPayloadSize = tc.Transfer.MaxPayloadSize
	conf.MaxRetries = tc.Transfer.MaxRetries
	conf.HandshakeRetries = tc.Transfer.HandshakeRetries
	return conf
}

// configureLogging applies the Logging block.
func configureLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}
