// SPDX-FileCopyrightText: 2026 The ruft-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// ruftrecv listens on a UDP port and receives a file from a ruftsend peer.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ruft/ruft-go/pkg/endpoint"
)

func main() {
	var (
		configFile string
		host       string
		port       int
	)

	flag.StringVar(&configFile, "config", "", "TOML configuration file")
	flag.StringVar(&host, "host", "", "listening host, overriding the configuration")
	flag.IntVar(&port, "port", 0, "listening port, overriding the configuration")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatalf("Usage: %s [flags] FILE", os.Args[0])
	}

	conf, err := loadConfiguration(configFile)
	if err != nil {
		log.WithError(err).Fatal("Failed to parse configuration")
	}

	if host != "" {
		conf.Transfer.Host = host
	}
	if port != 0 {
		conf.Transfer.Port = port
	}

	configureLogging(conf.Logging)

	epConf := conf.endpointConfiguration()

	file, err := os.Create(flag.Arg(0))
	if err != nil {
		log.WithError(err).Fatal("Failed to create output file")
	}
	defer file.Close()

	listen := fmt.Sprintf("%s:%d", conf.Transfer.Host, conf.Transfer.Port)
	transport, err := endpoint.ListenUDP(listen, epConf.MTU())
	if err != nil {
		log.WithError(err).Fatal("Failed to create UDP transport")
	}

	ep, err := endpoint.NewReceiver(transport, epConf)
	if err != nil {
		log.WithError(err).Fatal("Failed to create receiver endpoint")
	}

	log.WithFields(log.Fields{
		"file":   flag.Arg(0),
		"listen": transport.LocalAddr(),
	}).Info("Awaiting transfer")

	if err := ep.Connect(); err != nil {
		log.WithError(err).Fatal("Handshake failed")
	}

	start := time.Now()
	n, err := ep.Receive(file)
	if err != nil {
		log.WithError(err).Fatal("Transfer failed")
	}
	elapsed := time.Since(start)

	if err := ep.Close(); err != nil {
		log.WithError(err).Warn("Closing endpoint errored")
	}

	throughput := float64(n) / elapsed.Seconds() / (1 << 20)
	log.WithFields(log.Fields{
		"bytes":    n,
		"duration": elapsed,
		"MiB/s":    throughput,
	}).Info("Transfer completed")
}
