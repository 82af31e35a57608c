// SPDX-FileCopyrightText: 2026 The ruft-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// ruftsend transfers a file reliably over UDP to a listening ruftrecv.
package main

import (
	"flag"
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
		windowSize uint
		timeout    float64
	)

	flag.StringVar(&configFile, "config", "", "TOML configuration file")
	flag.StringVar(&host, "host", "", "receiver's host, overriding the configuration")
	flag.IntVar(&port, "port", 0, "receiver's port, overriding the configuration")
	flag.UintVar(&windowSize, "window", 0, "packets in flight, overriding the configuration")
	flag.Float64Var(&timeout, "timeout", 0, "retransmission timeout in seconds, overriding the configuration")
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
	if windowSize != 0 {
		conf.Transfer.WindowSize = uint32(windowSize)
	}
	if timeout != 0 {
		conf.Transfer.Timeout = timeout
	}

	configureLogging(conf.Logging)

	epConf := conf.endpointConfiguration()

	file, err := os.Open(flag.Arg(0))
	if err != nil {
		log.WithError(err).Fatal("Failed to open input file")
	}
	defer file.Close()

	transport, peer, err := endpoint.DialUDP(conf.Transfer.Host, conf.Transfer.Port, epConf.MTU())
	if err != nil {
		log.WithError(err).Fatal("Failed to create UDP transport")
	}

	ep, err := endpoint.NewSender(transport, peer, epConf)
	if err != nil {
		log.WithError(err).Fatal("Failed to create sender endpoint")
	}

	log.WithFields(log.Fields{
		"file": flag.Arg(0),
		"peer": peer,
	}).Info("Starting transfer")

	if err := ep.Connect(); err != nil {
		log.WithError(err).Fatal("Handshake failed")
	}

	start := time.Now()
	n, err := ep.Send(file)
	if err != nil {
		log.WithError(err).Fatal("Transfer failed")
	}
	elapsed := time.Since(start)

	if err := ep.Close(); err != nil {
		log.WithError(err).Warn("Closing endpoint errored")
	}

	throughput := float64(n) / elapsed.Seconds() / (1 << 20)
	log.WithFields(log.Fields{
		"bytes":       n,
		"duration":    elapsed,
		"retransmits": ep.Retransmits(),
		"MiB/s":       throughput,
	}).Info("Transfer completed")
}
