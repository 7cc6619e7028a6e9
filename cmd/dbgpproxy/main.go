// Copyright (c) DBGP Tools Contributors.
// Licensed under the MIT License.

// Command dbgpproxy runs the DBGP rendezvous proxy: an engine-side
// listener, an IDE command listener, and the Registry binding them.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/dbgp-tools/rendezvous-proxy/internal/dbgperr"
	"github.com/dbgp-tools/rendezvous-proxy/internal/dbgplog"
	"github.com/dbgp-tools/rendezvous-proxy/internal/proxysvc"
	"github.com/dbgp-tools/rendezvous-proxy/internal/version"
	"github.com/spf13/pflag"
)

const (
	defaultIdeBindAddr    = "127.0.0.1:9001"
	defaultEngineBindAddr = "127.0.0.1:9000"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("dbgpproxy", pflag.ContinueOnError)

	ideBindAddr := fs.StringP("ide-addr", "i", defaultIdeBindAddr, "[HOST:]PORT to bind the IDE command listener on")
	engineBindAddr := fs.StringP("engine-addr", "d", defaultEngineBindAddr, "[HOST:]PORT to bind the debugger engine listener on")
	showVersion := fs.BoolP("version", "V", false, "print version and exit")

	log := dbgplog.New("dbgpproxy")
	log.AddLevelFlag(fs)

	fs.SortFlags = false
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "dbgpproxy: a rendezvous proxy for the DBGP wire protocol")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, fs.FlagUsages())
	}

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if *showVersion {
		fmt.Println(version.String())
		return 0
	}

	// A bare PORT binds the default loopback host.
	for _, addr := range []*string{ideBindAddr, engineBindAddr} {
		if !strings.Contains(*addr, ":") {
			*addr = net.JoinHostPort("127.0.0.1", *addr)
		}
	}

	engineHost, enginePort, err := resolveAdvertisedEngineEndpoint(*engineBindAddr)
	if err != nil {
		log.Error(err, "invalid engine bind address", "address", *engineBindAddr)
		return 1
	}

	sup := proxysvc.New(proxysvc.Config{
		EngineBindAddr: *engineBindAddr,
		IdeBindAddr:    *ideBindAddr,
		EngineHost:     engineHost,
		EnginePort:     enginePort,
		DialTimeout:    5 * time.Second,
	}, log.Logger)

	if err := sup.Start(); err != nil {
		log.Error(err, "failed to start supervisor")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Info("dbgpproxy started", "version", version.String())
	if err := sup.Run(ctx); err != nil {
		log.Error(err, "supervisor exited with an error")
		return 1
	}

	log.Flush()
	return 0
}

// resolveAdvertisedEngineEndpoint splits the engine bind address into
// the host/port the proxy advertises in proxyinit responses. An empty
// host (e.g. ":9000", binding all interfaces) isn't itself an
// advertisable address, so it falls back to the loopback address;
// operators fronting the proxy with a different reachable host should
// pass it explicitly via -d HOST:PORT.
func resolveAdvertisedEngineEndpoint(bindAddr string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", dbgperr.ErrConfig, err)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("%w: invalid port %q: %w", dbgperr.ErrConfig, portStr, err)
	}

	if host == "" {
		host = "127.0.0.1"
	}

	return host, uint16(port), nil
}
