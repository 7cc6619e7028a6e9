// Copyright (c) DBGP Tools Contributors.
// Licensed under the MIT License.

// Package proxysvc wires the Registry and the two listeners together
// and owns their lifecycle: start, run until shutdown is requested,
// stop accepting, and return.
package proxysvc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/dbgp-tools/rendezvous-proxy/internal/dbgperr"
	"github.com/dbgp-tools/rendezvous-proxy/internal/engine"
	"github.com/dbgp-tools/rendezvous-proxy/internal/idecmd"
	"github.com/dbgp-tools/rendezvous-proxy/internal/registry"
	"github.com/dbgp-tools/rendezvous-proxy/internal/session"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// Config configures a Supervisor. EngineHost/EnginePort is the
// engine-side endpoint the proxy advertises in proxyinit responses,
// which may differ from IdeBindAddr/EngineBindAddr if the proxy sits
// behind a NAT or a container port mapping.
type Config struct {
	EngineBindAddr string
	IdeBindAddr    string
	EngineHost     string
	EnginePort     uint16
	DialTimeout    time.Duration
}

// Supervisor owns one Registry and both listeners.
type Supervisor struct {
	cfg Config
	log logr.Logger

	registry *registry.Registry

	engineLn net.Listener
	ideLn    net.Listener
}

// New constructs a Supervisor. Call Start to bind the listeners.
func New(cfg Config, log logr.Logger) *Supervisor {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = session.DefaultDialTimeout
	}
	return &Supervisor{
		cfg:      cfg,
		log:      log,
		registry: registry.New(),
	}
}

// Start binds both listeners. It must succeed before Run is called.
func (s *Supervisor) Start() error {
	engineLn, err := net.Listen("tcp", s.cfg.EngineBindAddr)
	if err != nil {
		return fmt.Errorf("%w: binding engine listener on %s: %w", dbgperr.ErrConfig, s.cfg.EngineBindAddr, err)
	}
	s.engineLn = engineLn

	ideLn, err := net.Listen("tcp", s.cfg.IdeBindAddr)
	if err != nil {
		engineLn.Close()
		return fmt.Errorf("%w: binding IDE command listener on %s: %w", dbgperr.ErrConfig, s.cfg.IdeBindAddr, err)
	}
	s.ideLn = ideLn

	s.log.Info("listeners bound", "engine", engineLn.Addr().String(), "ide", ideLn.Addr().String())
	return nil
}

// Run blocks serving both listeners until ctx is cancelled, then
// closes both listeners, closes the engine-side socket of every live
// Session to drain it, and returns. Shutdown is best-effort: it does
// not wait for drained sessions to actually finish splicing, since a
// hung session must never prevent the proxy from exiting - it only
// guarantees they observe EOF/error promptly.
func (s *Supervisor) Run(ctx context.Context) error {
	engineListener := engine.New(s.registry, s.cfg.DialTimeout, s.log.WithName("engine"))
	ideListener := idecmd.New(s.registry, s.cfg.EngineHost, s.cfg.EnginePort, s.log.WithName("ide"))

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return dbgperr.FilterShutdownNoise(engineListener.Serve(s.engineLn), groupCtx, s.log)
	})
	group.Go(func() error {
		return dbgperr.FilterShutdownNoise(ideListener.Serve(s.ideLn), groupCtx, s.log)
	})

	go func() {
		<-ctx.Done()
		s.log.Info("shutdown requested, closing listeners")
		s.engineLn.Close()
		s.ideLn.Close()
		engineListener.CloseSessions()
	}()

	return group.Wait()
}
