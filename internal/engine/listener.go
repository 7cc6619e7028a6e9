// Copyright (c) DBGP Tools Contributors.
// Licensed under the MIT License.

// Package engine implements the long-lived debugger-engine listener:
// one accepted connection becomes one Session, driven on its own
// goroutine. The listener never blocks on a session.
package engine

import (
	"net"
	"sync"
	"time"

	"github.com/dbgp-tools/rendezvous-proxy/internal/registry"
	"github.com/dbgp-tools/rendezvous-proxy/internal/session"
	"github.com/go-logr/logr"
)

// Listener accepts engine connections and spawns a Session for each.
type Listener struct {
	registry    *registry.Registry
	dialTimeout time.Duration
	log         logr.Logger

	mu       sync.Mutex
	sessions map[*session.Session]struct{}
}

// New returns a Listener that routes accepted engine connections
// against reg.
func New(reg *registry.Registry, dialTimeout time.Duration, log logr.Logger) *Listener {
	return &Listener{
		registry:    reg,
		dialTimeout: dialTimeout,
		log:         log,
		sessions:    make(map[*session.Session]struct{}),
	}
}

// Serve accepts connections from ln until it returns an error (e.g.
// because ln was closed by the caller during shutdown).
func (l *Listener) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}

		l.log.V(1).Info("accepted engine connection", "remote", conn.RemoteAddr().String())
		s := session.New(conn, l.registry, l.dialTimeout, l.log)
		l.track(s)

		go func() {
			defer l.untrack(s)
			s.Run()
		}()
	}
}

// CloseSessions closes the engine-side socket of every currently live
// session, unblocking their splice loops with EOF so Run returns.
// Used during shutdown to drain sessions without waiting for them to
// finish on their own.
func (l *Listener) CloseSessions() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for s := range l.sessions {
		s.CloseEngineConn()
	}
}

func (l *Listener) track(s *session.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[s] = struct{}{}
}

func (l *Listener) untrack(s *session.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, s)
}
