// Copyright (c) DBGP Tools Contributors.
// Licensed under the MIT License.

// Package session implements the per-connection DBGP session state
// machine: parse the init packet, route it to a registered IDE,
// rewrite and forward it, then splice bytes until either side closes.
package session

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dbgp-tools/rendezvous-proxy/internal/dbgperr"
	"github.com/dbgp-tools/rendezvous-proxy/internal/dbgpwire"
	"github.com/dbgp-tools/rendezvous-proxy/internal/dbgpxml"
	"github.com/dbgp-tools/rendezvous-proxy/internal/registry"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// state names the Session's position in the AwaitInit -> Splicing ->
// Stopped state machine. Stopped is sticky: once reached, the Session
// performs no further I/O.
type state int

const (
	stateAwaitInit state = iota
	stateSplicing
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateAwaitInit:
		return "AwaitInit"
	case stateSplicing:
		return "Splicing"
	case stateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// spliceBufferSize is the fixed per-direction read buffer used during
// the splice phase.
const spliceBufferSize = 8 * 1024

// DefaultDialTimeout bounds how long a Session waits to connect to a
// registered IDE endpoint, so a dead or firewalled IDE can't pin a
// goroutine forever.
const DefaultDialTimeout = 5 * time.Second

// Session drives one accepted engine connection to completion.
type Session struct {
	id          string
	engineConn  net.Conn
	engineIn    *bufio.Reader
	registry    *registry.Registry
	dialTimeout time.Duration
	log         logr.Logger

	state state
}

// New constructs a Session that owns conn for its entire lifetime.
func New(conn net.Conn, reg *registry.Registry, dialTimeout time.Duration, log logr.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:          id,
		engineConn:  conn,
		engineIn:    bufio.NewReader(conn),
		registry:    reg,
		dialTimeout: dialTimeout,
		log:         log.WithValues("session", id),
		state:       stateAwaitInit,
	}
}

// CloseEngineConn closes the Session's engine-side socket from
// outside its driving goroutine. It unblocks whatever read the
// Session is currently waiting on (AwaitInit or Splicing) with an
// EOF/error, which Run treats as terminal. Used by the Supervisor to
// drain sessions on shutdown without waiting for them to finish on
// their own.
func (s *Session) CloseEngineConn() {
	_ = s.engineConn.Close()
}

// Run drives the Session to completion: AwaitInit, then Splicing,
// then Stopped. It always closes the engine connection before
// returning. It never returns an error; all failures are terminal to
// this Session alone and are logged, not propagated.
func (s *Session) Run() {
	defer s.setState(stateStopped)
	defer s.engineConn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(fmt.Errorf("panic: %v", r), "recovered from panic in session")
		}
	}()

	ideConn, rewritten, err := s.route()
	if err != nil {
		if dbgperr.IsRouting(err) {
			s.log.V(1).Info("session stopped: could not route to an IDE", "error", err.Error())
		} else {
			s.log.V(1).Info("session stopped before routing completed", "error", err.Error())
		}
		return
	}
	defer ideConn.Close()

	framed := dbgpwire.EncodeFramed(rewritten)
	if _, err := ideConn.Write(framed); err != nil {
		s.log.V(1).Info("failed forwarding rewritten init packet to IDE", "error", err.Error())
		return
	}

	s.setState(stateSplicing)
	splice(s.engineConn, s.engineIn, ideConn, s.log)
}

// route performs the AwaitInit phase: read the init packet, extract
// idekey, look it up, dial the IDE, and rewrite the init packet for
// forwarding. On any failure it reports a proxyerror to the engine
// (where applicable) and returns an error.
func (s *Session) route() (net.Conn, []byte, error) {
	payload, err := dbgpwire.DecodeFramed(s.engineIn)
	if err != nil {
		s.sendProxyError(fmt.Sprintf("Malformed init packet: %s", err.Error()))
		return nil, nil, err
	}

	idekey, err := dbgpxml.IdeKey(payload)
	if err != nil {
		s.sendProxyError("No IDE key specified in init packet")
		return nil, nil, err
	}

	reg, ok := s.registry.Lookup(idekey)
	if !ok {
		err := fmt.Errorf("%w: no server with key %q", dbgperr.ErrRouting, idekey)
		s.sendProxyError(fmt.Sprintf("No server with key %q", idekey))
		return nil, nil, err
	}

	ideAddr := net.JoinHostPort(reg.Endpoint.Host, fmt.Sprintf("%d", reg.Endpoint.Port))
	ideConn, err := net.DialTimeout("tcp", ideAddr, s.dialTimeout)
	if err != nil {
		s.registry.Remove(idekey)
		s.log.V(1).Info("evicted stale IDE registration after dial failure", "idekey", idekey, "endpoint", ideAddr)
		s.sendProxyError(fmt.Sprintf("Unable to connect to IDE at %s", ideAddr))
		return nil, nil, fmt.Errorf("%w: dialing IDE %s: %w", dbgperr.ErrRouting, ideAddr, err)
	}

	engineHost := s.engineHostname()
	rewritten, err := dbgpxml.RewriteForIde(payload, engineHost)
	if err != nil {
		ideConn.Close()
		s.registry.Remove(idekey)
		s.sendProxyError("Malformed init packet")
		return nil, nil, err
	}

	return ideConn, rewritten, nil
}

func (s *Session) engineHostname() string {
	host, _, err := net.SplitHostPort(s.engineConn.RemoteAddr().String())
	if err != nil {
		return s.engineConn.RemoteAddr().String()
	}
	return host
}

// sendProxyError writes a framed proxyerror packet to the engine.
// Write failures are logged, not escalated: the session is already on
// a failure path.
func (s *Session) sendProxyError(message string) {
	var escaped bytes.Buffer
	xml.EscapeText(&escaped, []byte(message))

	payload := []byte(fmt.Sprintf(
		dbgpxml.Prolog+`<proxyerror id="0"><message>%s</message></proxyerror>`,
		escaped.String(),
	))

	if _, err := s.engineConn.Write(dbgpwire.EncodeFramed(payload)); err != nil {
		s.log.V(1).Info("failed writing proxyerror packet", "error", err.Error())
	}
}

func (s *Session) setState(next state) {
	s.log.V(1).Info("session state transition", "from", s.state.String(), "to", next.String())
	s.state = next
}

// splice forwards bytes bidirectionally between the engine and ide
// connections with an 8 KiB buffer per direction until either side
// reports EOF or an error, then closes both. engineIn is read instead
// of engineConn directly because it may still hold bytes the AwaitInit
// phase buffered past the init packet's framing. Byte order is
// preserved within each direction; there is no ordering guarantee
// between directions.
func splice(engineConn net.Conn, engineIn io.Reader, ideConn net.Conn, log logr.Logger) {
	done := make(chan struct{}, 2)

	copyOne := func(dst io.Writer, src io.Reader, label string) {
		defer func() { done <- struct{}{} }()
		buf := make([]byte, spliceBufferSize)
		// Hide ReaderFrom/WriterTo so io.CopyBuffer really reads through buf.
		n, err := io.CopyBuffer(struct{ io.Writer }{dst}, struct{ io.Reader }{src}, buf)
		if err != nil {
			err = fmt.Errorf("%w: %s: %w", dbgperr.ErrTransport, label, err)
		}
		log.V(1).Info("splice direction finished", "direction", label, "bytes", n, "error", errString(err), "transportError", dbgperr.IsTransport(err))
	}

	go copyOne(ideConn, engineIn, "engine->ide")
	go copyOne(engineConn, ideConn, "ide->engine")

	<-done
	engineConn.Close()
	ideConn.Close()
	<-done
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
