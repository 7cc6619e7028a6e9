// Copyright (c) DBGP Tools Contributors.
// Licensed under the MIT License.

package idecmd

import (
	"fmt"
	"net"
	"time"

	"github.com/dbgp-tools/rendezvous-proxy/internal/dbgperr"
	"github.com/dbgp-tools/rendezvous-proxy/internal/registry"
	"github.com/go-logr/logr"
)

// requestDeadline bounds how long a single short-lived IDE command
// connection may take to send its request line, so a stalled client
// cannot pin a goroutine forever.
const requestDeadline = 10 * time.Second

// maxRequestBytes bounds how much of a request line this listener
// will read from a single connection.
const maxRequestBytes = 1024

// Listener accepts IDE control connections and executes proxyinit /
// proxystop against a shared Registry.
type Listener struct {
	registry   *registry.Registry
	log        logr.Logger
	engineHost string
	enginePort uint16
}

// New returns a Listener that registers against reg and advertises
// engineHost:enginePort as the engine-side endpoint in proxyinit
// responses.
func New(reg *registry.Registry, engineHost string, enginePort uint16, log logr.Logger) *Listener {
	return &Listener{registry: reg, log: log, engineHost: engineHost, enginePort: enginePort}
}

// Serve accepts connections from ln until it returns an error (e.g.
// because ln was closed by the caller during shutdown).
func (l *Listener) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}

		go l.handleConnection(conn)
	}
}

func (l *Listener) handleConnection(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			l.log.Error(fmt.Errorf("panic: %v", r), "recovered from panic in IDE command handler")
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(requestDeadline))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if n == 0 && err != nil {
		l.log.V(1).Info("IDE command connection closed before sending a request", "error", err.Error())
		return
	}

	line := decodeRequestLine(buf[:n])

	peerHost, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		peerHost = conn.RemoteAddr().String()
	}

	response, cmdErr := l.execute(line, peerHost)
	if cmdErr != nil {
		l.log.V(1).Info("rejected IDE command", "error", cmdErr.Error())
	}
	if _, err := conn.Write([]byte(response)); err != nil {
		l.log.V(1).Info("failed writing IDE command response", "error", err.Error())
	}
}

// decodeRequestLine decodes raw bytes as UTF-8. Invalid sequences are
// replaced with U+FFFD rather than rejected outright; the command
// tokens this proxy actually cares about are plain ASCII regardless.
func decodeRequestLine(raw []byte) string {
	return string([]rune(string(raw)))
}

// execute runs one IDE command to completion and returns the XML
// response to write back. The returned error, when non-nil, is a
// CommandError describing why the command was rejected; it is
// logged by the caller, not sent over the wire (the XML response
// already carries a human-readable message).
func (l *Listener) execute(line, ideHost string) (string, error) {
	cmd, err := parseCommand(line)
	if err != nil {
		return commandFailure("unknown", err.Error()), err
	}

	switch cmd.name {
	case "proxyinit":
		return l.executeProxyinit(cmd, ideHost)
	case "proxystop":
		return l.executeProxystop(cmd)
	default:
		err := fmt.Errorf("%w: unknown command %q", dbgperr.ErrCommand, cmd.name)
		return commandFailure(cmd.name, fmt.Sprintf("Unknown command %q", cmd.name)), err
	}
}

// executeProxyinit registers ideHost (the peer address of this
// control connection, not anything client-supplied) as the IDE
// endpoint's host, since proxyinit only carries the port.
func (l *Listener) executeProxyinit(cmd command, ideHost string) (string, error) {
	idekey, ok := cmd.args["k"]
	if !ok || idekey == "" {
		return commandFailure("proxyinit", "No IDE key"), fmt.Errorf("%w: proxyinit missing -k", dbgperr.ErrCommand)
	}

	rawPort, ok := cmd.args["p"]
	if !ok || rawPort == "" {
		return commandFailure("proxyinit", "No port defined for proxy"), fmt.Errorf("%w: proxyinit missing -p", dbgperr.ErrCommand)
	}

	port, err := parsePort(rawPort)
	if err != nil {
		return commandFailure("proxyinit", "No port defined for proxy"), fmt.Errorf("%w: proxyinit -p: %w", dbgperr.ErrCommand, err)
	}

	multi := cmd.args["m"]

	if !l.registry.Add(idekey, registry.Endpoint{Host: ideHost, Port: port}, multi) {
		return commandFailure("proxyinit", "IDE Key already exists"), fmt.Errorf("%w: proxyinit idekey %q already registered", dbgperr.ErrCommand, idekey)
	}

	l.log.V(1).Info("registered IDE", "idekey", idekey, "host", ideHost, "port", port)
	return proxyinitSuccess(idekey, l.engineHost, l.enginePort), nil
}

func (l *Listener) executeProxystop(cmd command) (string, error) {
	idekey, ok := cmd.args["k"]
	if !ok || idekey == "" {
		return commandFailure("proxystop", "No IDE key"), fmt.Errorf("%w: proxystop missing -k", dbgperr.ErrCommand)
	}

	if !l.registry.Remove(idekey) {
		return commandFailure("proxystop", fmt.Sprintf("No server with key %q", idekey)), fmt.Errorf("%w: proxystop unknown idekey %q", dbgperr.ErrCommand, idekey)
	}

	l.log.V(1).Info("deregistered IDE", "idekey", idekey)
	return proxystopSuccess(idekey), nil
}
