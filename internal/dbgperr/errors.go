// Copyright (c) DBGP Tools Contributors.
// Licensed under the MIT License.

// Package dbgperr defines the error kinds used across the proxy. Each
// kind is a sentinel wrapped with errors.Is-friendly context at the
// call site via fmt.Errorf("...: %w", err).
package dbgperr

import (
	"context"
	"errors"
	"net"

	"github.com/go-logr/logr"
)

var (
	// ErrProtocol marks malformed DBGP framing or a missing required
	// attribute in the init packet. Fatal to the session that produced it.
	ErrProtocol = errors.New("dbgp protocol error")

	// ErrRouting marks an unknown IDE key or a dial failure while
	// routing a session to its IDE. Fatal to the session.
	ErrRouting = errors.New("dbgp routing error")

	// ErrTransport marks a read/write failure during the splice phase,
	// after routing has completed. No further reporting to the engine
	// is possible once this occurs.
	ErrTransport = errors.New("dbgp transport error")

	// ErrCommand marks a malformed or unrecognized IDE command.
	ErrCommand = errors.New("dbgp command error")

	// ErrConfig marks a listener bind failure or other configuration
	// problem that prevents the supervisor from starting.
	ErrConfig = errors.New("dbgp config error")
)

// IsProtocol reports whether err (or one it wraps) is a protocol error.
func IsProtocol(err error) bool { return errors.Is(err, ErrProtocol) }

// IsRouting reports whether err (or one it wraps) is a routing error.
func IsRouting(err error) bool { return errors.Is(err, ErrRouting) }

// IsTransport reports whether err (or one it wraps) is a transport error.
func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }

// FilterShutdownNoise returns nil if err is exactly the kind of error
// expected when ctx has already been cancelled (context.Canceled, or
// net.ErrClosed-style errors surfacing from a socket this package
// closed on purpose), logging it at debug level instead of letting it
// propagate as a surprising failure. Any other error is returned
// unchanged.
func FilterShutdownNoise(err error, ctx context.Context, log logr.Logger) error {
	if err == nil {
		return nil
	}

	if ctx.Err() == nil {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		log.V(1).Info("filtering shutdown-induced error", "error", err.Error())
		return nil
	}

	return err
}
