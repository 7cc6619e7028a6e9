// Copyright (c) DBGP Tools Contributors.
// Licensed under the MIT License.

// Package dbgpwire implements the DBGP length-prefixed wire framing:
// <decimal-length>\0<payload-bytes>\0.
package dbgpwire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/dbgp-tools/rendezvous-proxy/internal/dbgperr"
)

// MaxPayloadBytes bounds the length prefix so a malicious or broken
// peer cannot force the proxy to allocate unbounded memory. A packet
// of exactly this size is accepted; one byte over is a ProtocolError.
const MaxPayloadBytes = 1 << 20 // 1 MiB

// DecodeFramed reads one framed DBGP packet from r: ASCII decimal
// digits, a NUL, exactly n bytes of payload, and (if present) a
// trailing NUL. Some engines omit the trailing NUL; its absence is
// not an error.
func DecodeFramed(r *bufio.Reader) ([]byte, error) {
	n, err := readLengthPrefix(r)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: short read of %d-byte payload: %w", dbgperr.ErrProtocol, n, err)
	}

	// Consume the trailing NUL if present; do not fail if it's missing.
	if b, err := r.Peek(1); err == nil && b[0] == 0 {
		_, _ = r.Discard(1)
	}

	return payload, nil
}

// readLengthPrefix reads ASCII decimal digits up to the first NUL and
// parses them as a non-negative byte count.
func readLengthPrefix(r *bufio.Reader) (int, error) {
	var digits []byte

	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("%w: reading length prefix: %w", dbgperr.ErrProtocol, err)
		}

		if b == 0 {
			break
		}

		if b < '0' || b > '9' {
			return 0, fmt.Errorf("%w: non-digit byte %q in length prefix", dbgperr.ErrProtocol, b)
		}

		digits = append(digits, b)
		if len(digits) > len(strconv.Itoa(MaxPayloadBytes))+1 {
			return 0, fmt.Errorf("%w: length prefix too long", dbgperr.ErrProtocol)
		}
	}

	if len(digits) == 0 {
		return 0, fmt.Errorf("%w: empty length prefix", dbgperr.ErrProtocol)
	}

	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid length prefix %q: %w", dbgperr.ErrProtocol, digits, err)
	}

	if n > MaxPayloadBytes {
		return 0, fmt.Errorf("%w: payload length %d exceeds maximum of %d bytes", dbgperr.ErrProtocol, n, MaxPayloadBytes)
	}

	return n, nil
}

// EncodeFramed wraps payload in the DBGP wire framing. The caller owns
// the content and encoding of payload; EncodeFramed only frames it.
func EncodeFramed(payload []byte) []byte {
	prefix := strconv.Itoa(len(payload))

	out := make([]byte, 0, len(prefix)+len(payload)+2)
	out = append(out, prefix...)
	out = append(out, 0)
	out = append(out, payload...)
	out = append(out, 0)
	return out
}
