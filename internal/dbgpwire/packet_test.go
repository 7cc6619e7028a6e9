package dbgpwire

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/dbgp-tools/rendezvous-proxy/internal/dbgperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	payloads := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte(`<?xml version="1.0"?><init idekey="alice"/>`),
		bytes.Repeat([]byte("x"), 70000),
	}

	for _, payload := range payloads {
		framed := EncodeFramed(payload)
		got, err := DecodeFramed(bufio.NewReader(bytes.NewReader(framed)))
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	}
}

func TestDecodeFramedWithoutTrailingNUL(t *testing.T) {
	t.Parallel()

	payload := []byte("hello")
	var buf bytes.Buffer
	buf.WriteString("5")
	buf.WriteByte(0)
	buf.Write(payload)
	// No trailing NUL written.

	got, err := DecodeFramed(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecodeFramedRejectsNonDigitLength(t *testing.T) {
	t.Parallel()

	r := bufio.NewReader(strings.NewReader("12x3\x00hello\x00"))
	_, err := DecodeFramed(r)
	assert.True(t, dbgperr.IsProtocol(err))
}

func TestDecodeFramedRejectsOversizedLength(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("9", 8) // far larger than MaxPayloadBytes
	r := bufio.NewReader(strings.NewReader(big + "\x00"))
	_, err := DecodeFramed(r)
	assert.True(t, dbgperr.IsProtocol(err))
}

func TestDecodeFramedAcceptsExactlyMaxSize(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("a"), MaxPayloadBytes)
	framed := EncodeFramed(payload)
	got, err := DecodeFramed(bufio.NewReader(bytes.NewReader(framed)))
	require.NoError(t, err)
	assert.Len(t, got, MaxPayloadBytes)
}

func TestDecodeFramedRejectsOneByteOverMax(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("a"), MaxPayloadBytes+1)
	framed := EncodeFramed(payload)
	_, err := DecodeFramed(bufio.NewReader(bytes.NewReader(framed)))
	assert.True(t, dbgperr.IsProtocol(err))
}

func TestDecodeFramedReassemblesSplitSegments(t *testing.T) {
	t.Parallel()

	payload := []byte("a value split across reads")
	framed := EncodeFramed(payload)

	pr, pw := io.Pipe()
	go func() {
		for _, b := range framed {
			_, _ = pw.Write([]byte{b})
		}
		pw.Close()
	}()

	got, err := DecodeFramed(bufio.NewReader(pr))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
