package dbgpxml

import (
	"strings"
	"testing"

	"github.com/dbgp-tools/rendezvous-proxy/internal/dbgperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdeKey(t *testing.T) {
	t.Parallel()

	payload := []byte(`<?xml version="1.0"?><init idekey="alice" appid="1" session="s"/>`)
	got, err := IdeKey(payload)
	require.NoError(t, err)
	assert.Equal(t, "alice", got)
}

func TestIdeKeyMissing(t *testing.T) {
	t.Parallel()

	payload := []byte(`<init appid="1"/>`)
	_, err := IdeKey(payload)
	assert.True(t, dbgperr.IsProtocol(err))
}

func TestIdeKeyMalformedDocument(t *testing.T) {
	t.Parallel()

	_, err := IdeKey([]byte("not xml at all"))
	assert.True(t, dbgperr.IsProtocol(err))
}

func TestRewriteForIdeFillsAbsentHostname(t *testing.T) {
	t.Parallel()

	payload := []byte(`<init idekey="alice" appid="1"/>`)
	out, err := RewriteForIde(payload, "engine-host")
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.HasPrefix(s, Prolog))
	assert.Contains(t, s, `hostname="engine-host"`)
	assert.Contains(t, s, `proxied="true"`)
	assert.Contains(t, s, `idekey="alice"`)
}

func TestRewriteForIdePreservesNonEmptyHostname(t *testing.T) {
	t.Parallel()

	payload := []byte(`<init idekey="alice" hostname="engine-reported-host"/>`)
	out, err := RewriteForIde(payload, "fallback-host")
	require.NoError(t, err)
	assert.Contains(t, string(out), `hostname="engine-reported-host"`)
}

func TestRewriteForIdeReplacesEmptyHostname(t *testing.T) {
	t.Parallel()

	payload := []byte(`<init idekey="alice" hostname=""/>`)
	out, err := RewriteForIde(payload, "engine-host")
	require.NoError(t, err)
	assert.Contains(t, string(out), `hostname="engine-host"`)
}

func TestRewriteForIdeIsIdempotent(t *testing.T) {
	t.Parallel()

	payload := []byte(`<init idekey="alice" appid="1"/>`)

	once, err := RewriteForIde(payload, "engine-host")
	require.NoError(t, err)

	twice, err := RewriteForIde(once, "engine-host")
	require.NoError(t, err)

	assert.Equal(t, string(once), string(twice))
}

func TestRewriteForIdePreservesChildElements(t *testing.T) {
	t.Parallel()

	payload := []byte(`<init idekey="alice"><engine version="1.0">xdebug</engine></init>`)
	out, err := RewriteForIde(payload, "engine-host")
	require.NoError(t, err)
	assert.Contains(t, string(out), `<engine version="1.0">xdebug</engine>`)
}

func TestRewriteForIdeRejectsMalformedDocument(t *testing.T) {
	t.Parallel()

	_, err := RewriteForIde([]byte("<init idekey=\"alice\""), "engine-host")
	assert.True(t, dbgperr.IsProtocol(err))
}

// A real DBGP/xdebug init packet declares a default namespace and an
// xdebug-prefixed namespace on the root element. encoding/xml's
// Decoder resolves those into StartElement.Name.Space, which would
// corrupt "<init ...>" into "<urn:debugger_protocol_v1:init ...>" if
// the rewrite were built on top of it. This package must leave the
// tag name, and every namespace declaration, byte-for-byte as-is.
func TestRewriteForIdePreservesNamespacedRootTag(t *testing.T) {
	t.Parallel()

	payload := []byte(`<?xml version="1.0" encoding="iso-8859-1"?>` +
		`<init xmlns="urn:debugger_protocol_v1" xmlns:xdebug="http://xdebug.org/dbgp/xdebug" ` +
		`idekey="alice" appid="1" fileuri="file:///t.php"/>`)

	out, err := RewriteForIde(payload, "engine-host")
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.HasPrefix(s, Prolog))
	assert.Contains(t, s, `<init xmlns="urn:debugger_protocol_v1" xmlns:xdebug="http://xdebug.org/dbgp/xdebug"`)
	assert.Contains(t, s, `hostname="engine-host"`)
	assert.Contains(t, s, `proxied="true"`)
	assert.NotContains(t, s, "urn:debugger_protocol_v1:init")

	key, err := IdeKey(payload)
	require.NoError(t, err)
	assert.Equal(t, "alice", key)
}
