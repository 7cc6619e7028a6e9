// Copyright (c) DBGP Tools Contributors.
// Licensed under the MIT License.

// Package dbgpxml implements the minimal XML attribute get/set the
// proxy needs on the init packet's root element: idekey (read),
// hostname (read/write), and proxied (write). A full XML parser isn't
// required, and the root tag must be preserved byte-for-byte except
// for the two touched attributes; a leading XML declaration is
// replaced by the canonical Prolog. That rules out
// encoding/xml's Decoder for the structural walk: it resolves
// namespace prefixes into StartElement.Name.Space, so a real
// xmlns-bearing DBGP init tag would come back out as
// "<urn:debugger_protocol_v1:init ...>" instead of "<init ...>".
// Instead this package locates the root tag's byte span directly and
// edits only the attribute values it needs to change, leaving every
// other byte - including any namespace prefixes or declarations -
// untouched.
package dbgpxml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/dbgp-tools/rendezvous-proxy/internal/dbgperr"
)

// Prolog is prepended to every packet this proxy serializes to an
// IDE.
const Prolog = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// attr is one attribute found on the root tag, recorded as byte
// offsets into the original payload so its raw (still-escaped) value
// can be copied through untouched when it isn't the one being edited.
type attr struct {
	name       string
	valueStart int
	valueEnd   int
}

// rootTag is the parsed span of the init packet's root start tag.
type rootTag struct {
	start, end int // [start, end) covers the whole "<...>" or "<.../>" tag
	closeAt    int // offset of '/' (self-closing) or '>' where new attrs are inserted
	attrs      []attr
}

func (t *rootTag) find(name string) *attr {
	for i := range t.attrs {
		if t.attrs[i].name == name {
			return &t.attrs[i]
		}
	}
	return nil
}

// IdeKey extracts the idekey attribute from the root element of an
// init packet payload. Returns a ProtocolError if the document cannot
// be parsed or idekey is missing or empty.
func IdeKey(payload []byte) (string, error) {
	tag, err := parseRootTag(payload)
	if err != nil {
		return "", err
	}

	a := tag.find("idekey")
	if a == nil {
		return "", fmt.Errorf("%w: init packet missing idekey attribute", dbgperr.ErrProtocol)
	}

	key := unescapeAttr(payload[a.valueStart:a.valueEnd])
	if key == "" {
		return "", fmt.Errorf("%w: init packet missing idekey attribute", dbgperr.ErrProtocol)
	}
	return key, nil
}

// edit is a single byte-range replacement applied to the root tag.
// start == end represents a pure insertion at that offset rather than
// a replacement.
type edit struct {
	start, end  int
	replacement []byte
}

// RewriteForIde rewrites the init packet's root element so that
// hostname is set (if it was empty or absent, to engineHostname) and
// proxied="true" is set. The output always starts with Prolog, which
// takes the place of any leading XML declaration; every other byte of
// the document - including
// the root tag's name, any namespace prefixes or declarations, and
// all child content - is copied through unchanged. The rewrite is
// idempotent: applying it twice with the same engineHostname produces
// byte-identical output.
func RewriteForIde(payload []byte, engineHostname string) ([]byte, error) {
	tag, err := parseRootTag(payload)
	if err != nil {
		return nil, err
	}

	var edits []edit

	if hostname := tag.find("hostname"); hostname != nil {
		if unescapeAttr(payload[hostname.valueStart:hostname.valueEnd]) == "" {
			edits = append(edits, edit{hostname.valueStart, hostname.valueEnd, escapeAttr(engineHostname)})
		}
	} else {
		edits = append(edits, edit{tag.closeAt, tag.closeAt, []byte(fmt.Sprintf(` hostname="%s"`, escapeAttr(engineHostname)))})
	}

	if proxied := tag.find("proxied"); proxied != nil {
		edits = append(edits, edit{proxied.valueStart, proxied.valueEnd, []byte("true")})
	} else {
		edits = append(edits, edit{tag.closeAt, tag.closeAt, []byte(` proxied="true"`)})
	}

	sort.SliceStable(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	var rewrittenTag bytes.Buffer
	cursor := tag.start
	for _, e := range edits {
		rewrittenTag.Write(payload[cursor:e.start])
		rewrittenTag.Write(e.replacement)
		cursor = e.end
	}
	rewrittenTag.Write(payload[cursor:tag.end])

	var out bytes.Buffer
	out.WriteString(Prolog)
	out.Write(stripLeadingDeclaration(payload[:tag.start]))
	out.Write(rewrittenTag.Bytes())
	out.Write(payload[tag.end:])
	return out.Bytes(), nil
}

// stripLeadingDeclaration removes a leading "<?xml ... ?>" declaration
// (and the whitespace immediately following it) from preamble, since
// RewriteForIde always emits its own canonical Prolog in its place.
// Anything else in preamble (e.g. a comment before the root element)
// is left untouched. Stripping the trailing whitespace along with the
// declaration, rather than leaving it behind, is what keeps the
// rewrite idempotent: otherwise a second rewrite would re-strip a
// declaration that was never there and leave behind the previous
// pass's trailing newline, growing the document by one byte per pass.
func stripLeadingDeclaration(preamble []byte) []byte {
	if !bytes.HasPrefix(preamble, []byte("<?xml")) {
		return preamble
	}
	idx := bytes.Index(preamble, []byte("?>"))
	if idx < 0 {
		return preamble
	}
	return bytes.TrimLeft(preamble[idx+2:], " \t\r\n")
}

// parseRootTag finds the init packet's root start tag and parses its
// attribute list. It does not validate the rest of the document.
func parseRootTag(payload []byte) (*rootTag, error) {
	start := findRootTagStart(payload)
	if start < 0 {
		return nil, fmt.Errorf("%w: init packet has no root element", dbgperr.ErrProtocol)
	}

	i := start + 1
	for i < len(payload) && !isTagNameEnd(payload[i]) {
		i++
	}
	if i >= len(payload) {
		return nil, fmt.Errorf("%w: unterminated root element tag", dbgperr.ErrProtocol)
	}

	tag := &rootTag{start: start}

	for {
		for i < len(payload) && isSpace(payload[i]) {
			i++
		}
		if i >= len(payload) {
			return nil, fmt.Errorf("%w: unterminated root element tag", dbgperr.ErrProtocol)
		}

		if payload[i] == '/' {
			if i+1 >= len(payload) || payload[i+1] != '>' {
				return nil, fmt.Errorf("%w: malformed root element tag", dbgperr.ErrProtocol)
			}
			tag.closeAt = i
			tag.end = i + 2
			break
		}
		if payload[i] == '>' {
			tag.closeAt = i
			tag.end = i + 1
			break
		}

		nameStart := i
		for i < len(payload) && payload[i] != '=' && !isSpace(payload[i]) {
			i++
		}
		name := string(payload[nameStart:i])

		for i < len(payload) && isSpace(payload[i]) {
			i++
		}
		if i >= len(payload) || payload[i] != '=' {
			return nil, fmt.Errorf("%w: malformed attribute %q in root element", dbgperr.ErrProtocol, name)
		}
		i++

		for i < len(payload) && isSpace(payload[i]) {
			i++
		}
		if i >= len(payload) || (payload[i] != '"' && payload[i] != '\'') {
			return nil, fmt.Errorf("%w: malformed attribute value for %q in root element", dbgperr.ErrProtocol, name)
		}
		quote := payload[i]
		i++

		valueStart := i
		for i < len(payload) && payload[i] != quote {
			i++
		}
		if i >= len(payload) {
			return nil, fmt.Errorf("%w: unterminated attribute value for %q in root element", dbgperr.ErrProtocol, name)
		}
		valueEnd := i
		i++

		tag.attrs = append(tag.attrs, attr{name: name, valueStart: valueStart, valueEnd: valueEnd})
	}

	return tag, nil
}

// findRootTagStart returns the offset of the '<' that begins the
// first real element, skipping any leading XML declaration, comments,
// or directives.
func findRootTagStart(payload []byte) int {
	i := 0
	for i < len(payload) {
		idx := bytes.IndexByte(payload[i:], '<')
		if idx < 0 {
			return -1
		}
		pos := i + idx

		if pos+1 >= len(payload) {
			return -1
		}

		switch {
		case payload[pos+1] == '?':
			end := bytes.Index(payload[pos:], []byte("?>"))
			if end < 0 {
				return -1
			}
			i = pos + end + 2

		case bytes.HasPrefix(payload[pos:], []byte("<!--")):
			end := bytes.Index(payload[pos:], []byte("-->"))
			if end < 0 {
				return -1
			}
			i = pos + end + 3

		case payload[pos+1] == '!':
			end := bytes.IndexByte(payload[pos:], '>')
			if end < 0 {
				return -1
			}
			i = pos + end + 1

		default:
			return pos
		}
	}
	return -1
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\r' || b == '\n' }

func isTagNameEnd(b byte) bool { return isSpace(b) || b == '/' || b == '>' }

// escapeAttr escapes s for use as an XML attribute value.
func escapeAttr(s string) []byte {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.Bytes()
}

// namedEntities covers the five predefined XML entities; numeric
// character references are not expected in the idekey/hostname
// attributes this package reads.
var namedEntities = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

func unescapeAttr(raw []byte) string {
	return namedEntities.Replace(string(raw))
}
