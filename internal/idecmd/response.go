// Copyright (c) DBGP Tools Contributors.
// Licensed under the MIT License.

package idecmd

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/dbgp-tools/rendezvous-proxy/internal/dbgpxml"
)

func proxyinitSuccess(idekey, engineHost string, enginePort uint16) string {
	return fmt.Sprintf(
		dbgpxml.Prolog+`<proxyinit success="1" idekey="%s" address="%s" port="%d"/>`,
		escapeXMLAttr(idekey), escapeXMLAttr(engineHost), enginePort,
	)
}

func proxystopSuccess(idekey string) string {
	return fmt.Sprintf(dbgpxml.Prolog+`<proxystop success="1" idekey="%s"/>`, escapeXMLAttr(idekey))
}

func escapeXMLAttr(s string) string {
	var escaped bytes.Buffer
	xml.EscapeText(&escaped, []byte(s))
	return escaped.String()
}

// commandFailure renders the shared failure envelope for either
// command.
func commandFailure(cmdName, message string) string {
	return fmt.Sprintf(
		dbgpxml.Prolog+`<%s success="0"><error id="0"><message>%s</message></error></%s>`,
		cmdName, escapeXMLAttr(message), cmdName,
	)
}
