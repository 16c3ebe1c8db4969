package auth

import (
	"net/http"
	"strings"
)

const headerWebSocketProtocol = "Sec-WebSocket-Protocol"

// ExtractCredential reads the bearer token from the configured header or,
// for browser clients that cannot set headers, from a Sec-WebSocket-Protocol
// entry carrying the configured prefix.
func (g *Gate) ExtractCredential(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(g.header)); v != "" {
		scheme, token, found := strings.Cut(v, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		if !strings.EqualFold(g.header, "Authorization") {
			// custom headers carry the bare token
			return v
		}
	}

	_, token := g.credentialSubprotocol(r)
	return token
}

// CredentialSubprotocol returns the offered Sec-WebSocket-Protocol entry
// that carries a credential, or "" when there is none. Browsers abort the
// handshake unless the server selects one of the offered entries, so the
// transport echoes this one when the client did not also offer "mcp".
func (g *Gate) CredentialSubprotocol(r *http.Request) string {
	proto, _ := g.credentialSubprotocol(r)
	return proto
}

func (g *Gate) credentialSubprotocol(r *http.Request) (proto, token string) {
	if g.subprotocolPrefix == "" {
		return "", ""
	}
	for _, line := range r.Header.Values(headerWebSocketProtocol) {
		for _, p := range strings.Split(line, ",") {
			p = strings.TrimSpace(p)
			if tok, ok := strings.CutPrefix(p, g.subprotocolPrefix); ok && tok != "" {
				return p, tok
			}
		}
	}
	return "", ""
}
