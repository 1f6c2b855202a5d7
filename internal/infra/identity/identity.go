// Package identity derives conversation identities from inbound request metadata.
package identity

import (
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"toolmesh/internal/domain"
)

// Resolve sanitizes a raw conversation identifier into a path and header safe token.
// Empty input yields domain.DefaultConversationID.
func Resolve(raw string) string {
	if raw == "" {
		return domain.DefaultConversationID
	}
	runes := []rune(raw)
	if len(runes) > domain.MaxConversationIDLength {
		runes = runes[:domain.MaxConversationIDLength]
	}
	var b strings.Builder
	b.Grow(len(runes))
	for _, r := range runes {
		if allowed(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

// Valid reports whether value is already a sanitized identity.
func Valid(value string) bool {
	if value == "" || len(value) > domain.MaxConversationIDLength {
		return false
	}
	for _, r := range value {
		if !allowed(r) {
			return false
		}
	}
	return true
}

// FromHeader resolves the identity carried by the conversation header.
func FromHeader(header http.Header) string {
	if header == nil {
		return domain.DefaultConversationID
	}
	return Resolve(header.Get(domain.ConversationHeader))
}

// FromRequest resolves the identity of an inbound MCP tool call.
func FromRequest(req *mcp.CallToolRequest) (id string) {
	id = domain.DefaultConversationID
	defer func() {
		if recover() != nil {
			id = domain.DefaultConversationID
		}
	}()
	if req == nil || req.Extra == nil {
		return id
	}
	return FromHeader(req.Extra.Header)
}

func allowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	default:
		return false
	}
}
