package identity

import (
	"net/http"
	"regexp"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolmesh/internal/domain"
)

var safeToken = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "empty uses fallback", raw: "", want: "_shared"},
		{name: "clean value kept", raw: "abc-123_X", want: "abc-123_X"},
		{name: "path traversal replaced", raw: "../../etc/passwd", want: "______etc_passwd"},
		{name: "header injection replaced", raw: "a\r\nX-Evil: 1", want: "a__X-Evil__1"},
		{name: "spaces and dots", raw: "conv 1.2", want: "conv_1_2"},
		{name: "non ascii letters replaced", raw: "café", want: "caf_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.raw))
		})
	}
}

func TestResolve_TruncatesBeforeMapping(t *testing.T) {
	raw := strings.Repeat("a", 60) + "/////" + strings.Repeat("b", 100)
	got := Resolve(raw)
	require.Len(t, got, domain.MaxConversationIDLength)
	assert.Equal(t, strings.Repeat("a", 60)+"____", got)
}

func TestResolve_AlwaysSafe(t *testing.T) {
	inputs := []string{
		"\x00\x01\x02",
		"%2e%2e%2f",
		"日本語の会話",
		strings.Repeat("🙂", 100),
		"normal",
		" ",
	}
	for _, raw := range inputs {
		got := Resolve(raw)
		assert.Regexp(t, safeToken, got, "input %q", raw)
		assert.LessOrEqual(t, len(got), domain.MaxConversationIDLength)
		assert.True(t, Valid(got))
	}
}

func TestFromHeader(t *testing.T) {
	header := http.Header{}
	assert.Equal(t, domain.DefaultConversationID, FromHeader(header))
	assert.Equal(t, domain.DefaultConversationID, FromHeader(nil))

	header.Set(domain.ConversationHeader, "abc123")
	assert.Equal(t, "abc123", FromHeader(header))
}

func TestFromRequest(t *testing.T) {
	assert.Equal(t, domain.DefaultConversationID, FromRequest(nil))
	assert.Equal(t, domain.DefaultConversationID, FromRequest(&mcp.CallToolRequest{}))

	header := http.Header{}
	header.Set(domain.ConversationHeader, "conv/1")
	req := &mcp.CallToolRequest{Extra: &mcp.RequestExtra{Header: header}}
	assert.Equal(t, "conv_1", FromRequest(req))
}

func TestValid(t *testing.T) {
	assert.False(t, Valid(""))
	assert.False(t, Valid("a/b"))
	assert.False(t, Valid(strings.Repeat("a", 65)))
	assert.True(t, Valid("_shared"))
}
