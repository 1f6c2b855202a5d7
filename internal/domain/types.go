package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// RemoteEndpoint identifies one tool server reachable over MCP.
type RemoteEndpoint struct {
	// Name is the logical name of the endpoint (chart, pdf, image...).
	Name string `json:"name"`
	// BaseURL is the server root; the MCP endpoint lives under MCPPath.
	BaseURL string `json:"baseURL"`
	// MCPPath overrides DefaultMCPPath when set.
	MCPPath string `json:"mcpPath,omitempty"`
	// Include restricts exposed operations to these names when non-empty.
	Include []string `json:"include,omitempty"`
	// Exclude hides these operation names.
	Exclude []string `json:"exclude,omitempty"`
	// Disabled endpoints are skipped by the hub.
	Disabled bool `json:"disabled,omitempty"`
}

// OperationDescriptor describes one operation advertised by a remote endpoint.
type OperationDescriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema is the object schema of an operation's arguments.
type InputSchema struct {
	Properties map[string]PropertySchema `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
	// Raw keeps the schema exactly as advertised for full validation.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// PropertySchema is the subset of a property schema the wrappers surface.
type PropertySchema struct {
	Type        string          `json:"type,omitempty"`
	Description string          `json:"description,omitempty"`
	Enum        []any           `json:"enum,omitempty"`
	Default     json.RawMessage `json:"default,omitempty"`
}

// ArtifactKind labels the producer of an artifact.
type ArtifactKind string

const (
	// ArtifactChart is a rendered chart image.
	ArtifactChart ArtifactKind = "chart"
	// ArtifactPDF is a typeset PDF document.
	ArtifactPDF ArtifactKind = "pdf"
	// ArtifactImage is a generated image.
	ArtifactImage ArtifactKind = "image"
)

// ArtifactRecord is the sidecar metadata stored next to a generated file.
type ArtifactRecord struct {
	LocalPath      string         `json:"local_path"`
	Filename       string         `json:"filename"`
	ConversationID string         `json:"conversation_id"`
	Kind           ArtifactKind   `json:"kind"`
	InputHash      string         `json:"input_hash"`
	Params         map[string]any `json:"params,omitempty"`
	SizeBytes      int64          `json:"size_bytes"`
	CreatedAt      time.Time      `json:"created_at"`
}

// CapabilitySnapshot is the last known operation set of an endpoint.
type CapabilitySnapshot struct {
	Endpoint     string                `json:"endpoint"`
	ETag         string                `json:"etag"`
	DiscoveredAt time.Time             `json:"discoveredAt"`
	Operations   []OperationDescriptor `json:"operations"`
}

var ErrConnectivity = errors.New("endpoint unreachable")
var ErrDiscovery = errors.New("capability discovery failed")
var ErrInvocation = errors.New("remote invocation failed")
var ErrTimeout = errors.New("deadline exceeded")
var ErrValidation = errors.New("invalid arguments")
var ErrStorageInconsistency = errors.New("artifact storage inconsistency")
var ErrToolNotFound = errors.New("tool not found")
var ErrEndpointNotFound = errors.New("endpoint not found")
var ErrPathOutsideRoot = errors.New("path outside storage root")
