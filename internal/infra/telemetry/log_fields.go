package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent          = "event"
	FieldEndpoint       = "endpoint"
	FieldTool           = "tool"
	FieldConversationID = "conversation_id"
	FieldETag           = "etag"
	FieldDurationMs     = "duration_ms"
	FieldRequestID      = "request_id"
)

const (
	EventDiscoveryStart   = "discovery_start"
	EventDiscoverySuccess = "discovery_success"
	EventDiscoveryFailure = "discovery_failure"
	EventCallFailure      = "call_failure"
	EventProbeFailure     = "probe_failure"
	EventArtifactSaved    = "artifact_saved"
	EventHTTPRequest      = "http_request"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func EndpointField(endpoint string) zap.Field {
	return zap.String(FieldEndpoint, endpoint)
}

func ToolField(tool string) zap.Field {
	return zap.String(FieldTool, tool)
}

func ConversationField(conversationID string) zap.Field {
	return zap.String(FieldConversationID, conversationID)
}

func ETagField(etag string) zap.Field {
	return zap.String(FieldETag, etag)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}

func RequestIDField(value string) zap.Field {
	return zap.String(FieldRequestID, value)
}
