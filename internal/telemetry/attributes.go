// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by relay spans.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	StreamIDKey       = "relay.stream_id"
	StreamOwnerKey    = "relay.owner_id"
	StreamPlatformKey = "relay.platform"
	StreamTriggerKey  = "relay.trigger"

	ProcessPIDKey       = "process.pid"
	ProcessSessionKey   = "relay.session_id"
	ProcessExitClassKey = "relay.exit_class"
	ResumeOffsetKey     = "relay.resume_offset_s"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// StreamAttributes identifies a stream; empty values are omitted.
func StreamAttributes(streamID, ownerID, platform string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if streamID != "" {
		attrs = append(attrs, attribute.String(StreamIDKey, streamID))
	}
	if ownerID != "" {
		attrs = append(attrs, attribute.String(StreamOwnerKey, ownerID))
	}
	if platform != "" {
		attrs = append(attrs, attribute.String(StreamPlatformKey, platform))
	}
	return attrs
}

// ProcessAttributes describes a spawned encoder session.
func ProcessAttributes(pid int, sessionID string, resumeOffset float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(ProcessPIDKey, pid),
		attribute.String(ProcessSessionKey, sessionID),
		attribute.Float64(ResumeOffsetKey, resumeOffset),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
