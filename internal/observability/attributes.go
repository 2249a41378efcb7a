// Package observability provides metrics and attribute helpers.
package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrRuntime = "runtime"
	attrResult  = "result"
	attrReason  = "reason"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	// Normalize paths with IDs to reduce cardinality
	// /v1/jobs/abc123 -> /v1/jobs/{jobId}
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	group := fmt.Sprintf("%dxx", code/100)
	return attribute.String(attrStatus, group)
}

func runtimeAttr(name string) attribute.KeyValue {
	return attribute.String(attrRuntime, name)
}

func resultAttr(status string) attribute.KeyValue {
	return attribute.String(attrResult, status)
}

func reasonAttr(reason string) attribute.KeyValue {
	return attribute.String(attrReason, reason)
}

// normalizePath replaces dynamic path segments with placeholders.
func normalizePath(path string) string {
	const prefix = "/v1/jobs/"
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		return "/v1/jobs/{jobId}"
	}
	return path
}
