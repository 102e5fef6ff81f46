// Package observability provides metrics, tracing, and logging utilities.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrBackend = "backend"
	attrSuccess = "success"
	attrKind    = "kind"
	attrMode    = "mode"
	attrOutcome = "outcome"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	// /v1/deployables/svc-a/targets -> /v1/deployables/{dt}/targets
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	group := fmt.Sprintf("%dxx", code/100)
	return attribute.String(attrStatus, group)
}

func backendAttr(backend string) attribute.KeyValue {
	return attribute.String(attrBackend, backend)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

func kindAttr(kind string) attribute.KeyValue {
	return attribute.String(attrKind, kind)
}

func modeAttr(mode string) attribute.KeyValue {
	return attribute.String(attrMode, mode)
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

// normalizePath replaces dynamic path segments with placeholders.
func normalizePath(path string) string {
	const prefix = "/v1/deployables/"
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok || rest == "" {
		return path
	}
	if _, tail, found := strings.Cut(rest, "/"); found {
		return prefix + "{dt}/" + tail
	}
	return prefix + "{dt}"
}

// Outcome classifies a batch by how many of its items failed.
func Outcome(total, failed int) string {
	switch {
	case total == 0:
		return "empty"
	case failed == 0:
		return "success"
	case failed == total:
		return "failure"
	default:
		return "partial"
	}
}
