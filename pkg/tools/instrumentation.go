package tools

import "go.opentelemetry.io/otel"

const scopeName = "github.com/teslashibe/go-live/pkg/tools"

var tracer = otel.Tracer(scopeName)
