// Package tools implements the typed tool surface exposed over MCP: graph
// queries, analysis, time travel, governor workflow and operational
// triggers. Every tool accepts a JSON document and returns the uniform
// success/message/data envelope.
package tools

import (
	"context"
	"encoding/json"
)

// Result is the uniform tool envelope.
type Result struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OK builds a success envelope.
func OK(message string, data interface{}) *Result {
	return &Result{Success: true, Message: message, Data: data}
}

// Fail builds a failure envelope carrying optional supporting data.
func Fail(errMsg string, data interface{}) *Result {
	return &Result{Success: false, Error: errMsg, Data: data}
}

// Tool is one callable unit. Execute errors are transport-level failures;
// domain failures come back as a Fail envelope.
type Tool interface {
	Execute(ctx context.Context, input json.RawMessage) (*Result, error)
}
