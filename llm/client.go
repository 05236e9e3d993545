// Package llm defines the completion backend used by the audit engine.
// Vendor implementations live in subpackages.
package llm

import (
	"context"
)

// Client issues one structured completion request
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request is a single completion call
type Request struct {
	Model       string
	Temperature float64
	System      string
	Prompt      string
	// JSON asks the backend for a JSON document; Schema narrows its shape when set.
	JSON   bool
	Schema *Schema
}

// Response is the raw completion text plus accounting
type Response struct {
	Content      string
	Model        string
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// SchemaType enumerates JSON schema node types
type SchemaType string

const (
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
	TypeArray   SchemaType = "array"
	TypeObject  SchemaType = "object"
)

// Schema is a vendor-neutral subset of JSON schema used as a response hint
type Schema struct {
	Type        SchemaType         `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Nullable    bool               `json:"nullable,omitempty"`
}

// StringArraySchema is the schema of a plain list of strings
func StringArraySchema(description string) *Schema {
	return &Schema{
		Type:        TypeArray,
		Description: description,
		Items:       &Schema{Type: TypeString},
	}
}
