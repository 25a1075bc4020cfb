package memory

import (
	"context"
	"encoding/json"
	"fmt"
)

// ToolDefinition describes a host tool. Parameters is a JSON Schema.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Handler     func(ctx context.Context, params map[string]any) (any, error)
}

// ToolRegistrar is the host's tool registration surface.
type ToolRegistrar interface {
	RegisterTool(def ToolDefinition) error
}

// MemoryTools returns the memory_search and memory_get tool definitions.
func MemoryTools(source IndexSource) []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "memory_search",
			Description: "Search long-term memory notes (MEMORY.md and memory/*.md) by keyword and meaning",
			Parameters:  json.RawMessage(memorySearchSchema),
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return MemorySearch(ctx, source, params)
			},
		},
		{
			Name:        "memory_get",
			Description: "Read lines from a memory note returned by memory_search",
			Parameters:  json.RawMessage(memoryGetSchema),
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				return MemoryGet(ctx, source, params)
			},
		},
	}
}

// RegisterMemoryTools registers all memory tools with the host
func RegisterMemoryTools(r ToolRegistrar, source IndexSource) error {
	for _, tool := range MemoryTools(source) {
		if err := r.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

// RegistrySource resolves tools against identity's index in reg. A disabled
// configuration surfaces as an *UnavailableError.
func RegistrySource(reg *Registry, identity string) IndexSource {
	return func(ctx context.Context) (Index, error) {
		return reg.Get(ctx, identity)
	}
}
