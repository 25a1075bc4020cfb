package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const memorySearchSchema = `{
	"type": "object",
	"properties": {
		"query": {"type": "string", "minLength": 1},
		"max_results": {"type": "integer", "minimum": 1, "maximum": 100},
		"min_score": {"type": "number", "minimum": 0, "maximum": 1}
	},
	"required": ["query"],
	"additionalProperties": false
}`

const memoryGetSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string", "minLength": 1},
		"from": {"type": "integer", "minimum": 1},
		"lines": {"type": "integer", "minimum": 1}
	},
	"required": ["path"],
	"additionalProperties": false
}`

// IndexSource resolves the index a tool call runs against. An
// *UnavailableError means memory is switched off for the caller.
type IndexSource func(ctx context.Context) (Index, error)

// MemorySearchParams defines parameters for memory_search tool
type MemorySearchParams struct {
	Query      string   `json:"query"`
	MaxResults int      `json:"max_results,omitempty"`
	MinScore   *float64 `json:"min_score,omitempty"`
}

// MemorySearchResult represents the result of a memory search. Disabled is
// set, with Error, when memory is unavailable.
type MemorySearchResult struct {
	Results  []SearchResult `json:"results"`
	Query    string         `json:"query,omitempty"`
	Count    int            `json:"count"`
	Disabled bool           `json:"disabled,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// MemoryGetParams defines parameters for memory_get tool
type MemoryGetParams struct {
	Path  string `json:"path"`
	From  int    `json:"from,omitempty"`
	Lines int    `json:"lines,omitempty"`
}

// MemoryGetResult is a file slice, or a disabled marker.
type MemoryGetResult struct {
	Path     string `json:"path,omitempty"`
	Text     string `json:"text"`
	Disabled bool   `json:"disabled,omitempty"`
	Error    string `json:"error,omitempty"`
}

// decodeParams validates raw against schema and decodes it into out.
func decodeParams(schema string, raw map[string]any, out any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	res, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewGoLoader(raw))
	if err != nil {
		return fmt.Errorf("failed to validate params: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid params: %s", strings.Join(msgs, "; "))
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}
	return nil
}

func unavailable(err error) (string, bool) {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return ue.Error(), true
	}
	return "", false
}

// MemorySearch searches memory notes by query
func MemorySearch(ctx context.Context, source IndexSource, raw map[string]any) (*MemorySearchResult, error) {
	var params MemorySearchParams
	if err := decodeParams(memorySearchSchema, raw, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	idx, err := source(ctx)
	if msg, ok := unavailable(err); ok {
		return &MemorySearchResult{Results: []SearchResult{}, Disabled: true, Error: msg}, nil
	}
	if err != nil {
		return nil, err
	}

	results, err := idx.Search(ctx, params.Query, SearchOptions{
		MaxResults: params.MaxResults,
		MinScore:   params.MinScore,
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	return &MemorySearchResult{
		Results: results,
		Query:   params.Query,
		Count:   len(results),
	}, nil
}

// MemoryGet reads lines from a memory note
func MemoryGet(ctx context.Context, source IndexSource, raw map[string]any) (*MemoryGetResult, error) {
	var params MemoryGetParams
	if err := decodeParams(memoryGetSchema, raw, &params); err != nil {
		return nil, err
	}

	idx, err := source(ctx)
	if msg, ok := unavailable(err); ok {
		return &MemoryGetResult{Path: params.Path, Disabled: true, Error: msg}, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := idx.ReadFile(ctx, params.Path, params.From, params.Lines)
	if err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}
	return &MemoryGetResult{Path: res.Path, Text: res.Text}, nil
}
