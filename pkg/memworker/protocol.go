package memworker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/harun/mneme/pkg/memory"
)

// Kind distinguishes the three frame types.
type Kind string

const (
	KindRequest      Kind = "request"
	KindResponse     Kind = "response"
	KindNotification Kind = "notification"
)

// Request methods
const (
	MethodSearch = "search"
	MethodSync   = "sync"
	MethodStatus = "status"
	MethodClose  = "close"
)

// Notification events
const (
	EventReady = "ready"
	EventDirty = "dirty"
	EventError = "error"
)

// maxFrameSize bounds a single NDJSON line.
const maxFrameSize = 16 << 20

// Message is one frame on the wire.
type Message struct {
	Kind   Kind            `json:"kind"`
	ID     uint64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *WireError      `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// SearchParams are the params of a search request.
type SearchParams struct {
	Query      string   `json:"query"`
	MaxResults int      `json:"max_results,omitempty"`
	MinScore   *float64 `json:"min_score,omitempty"`
	Sources    []string `json:"sources,omitempty"`
}

// SyncParams are the params of a sync request.
type SyncParams struct {
	Reason string `json:"reason,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// ReadyEvent is pushed once the backend is open.
type ReadyEvent struct {
	Identity string `json:"identity"`
	Dirty    bool   `json:"dirty"`
}

// DirtyEvent is pushed whenever the backend's dirty flag flips.
type DirtyEvent struct {
	Dirty bool `json:"dirty"`
}

// ErrorEvent reports a failure that ends the worker, such as a backend that
// could not be opened.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	CodeUnavailable    = "unavailable"
	CodeClosed         = "closed"
	CodeInvalidRequest = "invalid_request"
	CodeInternal       = "internal"
)

// WireError is an error carried in a response.
type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *WireError) Error() string {
	return e.Message
}

// toWireError classifies err so the proxy can rebuild a matching error.
func toWireError(err error) *WireError {
	if err == nil {
		return nil
	}
	var ue *memory.UnavailableError
	switch {
	case errors.As(err, &ue):
		msg := ue.Reason
		if ue.Err != nil {
			msg = fmt.Sprintf("%s: %v", ue.Reason, ue.Err)
		}
		return &WireError{Code: CodeUnavailable, Message: msg}
	case errors.Is(err, memory.ErrManagerClosed):
		return &WireError{Code: CodeClosed, Message: err.Error()}
	}
	var we *WireError
	if errors.As(err, &we) {
		return we
	}
	return &WireError{Code: CodeInternal, Message: err.Error()}
}

// err converts a received WireError back into a Go error.
func (e *WireError) err() error {
	if e == nil {
		return nil
	}
	switch e.Code {
	case CodeUnavailable:
		return &memory.UnavailableError{Reason: e.Message}
	case CodeClosed:
		return memory.ErrManagerClosed
	}
	return e
}

func invalidRequest(format string, args ...any) *WireError {
	return &WireError{Code: CodeInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// encoder writes whole frames; concurrent writers never interleave.
type encoder struct {
	mu sync.Mutex
	w  io.Writer
}

func newEncoder(w io.Writer) *encoder {
	return &encoder{w: w}
}

func (e *encoder) write(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(data)
	return err
}

func (e *encoder) notify(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event, err)
	}
	return e.write(Message{Kind: KindNotification, Event: event, Data: raw})
}
