package memworker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/harun/mneme/pkg/memory"
)

// Backend is the index a worker serves. *memory.Manager implements it.
type Backend interface {
	memory.Index
	OnDirtyChange(fn func(dirty bool))
}

// BackendFactory opens the backend for identity inside the worker.
type BackendFactory func(ctx context.Context, identity string) (Backend, error)

// ServeOptions configures Serve.
type ServeOptions struct {
	Identity string
	Factory  BackendFactory
	Logger   zerolog.Logger
}

type server struct {
	enc     *encoder
	backend Backend
	logger  zerolog.Logger
}

// Serve opens one backend and answers requests read from in until in is
// exhausted or a close request arrives. Requests are handled concurrently;
// frames written to out never interleave. The backend is closed on return.
func Serve(ctx context.Context, in io.Reader, out io.Writer, opts ServeOptions) error {
	if opts.Factory == nil {
		return errors.New("backend factory is required")
	}
	s := &server{
		enc:    newEncoder(out),
		logger: opts.Logger.With().Str("component", "memory-worker").Str("identity", opts.Identity).Logger(),
	}

	backend, err := opts.Factory(ctx, opts.Identity)
	if err != nil {
		we := toWireError(err)
		if nerr := s.enc.notify(EventError, ErrorEvent{Code: we.Code, Message: we.Message}); nerr != nil {
			s.logger.Debug().Err(nerr).Msg("Failed to report startup error")
		}
		return fmt.Errorf("failed to open index: %w", err)
	}
	s.backend = backend
	closed := false
	defer func() {
		if closed {
			return
		}
		if err := backend.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close index")
		}
	}()

	backend.OnDirtyChange(func(dirty bool) {
		if err := s.enc.notify(EventDirty, DirtyEvent{Dirty: dirty}); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to push dirty notification")
		}
	})
	if err := s.enc.notify(EventReady, ReadyEvent{Identity: opts.Identity, Dirty: backend.IsDirty()}); err != nil {
		return fmt.Errorf("failed to announce ready: %w", err)
	}
	s.logger.Info().Msg("Memory worker ready")

	var wg sync.WaitGroup
	defer wg.Wait()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.logger.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}
		if msg.Kind != KindRequest {
			s.logger.Debug().Str("kind", string(msg.Kind)).Msg("Ignoring non-request frame")
			continue
		}

		if msg.Method == MethodClose {
			closed = true
			s.respond(msg.ID, nil, backend.Close())
			return nil
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.dispatch(ctx, msg)
			s.respond(msg.ID, result, err)
		}()
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to read requests: %w", err)
	}
	return nil
}

func (s *server) dispatch(ctx context.Context, msg Message) (any, error) {
	switch msg.Method {
	case MethodSearch:
		var p SearchParams
		if err := decodeParams(msg.Params, &p); err != nil {
			return nil, err
		}
		return s.backend.Search(ctx, p.Query, memory.SearchOptions{
			MaxResults: p.MaxResults,
			MinScore:   p.MinScore,
			Sources:    p.Sources,
		})
	case MethodSync:
		var p SyncParams
		if err := decodeParams(msg.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.backend.Sync(ctx, memory.SyncOptions{Reason: p.Reason, Force: p.Force})
	case MethodStatus:
		return s.backend.Status(ctx)
	default:
		return nil, invalidRequest("unknown method: %q", msg.Method)
	}
}

func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return invalidRequest("invalid params: %v", err)
	}
	return nil
}

func (s *server) respond(id uint64, result any, err error) {
	msg := Message{Kind: KindResponse, ID: id, Error: toWireError(err)}
	if err == nil && result != nil {
		raw, merr := json.Marshal(result)
		if merr != nil {
			msg.Error = &WireError{Code: CodeInternal, Message: merr.Error()}
		} else {
			msg.Result = raw
		}
	}
	if werr := s.enc.write(msg); werr != nil {
		s.logger.Debug().Err(werr).Uint64("id", id).Msg("Failed to write response")
	}
}
