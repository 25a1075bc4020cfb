package memworker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/mneme/internal/observability"
	"github.com/harun/mneme/internal/tracing"
	"github.com/harun/mneme/pkg/memory"
)

var (
	// ErrWorkerExited is returned for calls the worker can no longer answer.
	// The proxy must be rebuilt; it does not restart the worker.
	ErrWorkerExited = errors.New("memory worker exited")

	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("memory worker proxy is closed")
)

const defaultCloseTimeout = 5 * time.Second

// ProxyOptions configures NewProxy.
type ProxyOptions struct {
	Identity string
	// Root is the workspace root used by ReadFile, which never reaches the
	// worker.
	Root         string
	CloseTimeout time.Duration
	Logger       zerolog.Logger
}

type reply struct {
	result json.RawMessage
	err    error
}

// Proxy is a memory.Index backed by a worker.
type Proxy struct {
	identity     string
	root         string
	instanceID   string
	closeTimeout time.Duration
	logger       zerolog.Logger
	proc         Process
	enc          *encoder

	mu        sync.Mutex
	nextID    uint64
	pending   map[uint64]chan reply
	queue     []Message
	ready     bool
	closing   bool
	exitErr   error
	workerErr *ErrorEvent

	dirty     atomic.Bool
	exited    chan struct{}
	closeOnce sync.Once
}

// NewProxy launches a worker for opts.Identity. It returns once the worker
// is started; calls made before the worker reports ready are queued.
func NewProxy(ctx context.Context, launcher Launcher, opts ProxyOptions) (*Proxy, error) {
	if opts.Identity == "" {
		return nil, errors.New("identity is required")
	}
	instanceID, err := gonanoid.New(10)
	if err != nil {
		return nil, fmt.Errorf("failed to generate instance id: %w", err)
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = defaultCloseTimeout
	}

	proc, err := launcher.Launch(ctx, opts.Identity)
	if err != nil {
		return nil, fmt.Errorf("failed to launch memory worker: %w", err)
	}

	p := &Proxy{
		identity:     opts.Identity,
		root:         opts.Root,
		instanceID:   instanceID,
		closeTimeout: opts.CloseTimeout,
		logger: opts.Logger.With().
			Str("component", "memory-proxy").
			Str("identity", opts.Identity).
			Str("instance", instanceID).
			Logger(),
		proc:    proc,
		enc:     newEncoder(proc.Stdin()),
		pending: make(map[uint64]chan reply),
		exited:  make(chan struct{}),
	}
	p.dirty.Store(true)

	go p.run()
	p.logger.Debug().Msg("Memory worker launched")
	return p, nil
}

// run reads frames until the worker's output ends, then fails the proxy.
func (p *Proxy) run() {
	scanner := bufio.NewScanner(p.proc.Stdout())
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			p.logger.Warn().Err(err).Msg("Dropping malformed frame from worker")
			continue
		}
		p.handle(msg)
	}
	if err := scanner.Err(); err != nil {
		p.logger.Debug().Err(err).Msg("Worker output closed")
	}
	p.fail(p.proc.Wait())
}

func (p *Proxy) handle(msg Message) {
	switch msg.Kind {
	case KindResponse:
		p.mu.Lock()
		ch, ok := p.pending[msg.ID]
		delete(p.pending, msg.ID)
		n := len(p.pending)
		p.mu.Unlock()
		if !ok {
			p.logger.Debug().Uint64("id", msg.ID).Msg("Response for unknown call")
			return
		}
		observability.SetWorkerInflight(p.identity, n)
		ch <- reply{result: msg.Result, err: msg.Error.err()}

	case KindNotification:
		switch msg.Event {
		case EventReady:
			var ev ReadyEvent
			if err := json.Unmarshal(msg.Data, &ev); err == nil {
				p.dirty.Store(ev.Dirty)
			}
			p.mu.Lock()
			p.ready = true
			queued := p.queue
			p.queue = nil
			p.mu.Unlock()

			for _, q := range queued {
				if err := p.enc.write(q); err != nil {
					p.resolve(q.ID, reply{err: fmt.Errorf("%w: %v", ErrWorkerExited, err)})
				}
			}
			p.logger.Info().Int("queued", len(queued)).Msg("Memory worker ready")

		case EventDirty:
			var ev DirtyEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				p.logger.Warn().Err(err).Msg("Malformed dirty notification")
				return
			}
			p.dirty.Store(ev.Dirty)

		case EventError:
			var ev ErrorEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				ev = ErrorEvent{Code: CodeInternal, Message: string(msg.Data)}
			}
			p.mu.Lock()
			p.workerErr = &ev
			p.mu.Unlock()
			p.logger.Error().Str("code", ev.Code).Str("error", ev.Message).Msg("Memory worker reported an error")

		default:
			p.logger.Debug().Str("event", msg.Event).Msg("Ignoring unknown notification")
		}

	default:
		p.logger.Debug().Str("kind", string(msg.Kind)).Msg("Ignoring unexpected frame")
	}
}

func (p *Proxy) resolve(id uint64, r reply) {
	p.mu.Lock()
	ch, ok := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()
	if ok {
		ch <- r
	}
}

// fail rejects every pending and queued call. It runs once, when the
// worker's output has ended.
func (p *Proxy) fail(cause error) {
	p.mu.Lock()
	var (
		err    error
		reason = "crashed"
	)
	switch {
	case p.closing:
		err = ErrClosed
		reason = "closed"
	case p.workerErr != nil && p.workerErr.Code == CodeUnavailable:
		err = &memory.UnavailableError{Reason: p.workerErr.Message, Err: ErrWorkerExited}
	case p.workerErr != nil:
		err = fmt.Errorf("%w: %s", ErrWorkerExited, p.workerErr.Message)
	case cause != nil:
		err = fmt.Errorf("%w: %v", ErrWorkerExited, cause)
	default:
		err = fmt.Errorf("%w unexpectedly", ErrWorkerExited)
	}
	p.exitErr = err
	pending := p.pending
	p.pending = make(map[uint64]chan reply)
	p.queue = nil
	p.mu.Unlock()

	for _, ch := range pending {
		ch <- reply{err: err}
	}
	observability.SetWorkerInflight(p.identity, 0)
	observability.RecordWorkerExit(p.identity, reason)

	if reason == "closed" {
		p.logger.Debug().Msg("Memory worker stopped")
	} else {
		p.logger.Error().Err(err).Int("rejected", len(pending)).Msg("Memory worker exited")
	}
	close(p.exited)
}

func (p *Proxy) forget(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, id)
	for i, q := range p.queue {
		if q.ID == id {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			break
		}
	}
}

func (p *Proxy) call(ctx context.Context, method string, params, out any) (err error) {
	ctx, span := tracing.StartSpan(ctx, "memworker.call",
		attribute.String("memworker.method", method),
		attribute.String("memory.identity", p.identity),
	)
	defer func() { tracing.EndSpan(span, err) }()

	var raw json.RawMessage
	if params != nil {
		if raw, err = json.Marshal(params); err != nil {
			return fmt.Errorf("failed to encode %s params: %w", method, err)
		}
	}

	ch := make(chan reply, 1)
	p.mu.Lock()
	if p.exitErr != nil {
		err := p.exitErr
		p.mu.Unlock()
		return err
	}
	if p.closing && method != MethodClose {
		p.mu.Unlock()
		return ErrClosed
	}
	p.nextID++
	msg := Message{Kind: KindRequest, ID: p.nextID, Method: method, Params: raw}
	p.pending[msg.ID] = ch
	ready := p.ready
	if !ready {
		p.queue = append(p.queue, msg)
	}
	n := len(p.pending)
	p.mu.Unlock()
	observability.SetWorkerInflight(p.identity, n)

	if ready {
		if err := p.enc.write(msg); err != nil {
			p.forget(msg.ID)
			return fmt.Errorf("%w: failed to send %s: %v", ErrWorkerExited, method, err)
		}
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		if out != nil && len(r.result) > 0 {
			if err := json.Unmarshal(r.result, out); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		p.forget(msg.ID)
		return ctx.Err()
	}
}

// Identity returns the partition the worker serves.
func (p *Proxy) Identity() string { return p.identity }

// InstanceID identifies this worker instance in logs.
func (p *Proxy) InstanceID() string { return p.instanceID }

// Search runs the query in the worker.
func (p *Proxy) Search(ctx context.Context, query string, opts memory.SearchOptions) ([]memory.SearchResult, error) {
	var results []memory.SearchResult
	err := p.call(ctx, MethodSearch, SearchParams{
		Query:      query,
		MaxResults: opts.MaxResults,
		MinScore:   opts.MinScore,
		Sources:    opts.Sources,
	}, &results)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []memory.SearchResult{}
	}
	return results, nil
}

// ReadFile reads the note directly; it does not need the index.
func (p *Proxy) ReadFile(_ context.Context, path string, from, lines int) (memory.ReadResult, error) {
	return memory.ReadMemoryFile(p.root, path, from, lines)
}

// Sync asks the worker to sync and waits for the pass to finish.
func (p *Proxy) Sync(ctx context.Context, opts memory.SyncOptions) error {
	return p.call(ctx, MethodSync, SyncParams{Reason: opts.Reason, Force: opts.Force}, nil)
}

// IsDirty answers from the last dirty notification without a round trip.
func (p *Proxy) IsDirty() bool { return p.dirty.Load() }

// Status fetches the worker's index status.
func (p *Proxy) Status(ctx context.Context) (memory.Status, error) {
	var st memory.Status
	if err := p.call(ctx, MethodStatus, nil, &st); err != nil {
		return memory.Status{}, err
	}
	return st, nil
}

// Exited is closed once the worker has gone away.
func (p *Proxy) Exited() <-chan struct{} { return p.exited }

// Close asks the worker to close within the close timeout and then
// terminates it whatever the answer. It always returns once the worker is
// gone.
func (p *Proxy) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closing = true
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), p.closeTimeout)
		err := p.call(ctx, MethodClose, nil, nil)
		cancel()
		if err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, ErrWorkerExited) {
			p.logger.Warn().Err(err).Msg("Memory worker did not acknowledge close, terminating")
		}

		if err := p.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Debug().Err(err).Msg("Failed to terminate memory worker")
		}
		<-p.exited
	})
	return nil
}

var _ memory.Index = (*Proxy)(nil)
