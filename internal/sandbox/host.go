package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orgrosua/yabe-siul/internal/infrastructure/monitoring"
)

// Handle is one live sandbox. It stays valid until released or replaced.
type Handle struct {
	ID        string
	Kind      Kind
	Version   string
	CreatedAt time.Time

	rt          *runtime
	ready       chan struct{}
	readyOnce   sync.Once
	err         error
	released    chan struct{}
	releaseOnce sync.Once
}

func (h *Handle) markReady(err error) {
	h.readyOnce.Do(func() {
		h.err = err
		close(h.ready)
	})
}

func (h *Handle) isReady() bool {
	select {
	case <-h.ready:
		return h.err == nil
	default:
		return false
	}
}

// Released reports whether the handle's sandbox has been destroyed.
func (h *Handle) Released() bool {
	select {
	case <-h.released:
		return true
	default:
		return false
	}
}

func (h *Handle) destroy() {
	h.releaseOnce.Do(func() {
		close(h.released)
		h.rt.close()
	})
}

// Host owns at most one sandbox per Kind and brokers messages to them.
type Host struct {
	opts    Options
	logger  *zap.Logger
	metrics *monitoring.Metrics
	bus     *bus

	mu      sync.Mutex
	handles map[Kind]*Handle
	closed  bool
}

// NewHost creates an empty host. metrics may be nil.
func NewHost(opts Options, logger *zap.Logger, metrics *monitoring.Metrics) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		opts:    opts,
		logger:  logger.Named("sandbox"),
		metrics: metrics,
		bus:     newBus(),
		handles: make(map[Kind]*Handle),
	}
}

// Acquire returns the ready sandbox for kind, creating it from payload when
// none exists. forceRecreate destroys the current one first. Concurrent
// callers share a single sandbox and wait on the same readiness signal.
func (h *Host) Acquire(ctx context.Context, kind Kind, payload Payload, forceRecreate bool) (*Handle, error) {
	if err := payload.validate(kind); err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHostClosed
	}

	if forceRecreate {
		if old := h.handles[kind]; old != nil {
			delete(h.handles, kind)
			old.destroy()
			h.logger.Info("sandbox destroyed for recreation", zap.String("kind", string(kind)), zap.String("sandbox_id", old.ID))
		}
	}

	handle, ok := h.handles[kind]
	created := false
	if !ok {
		var err error
		handle, err = h.create(kind, payload)
		if err != nil {
			h.mu.Unlock()
			return nil, err
		}
		h.handles[kind] = handle
		created = true
	}
	h.mu.Unlock()

	h.metrics.RecordSandboxAcquire(string(kind), created)

	if err := h.awaitReady(ctx, handle); err != nil {
		if errors.Is(err, ErrTimeout) || errors.Is(err, ErrBootstrap) {
			h.drop(handle)
		}
		return nil, err
	}
	return handle, nil
}

func (h *Host) create(kind Kind, payload Payload) (*Handle, error) {
	document, err := payload.render()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBootstrap, err)
	}

	handle := &Handle{
		ID:        uuid.NewString(),
		Kind:      kind,
		Version:   payload.Version,
		CreatedAt: time.Now(),
		ready:     make(chan struct{}),
		released:  make(chan struct{}),
	}
	logger := h.logger.With(zap.String("kind", string(kind)), zap.String("sandbox_id", handle.ID))
	handle.rt = newRuntime(handle.ID, kind, payload, h.bus, h.opts.Loader, logger)

	readyCh, cancel := h.bus.once(handle.ID, MatchType(TypeReady))
	go func() {
		defer cancel()
		select {
		case <-readyCh:
			handle.markReady(nil)
			logger.Info("sandbox ready", zap.Duration("elapsed", time.Since(handle.CreatedAt)))
		case <-handle.ready:
		case <-handle.released:
		}
	}()

	handle.rt.start(document, func(err error) {
		logger.Error("sandbox bootstrap failed", zap.Error(err))
		handle.markReady(fmt.Errorf("%w: %s: %v", ErrBootstrap, kind, err))
	})

	logger.Info("sandbox created")
	return handle, nil
}

func (h *Host) awaitReady(ctx context.Context, handle *Handle) error {
	var timeout <-chan time.Time
	if h.opts.ReadyTimeout > 0 {
		timer := time.NewTimer(h.opts.ReadyTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-handle.ready:
		return handle.err
	case <-handle.released:
		return ErrReleased
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return fmt.Errorf("%w: %s sandbox not ready after %s", ErrTimeout, handle.Kind, h.opts.ReadyTimeout)
	}
}

// Release destroys the sandbox for kind, if any.
func (h *Host) Release(kind Kind) {
	h.mu.Lock()
	handle := h.handles[kind]
	delete(h.handles, kind)
	h.mu.Unlock()

	if handle != nil {
		handle.destroy()
		h.logger.Info("sandbox released", zap.String("kind", string(kind)), zap.String("sandbox_id", handle.ID))
	}
}

// drop destroys handle and forgets it if it is still the current one.
func (h *Host) drop(handle *Handle) {
	h.mu.Lock()
	if h.handles[handle.Kind] == handle {
		delete(h.handles, handle.Kind)
	}
	h.mu.Unlock()
	handle.destroy()
}

// State reports the lifecycle state for kind.
func (h *Host) State(kind Kind) State {
	h.mu.Lock()
	handle := h.handles[kind]
	h.mu.Unlock()

	switch {
	case handle == nil:
		return StateUninitialized
	case handle.isReady():
		return StateReady
	default:
		return StateLoading
	}
}

// Request posts message into the sandbox and waits for the first envelope
// from that sandbox accepted by match. A nil match accepts anything. A
// request that times out destroys the sandbox, since its loop may be stuck.
func (h *Host) Request(ctx context.Context, handle *Handle, message interface{}, match Match) (Envelope, error) {
	if handle == nil {
		return Envelope{}, fmt.Errorf("%w: nil handle", ErrMissingParameter)
	}
	if handle.Released() {
		return Envelope{}, ErrReleased
	}
	if err := h.awaitReady(ctx, handle); err != nil {
		return Envelope{}, err
	}

	kind := string(handle.Kind)
	respCh, cancel := h.bus.once(handle.ID, func(e Envelope) bool {
		return e.Type() == typeUncaught || match == nil || match(e)
	})
	defer cancel()

	if err := handle.rt.post(message); err != nil {
		h.metrics.RecordSandboxRequest(kind, "error")
		return Envelope{}, err
	}

	var timeout <-chan time.Time
	if h.opts.RequestTimeout > 0 {
		timer := time.NewTimer(h.opts.RequestTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case env := <-respCh:
		if env.Type() == typeUncaught {
			h.metrics.RecordSandboxRequest(kind, "error")
			msg, _ := env.Fields()["message"].(string)
			return Envelope{}, fmt.Errorf("sandbox script error: %s", msg)
		}
		h.metrics.RecordSandboxRequest(kind, "ok")
		return env, nil
	case <-handle.released:
		h.metrics.RecordSandboxRequest(kind, "released")
		return Envelope{}, ErrReleased
	case <-ctx.Done():
		h.metrics.RecordSandboxRequest(kind, "cancelled")
		return Envelope{}, ctx.Err()
	case <-timeout:
		h.metrics.RecordSandboxRequest(kind, "timeout")
		h.logger.Warn("sandbox request timed out, destroying sandbox",
			zap.String("kind", kind), zap.String("sandbox_id", handle.ID))
		h.drop(handle)
		return Envelope{}, fmt.Errorf("%w: no response from %s sandbox after %s", ErrTimeout, kind, h.opts.RequestTimeout)
	}
}

// Close destroys every sandbox. Later Acquire calls fail with ErrHostClosed.
func (h *Host) Close() error {
	h.mu.Lock()
	h.closed = true
	handles := h.handles
	h.handles = make(map[Kind]*Handle)
	h.mu.Unlock()

	for _, handle := range handles {
		handle.destroy()
	}
	return nil
}
