// Package mount waits for a widget's external dependencies to show up and
// then mounts the widget into a container element.
//
// A mount polls on a fixed interval for at most MaxAttempts ticks. Each
// tick checks that the container exists and the Probe reports every
// capability present. The first tick that sees both stops the ticker, clears
// the container and renders the widget. Running out of attempts stops the
// ticker and replaces the container's content with TimeoutHTML, if the
// container exists at that moment. A render error replaces it with
// RenderErrorHTML. None of these outcomes are retried or returned to the
// caller of Start; they are logged and visible in the DOM.
package mount

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cdr.dev/slog"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"oss.terrastruct.com/muse/lib/background"
	"oss.terrastruct.com/muse/lib/log"
)

const (
	DefaultMaxAttempts = 20
	DefaultInterval    = 100 * time.Millisecond
)

const (
	RenderErrorHTML = `<p style="color: red; text-align: center;">Error rendering Excalidraw canvas.</p>`
	TimeoutHTML     = `<p style="color: red; text-align: center;">Failed to load Excalidraw. Please check your network connection and try again.</p>`
)

var (
	ErrRenderFailed      = errors.New("failed to render widget")
	ErrDependencyTimeout = errors.New("dependencies did not become available")
)

type State int

const (
	Polling State = iota
	Mounted
	RenderFailed
	TimedOut
	Canceled
)

func (s State) String() string {
	switch s {
	case Polling:
		return "polling"
	case Mounted:
		return "mounted"
	case RenderFailed:
		return "render-failed"
	case TimedOut:
		return "timed-out"
	case Canceled:
		return "canceled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) Terminal() bool {
	return s != Polling
}

// Probe reports whether every capability the widget needs is present.
type Probe interface {
	Ready(ctx context.Context) bool
}

type ProbeFunc func(ctx context.Context) bool

func (f ProbeFunc) Ready(ctx context.Context) bool {
	return f(ctx)
}

type Element interface {
	SetInnerHTML(html string) error
	Clear() error
}

type Document interface {
	// ElementByID returns nil if the element does not exist.
	ElementByID(id string) Element
}

type Widget interface {
	Render(ctx context.Context, el Element) error
}

type Opts struct {
	ContainerID string
	MaxAttempts int
	Interval    time.Duration

	Probe    Probe
	Document Document
	Widget   Widget

	// Ready, if set, triggers an immediate attempt whenever it receives or
	// is closed. Attempts triggered this way count against MaxAttempts.
	Ready <-chan struct{}

	// Clock defaults to background.RealClock.
	Clock background.Clock

	// OnAttempt is called on the mount goroutine after every attempt with
	// the attempt number and the state it left the mount in.
	OnAttempt func(attempt int, s State)
}

func (o *Opts) validate() error {
	var err error
	if o.ContainerID == "" {
		err = multierr.Append(err, errors.New("container id is required"))
	}
	if o.MaxAttempts <= 0 {
		err = multierr.Append(err, fmt.Errorf("max attempts must be positive, got %d", o.MaxAttempts))
	}
	if o.Interval <= 0 {
		err = multierr.Append(err, fmt.Errorf("interval must be positive, got %v", o.Interval))
	}
	if o.Probe == nil {
		err = multierr.Append(err, errors.New("probe is required"))
	}
	if o.Document == nil {
		err = multierr.Append(err, errors.New("document is required"))
	}
	if o.Widget == nil {
		err = multierr.Append(err, errors.New("widget is required"))
	}
	if err != nil {
		return fmt.Errorf("invalid mount options: %w", err)
	}
	return nil
}

// Mounter hands out at most one in-flight Mount per container.
type Mounter struct {
	mu       sync.Mutex
	inflight map[string]*Mount
}

func NewMounter() *Mounter {
	return &Mounter{
		inflight: make(map[string]*Mount),
	}
}

// Start begins polling for opts.ContainerID and returns immediately.
// If a mount for the same container is still polling, that mount is
// returned and nothing new is started.
func (mr *Mounter) Start(ctx context.Context, opts Opts) (*Mount, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = background.RealClock{}
	}
	ctx = log.WithDefault(ctx)

	mr.mu.Lock()
	defer mr.mu.Unlock()
	if m, ok := mr.inflight[opts.ContainerID]; ok {
		log.Debug(ctx, "mount already in progress", slog.F("mount", m.ID), slog.F("container", opts.ContainerID))
		return m, nil
	}

	m := &Mount{
		ID:     uuid.NewString(),
		opts:   opts,
		ticker: opts.Clock.NewTicker(opts.Interval),
		done:   make(chan struct{}),
	}
	m.release = func() {
		mr.release(m)
	}
	mr.inflight[opts.ContainerID] = m
	go m.run(ctx)
	return m, nil
}

// InFlight returns the polling mount for containerID, if any.
func (mr *Mounter) InFlight(containerID string) (*Mount, bool) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	m, ok := mr.inflight[containerID]
	return m, ok
}

func (mr *Mounter) release(m *Mount) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if mr.inflight[m.opts.ContainerID] == m {
		delete(mr.inflight, m.opts.ContainerID)
	}
}

type Mount struct {
	ID string

	opts     Opts
	ticker   background.Ticker
	release  func()
	stopOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	state    State
	attempts int
}

func (m *Mount) ContainerID() string {
	return m.opts.ContainerID
}

func (m *Mount) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Mount) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Done is closed once the mount reaches a terminal state.
func (m *Mount) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until the mount is terminal or ctx is done.
func (m *Mount) Wait(ctx context.Context) (State, error) {
	select {
	case <-m.done:
		return m.State(), nil
	case <-ctx.Done():
		return m.State(), ctx.Err()
	}
}

func (m *Mount) run(ctx context.Context) {
	ctx = log.With(ctx, log.From(ctx).With(
		slog.F("mount", m.ID),
		slog.F("container", m.opts.ContainerID),
	))
	log.Debug(ctx, "waiting for dependencies",
		slog.F("max_attempts", m.opts.MaxAttempts),
		slog.F("interval", m.opts.Interval),
	)

	final := Canceled
	defer func() {
		m.stop()
		m.mu.Lock()
		m.state = final
		m.mu.Unlock()
		close(m.done)
	}()

	ready := m.opts.Ready
	for {
		select {
		case <-m.ticker.C():
		case _, ok := <-ready:
			if !ok {
				ready = nil
			}
			log.Debug(ctx, "ready signal received")
		case <-ctx.Done():
			log.Debug(ctx, "mount canceled", slog.Error(ctx.Err()))
			return
		}

		if s := m.attempt(ctx); s.Terminal() {
			final = s
			return
		}
	}
}

func (m *Mount) attempt(ctx context.Context) State {
	m.mu.Lock()
	m.attempts++
	n := m.attempts
	m.mu.Unlock()

	s := m.step(ctx, n)
	if s.Terminal() {
		m.mu.Lock()
		m.state = s
		m.mu.Unlock()
	}
	if m.opts.OnAttempt != nil {
		m.opts.OnAttempt(n, s)
	}
	return s
}

func (m *Mount) step(ctx context.Context, n int) State {
	el := m.opts.Document.ElementByID(m.opts.ContainerID)
	if el != nil && m.opts.Probe.Ready(ctx) {
		m.stop()
		err := m.render(ctx, el)
		if err != nil {
			log.Error(ctx, "failed to render widget", slog.F("attempt", n), slog.Error(err))
			if err := el.SetInnerHTML(RenderErrorHTML); err != nil {
				log.Error(ctx, "failed to show render error", slog.Error(err))
			}
			return RenderFailed
		}
		log.Info(ctx, "widget mounted", slog.F("attempt", n))
		return Mounted
	}

	if n >= m.opts.MaxAttempts {
		m.stop()
		log.Error(ctx, "giving up on dependencies", slog.F("attempts", n), slog.Error(ErrDependencyTimeout))
		if el != nil {
			if err := el.SetInnerHTML(TimeoutHTML); err != nil {
				log.Error(ctx, "failed to show timeout message", slog.Error(err))
			}
		}
		return TimedOut
	}
	return Polling
}

func (m *Mount) render(ctx context.Context, el Element) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrRenderFailed, r)
		}
	}()
	if err := el.Clear(); err != nil {
		return fmt.Errorf("%w: failed to clear container: %v", ErrRenderFailed, err)
	}
	if err := m.opts.Widget.Render(ctx, el); err != nil {
		return fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	return nil
}

// stop stops the ticker and leaves the Mounter, so that a Start from here on
// begins a new mount rather than joining one that has already settled.
func (m *Mount) stop() {
	m.stopOnce.Do(func() {
		m.ticker.Stop()
		m.release()
	})
}
