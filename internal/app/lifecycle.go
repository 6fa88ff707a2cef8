package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultShutdownTimeout bounds a whole Lifecycle.Shutdown.
const DefaultShutdownTimeout = 5 * time.Second

// Component is a part of the pipeline that needs cleanup on shutdown.
type Component interface {
	// Name returns the component name for logging
	Name() string

	// Shutdown releases the component's resources. It should return
	// promptly once ctx is done.
	Shutdown(ctx context.Context) error
}

type funcComponent struct {
	name string
	fn   func(ctx context.Context) error
}

func (c funcComponent) Name() string                       { return c.name }
func (c funcComponent) Shutdown(ctx context.Context) error { return c.fn(ctx) }

// ComponentFunc adapts fn to a Component.
func ComponentFunc(name string, fn func(ctx context.Context) error) Component {
	return funcComponent{name: name, fn: fn}
}

// Lifecycle shuts registered components down in reverse order of
// registration.
type Lifecycle struct {
	mu         sync.Mutex
	components []Component
	isShutdown bool
	timeout    time.Duration

	shutdownCh chan struct{}
	done       chan struct{}
	err        error
}

// NewLifecycle creates a lifecycle whose Shutdown takes at most timeout.
func NewLifecycle(timeout time.Duration) *Lifecycle {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &Lifecycle{
		timeout:    timeout,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Register adds a component. Components registered after Shutdown started
// are ignored.
func (l *Lifecycle) Register(c Component) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.isShutdown {
		log.Warn("Cannot register component during shutdown", "component", c.Name())
		return
	}
	l.components = append(l.components, c)
	log.Debug("Registered lifecycle component", "name", c.Name())
}

// NotifySignals calls onSignal for every SIGINT or SIGTERM received until
// Shutdown runs.
func (l *Lifecycle) NotifySignals(onSignal func(os.Signal)) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case sig := <-sigCh:
				log.Debug("Received signal", "signal", sig)
				onSignal(sig)
			case <-l.shutdownCh:
				return
			}
		}
	}()
}

// Shutdown stops every component. Later calls wait for the first one and
// return its result.
func (l *Lifecycle) Shutdown() error {
	l.mu.Lock()
	if l.isShutdown {
		l.mu.Unlock()
		<-l.done
		return l.err
	}
	l.isShutdown = true
	components := l.components
	l.mu.Unlock()

	close(l.shutdownCh)
	log.Debug("Starting shutdown", "components", len(components))

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	var errs []error
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		log.Debug("Shutting down component", "name", c.Name())
		if err := runWithContext(ctx, c.Shutdown); err != nil {
			log.Warn("Component shutdown failed", "name", c.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}

	l.err = errors.Join(errs...)
	close(l.done)
	log.Debug("Shutdown complete")
	return l.err
}

// Done is closed once Shutdown has finished.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

// runWithContext stops waiting for fn when ctx ends. fn keeps running in
// the background in that case.
func runWithContext(ctx context.Context, fn func(ctx context.Context) error) error {
	errc := make(chan error, 1)
	go func() {
		errc <- fn(ctx)
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return fmt.Errorf("timed out: %w", ctx.Err())
	}
}
