// Package daemon runs the long-lived components of one gepd role. It starts
// them together, stops them together on a signal or on the first failure, and
// removes the role's key database once everything has closed.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/gepd/gepd/pkg/logger"
)

// Sentinel errors for the daemon runner.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running daemon.
	ErrAlreadyRunning = errors.New("daemon is already running")

	// ErrNotRunning is returned when Shutdown() is called on a stopped daemon.
	ErrNotRunning = errors.New("daemon is not running")

	// ErrShutdownTimeout is returned when closing components exceeds the
	// configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timed out")
)

// DefaultShutdownTimeout bounds how long Close calls may take in total.
const DefaultShutdownTimeout = 10 * time.Second

// Component is one part of a role. Run blocks until ctx is done or the part
// fails; Close releases whatever Run could not release itself. Either may be
// nil.
type Component struct {
	Name  string
	Run   func(ctx context.Context) error
	Close func() error
}

// Config holds the configuration for the daemon runner.
type Config struct {
	// Role names the role in log lines.
	Role string

	// KeyDB is the role's key database, removed after shutdown. Empty keeps
	// nothing to remove.
	KeyDB string

	// ShutdownTimeout is the maximum time to wait for Close calls.
	// A zero value means DefaultShutdownTimeout.
	ShutdownTimeout time.Duration
}

// Dependencies holds the external dependencies for the daemon runner.
type Dependencies struct {
	// Fs is where KeyDB lives. If nil, the OS filesystem is used.
	Fs afero.Fs

	// NotifyContext derives the run context from process signals.
	// If nil, signal.NotifyContext with SIGINT and SIGTERM is used.
	NotifyContext func(ctx context.Context) (context.Context, context.CancelFunc)
}

// Runner manages the daemon lifecycle.
type Runner struct {
	config     *Config
	deps       *Dependencies
	log        logger.Logger
	components []Component

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a runner. A nil config or deps gets defaults.
func New(config *Config, deps *Dependencies, l logger.Logger) *Runner {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Runner{
		config: applyConfigDefaults(config),
		deps:   applyDependencyDefaults(deps),
		log:    l,
	}
}

func applyConfigDefaults(config *Config) *Config {
	if config == nil {
		config = &Config{}
	}
	if config.Role == "" {
		config.Role = "gepd"
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}
	return config
}

func applyDependencyDefaults(deps *Dependencies) *Dependencies {
	if deps == nil {
		deps = &Dependencies{}
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.NotifyContext == nil {
		deps.NotifyContext = func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		}
	}
	return deps
}

// Config returns the runner's configuration.
func (r *Runner) Config() *Config {
	return r.config
}

// Add registers c. Components added after Start are ignored until the next
// Start.
func (r *Runner) Add(c Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components = append(r.components, c)
}

// Start runs every component and blocks until the context is cancelled, a
// signal arrives, or a component fails. It then closes all components in
// reverse order and removes the key database. The returned error aggregates
// the first run failure with any close and cleanup failures; a plain
// cancellation returns nil.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, stop := r.deps.NotifyContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	components := append([]Component(nil), r.components...)
	r.mu.Unlock()

	defer stop()
	defer r.cleanupOnStop()

	r.log.Info("Starting %s with %d components", r.config.Role, len(components))
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range components {
		c := c
		if c.Run == nil {
			continue
		}
		g.Go(func() error {
			if err := c.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", c.Name, err)
			}
			return nil
		})
	}

	var result *multierror.Error
	var closeErr error
	closed := make(chan struct{})
	go func() {
		<-gctx.Done()
		closeErr = r.closeComponents(components)
		close(closed)
	}()

	if err := g.Wait(); err != nil {
		r.log.Error("%s stopped: %v", r.config.Role, err)
		result = multierror.Append(result, err)
	}
	cancel()
	<-closed
	if closeErr != nil {
		result = multierror.Append(result, closeErr)
	}
	if err := r.removeKeyDB(); err != nil {
		result = multierror.Append(result, err)
	}
	r.log.Info("%s stopped", r.config.Role)
	return result.ErrorOrNil()
}

// closeComponents closes in reverse start order, bounded by ShutdownTimeout.
func (r *Runner) closeComponents(components []Component) error {
	done := make(chan error, 1)
	go func() {
		var result *multierror.Error
		for i := len(components) - 1; i >= 0; i-- {
			c := components[i]
			if c.Close == nil {
				continue
			}
			if err := c.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("close %s: %w", c.Name, err))
			}
		}
		done <- result.ErrorOrNil()
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(r.config.ShutdownTimeout):
		r.log.Warning("Closing %s exceeded %s", r.config.Role, r.config.ShutdownTimeout)
		return ErrShutdownTimeout
	}
}

// removeKeyDB deletes the key database; the keys are per run.
func (r *Runner) removeKeyDB() error {
	if r.config.KeyDB == "" {
		return nil
	}
	err := r.deps.Fs.Remove(r.config.KeyDB)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove key database: %w", err)
	}
	if err == nil {
		r.log.Info("Removed %s", r.config.KeyDB)
	}
	return nil
}

func (r *Runner) cleanupOnStop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.cancel = nil
	close(r.done)
}

// Shutdown stops a running daemon and waits for Start to return.
// Returns ErrNotRunning if the daemon is not running and ErrShutdownTimeout
// if Start does not return in time.
func (r *Runner) Shutdown() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.cancel()
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(2 * r.config.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

// IsRunning returns true if the daemon is currently running.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
