package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const defaultShutdownTimeout = 5 * time.Second

// ServiceHost starts registered services in order and stops them in
// reverse order. Services exposing an Errors() channel get their fatal
// errors forwarded to the host's error channel.
type ServiceHost struct {
	mu      sync.Mutex
	order   []string
	entries map[string]Service
	started bool
	cancel  context.CancelFunc
	errors  chan error
}

// NewServiceHost creates an empty service host.
func NewServiceHost() *ServiceHost {
	return &ServiceHost{
		entries: make(map[string]Service),
		errors:  make(chan error, 1),
	}
}

// Register adds a service under the provided name. Registration order is
// start order.
func (h *ServiceHost) Register(name string, svc Service) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return fmt.Errorf("runtime: cannot register service %q after start", name)
	}
	if _, exists := h.entries[name]; exists {
		return fmt.Errorf("runtime: service %q already registered", name)
	}

	h.entries[name] = svc
	h.order = append(h.order, name)
	return nil
}

// Start starts all registered services. On failure, already started
// services are shut down in reverse order.
func (h *ServiceHost) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return errors.New("runtime: service host already started")
	}
	h.started = true
	hostCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.mu.Unlock()

	started := make([]string, 0, len(h.order))
	for _, name := range h.order {
		svc := h.entries[name]
		if err := svc.Start(hostCtx); err != nil {
			h.stopStarted(started)
			return fmt.Errorf("runtime: start service %q: %w", name, err)
		}
		h.watchErrors(name, svc)
		started = append(started, name)
	}
	return nil
}

// Stop shuts down all services in reverse registration order.
func (h *ServiceHost) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = false
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var stopErr error
	for i := len(h.order) - 1; i >= 0; i-- {
		name := h.order[i]
		stopCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
		err := h.entries[name].Shutdown(stopCtx)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			stopErr = fmt.Errorf("runtime: shutdown service %q: %w", name, err)
		}
	}
	return stopErr
}

// Errors returns a channel receiving fatal service errors.
func (h *ServiceHost) Errors() <-chan error {
	return h.errors
}

func (h *ServiceHost) watchErrors(name string, svc Service) {
	observable, ok := svc.(interface{ Errors() <-chan error })
	if !ok {
		return
	}
	go func() {
		for err := range observable.Errors() {
			if err == nil {
				continue
			}
			select {
			case h.errors <- fmt.Errorf("%s service error: %w", name, err):
			default:
			}
		}
	}()
}

func (h *ServiceHost) stopStarted(started []string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	for i := len(started) - 1; i >= 0; i-- {
		h.entries[started[i]].Shutdown(ctx) // ignore errors during rollback
	}
}
