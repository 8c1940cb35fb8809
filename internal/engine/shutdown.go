package engine

import (
	"context"
	"os"
	"os/signal"
	"sync"
)

type State int

const (
	StateRunning State = iota
	StateShutdownRequested
	StateStopped
	StateForceStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShutdownRequested:
		return "shutdown_requested"
	case StateStopped:
		return "stopped"
	case StateForceStopped:
		return "force_stopped"
	default:
		return "unknown"
	}
}

// Coordinator tracks the process shutdown state. The first interrupt asks
// for a graceful stop; a second one while that is in progress forces it.
type Coordinator struct {
	mu        sync.Mutex
	state     State
	requested chan struct{}
	forced    chan struct{}
	stopped   chan struct{}
}

func NewCoordinator() *Coordinator {
	return &Coordinator{
		requested: make(chan struct{}),
		forced:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Interrupt advances the state machine and returns the new state.
func (c *Coordinator) Interrupt() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateRunning:
		c.state = StateShutdownRequested
		close(c.requested)
	case StateShutdownRequested:
		c.state = StateForceStopped
		close(c.forced)
	}
	return c.state
}

// MarkStopped completes a graceful shutdown. It reports false when the
// shutdown was never requested or has been forced meanwhile.
func (c *Coordinator) MarkStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateShutdownRequested {
		return c.state == StateStopped
	}
	c.state = StateStopped
	close(c.stopped)
	return true
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Requested is closed on the first interrupt.
func (c *Coordinator) Requested() <-chan struct{} {
	return c.requested
}

// Forced is closed on the second interrupt.
func (c *Coordinator) Forced() <-chan struct{} {
	return c.forced
}

// Done is closed once the graceful shutdown completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.stopped
}

// Watch turns OS signals into interrupts until ctx ends or the state
// machine reaches a final state.
func (c *Coordinator) Watch(ctx context.Context, signals ...os.Signal) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, signals...)
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopped:
				return
			case <-c.forced:
				return
			case <-ch:
				c.Interrupt()
			}
		}
	}()
}
