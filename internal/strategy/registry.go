// Package strategy tracks running strategy controllers so risk actions can
// pause or stop them as a group.
package strategy

import (
	"fmt"
	"log"
	"sync"

	"quantdesk/internal/events"
)

// Status is a strategy's lifecycle state inside the registry.
type Status string

const (
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusStopped Status = "stopped"
)

// Controller is the control surface a strategy exposes to the registry.
type Controller interface {
	Pause() error
	Resume() error
	Stop() error
}

type entry struct {
	controller Controller
	status     Status
}

// Registry is the set of live strategies.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	bus     *events.Bus
}

func NewRegistry(bus *events.Bus) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		bus:     bus,
	}
}

// Register adds a strategy under a unique id.
func (r *Registry) Register(id string, c Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("strategy %s already registered", id)
	}
	r.entries[id] = &entry{controller: c, status: StatusRunning}
	return nil
}

// Unregister removes a strategy, typically after it stopped on its own.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Pause pauses one strategy.
func (r *Registry) Pause(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("strategy %s not found", id)
	}
	if e.status != StatusRunning {
		return nil
	}
	if err := e.controller.Pause(); err != nil {
		return err
	}
	e.status = StatusPaused
	r.publish(id, StatusPaused)
	return nil
}

// Resume resumes one paused strategy.
func (r *Registry) Resume(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("strategy %s not found", id)
	}
	if e.status != StatusPaused {
		return nil
	}
	if err := e.controller.Resume(); err != nil {
		return err
	}
	e.status = StatusRunning
	return nil
}

// PauseAll pauses every running strategy and returns how many were paused.
// Failures are logged and do not stop the sweep.
func (r *Registry) PauseAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	paused := 0
	for id, e := range r.entries {
		if e.status != StatusRunning {
			continue
		}
		if err := e.controller.Pause(); err != nil {
			log.Printf("strategy: pause %s: %v", id, err)
			continue
		}
		e.status = StatusPaused
		r.publish(id, StatusPaused)
		paused++
	}
	return paused
}

// StopAll stops every non-stopped strategy and returns how many were
// stopped. Failures are logged and do not stop the sweep.
func (r *Registry) StopAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	stopped := 0
	for id, e := range r.entries {
		if e.status == StatusStopped {
			continue
		}
		if err := e.controller.Stop(); err != nil {
			log.Printf("strategy: stop %s: %v", id, err)
			continue
		}
		e.status = StatusStopped
		stopped++
	}
	return stopped
}

// Statuses returns a snapshot of every registered strategy's state.
func (r *Registry) Statuses() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Status, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.status
	}
	return out
}

func (r *Registry) publish(id string, status Status) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.EventStrategyPaused, map[string]string{
		"strategy_id": id,
		"status":      string(status),
	})
}
