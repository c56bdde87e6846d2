package action

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/confstore/internal/settings"
	"github.com/dshills/confstore/internal/variant"
)

// Group holds actions by name.
type Group struct {
	mu      sync.RWMutex
	actions map[string]*Action
}

// NewGroup creates an empty group.
func NewGroup() *Group {
	return &Group{actions: make(map[string]*Action)}
}

// NewGroupFor creates a group with an action for every key of s.
func NewGroupFor(s *settings.Settings) (*Group, error) {
	g := NewGroup()
	for _, key := range s.ListKeys() {
		a, err := New(s, key)
		if err != nil {
			g.Close()
			return nil, err
		}
		g.Add(a)
	}
	return g, nil
}

// Add registers a, replacing and closing any action of the same name.
func (g *Group) Add(a *Action) {
	g.mu.Lock()
	old := g.actions[a.Name()]
	g.actions[a.Name()] = a
	g.mu.Unlock()
	if old != nil && old != a {
		old.Close()
	}
}

// Remove closes and removes the named action.
func (g *Group) Remove(name string) {
	g.mu.Lock()
	a := g.actions[name]
	delete(g.actions, name)
	g.mu.Unlock()
	if a != nil {
		a.Close()
	}
}

// Lookup returns the named action.
func (g *Group) Lookup(name string) (*Action, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.actions[name]
	return a, ok
}

// List returns the action names in sorted order.
func (g *Group) List() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.actions))
	for name := range g.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Activate activates the named action.
func (g *Group) Activate(name string, param *variant.Value) error {
	a, ok := g.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	return a.Activate(param)
}

// ChangeState changes the state of the named action.
func (g *Group) ChangeState(name string, value variant.Value) error {
	a, ok := g.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	return a.ChangeState(value)
}

// Close closes every action and empties the group.
func (g *Group) Close() {
	g.mu.Lock()
	all := g.actions
	g.actions = make(map[string]*Action)
	g.mu.Unlock()
	for _, a := range all {
		a.Close()
	}
}
