package liveregion

import (
	"fmt"
	"sync"
)

// Lifecycle names an event the server raises itself. Lifecycle names are reserved:
// clients cannot trigger them and Gateway.On refuses them.
type Lifecycle int

const (
	// Ready fires once per connection and region, when the client announces the
	// region and before any user event for it is dispatched.
	Ready Lifecycle = iota + 1
)

func (l Lifecycle) String() string {
	switch l {
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("lifecycle(%d)", int(l))
	}
}

// IsReserved reports whether event collides with a lifecycle name
func IsReserved(event string) bool {
	return event == Ready.String()
}

// Handler reacts to an event on one region. Returning an error (or panicking)
// aborts the remaining handlers for that message only.
type Handler func(c *Client, m *Message) error

// Gateway is the dispatch table of one template path
type Gateway struct {
	templatePath string

	mu        sync.RWMutex
	handlers  map[string][]Handler
	lifecycle map[Lifecycle][]Handler
}

func newGateway(templatePath string) *Gateway {
	return &Gateway{
		templatePath: templatePath,
		handlers:     make(map[string][]Handler),
		lifecycle:    make(map[Lifecycle][]Handler),
	}
}

// TemplatePath returns the template the gateway serves
func (g *Gateway) TemplatePath() string { return g.templatePath }

// On registers h for a client event. Handlers of one event run in registration
// order. On panics when event is a reserved lifecycle name.
func (g *Gateway) On(event string, h Handler) *Gateway {
	if IsReserved(event) {
		panic(fmt.Errorf("%w: %q, use OnLifecycle", ErrReservedEvent, event))
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[event] = append(g.handlers[event], h)
	return g
}

// OnLifecycle registers h for a server-raised event
func (g *Gateway) OnLifecycle(l Lifecycle, h Handler) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lifecycle[l] = append(g.lifecycle[l], h)
	return g
}

// Events returns the registered client event names
func (g *Gateway) Events() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.handlers))
	for name := range g.handlers {
		names = append(names, name)
	}
	return names
}

func (g *Gateway) eventHandlers(event string) []Handler {
	if g == nil {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Handler(nil), g.handlers[event]...)
}

func (g *Gateway) lifecycleHandlers(l Lifecycle) []Handler {
	if g == nil {
		return nil
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Handler(nil), g.lifecycle[l]...)
}
