package liveregion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/livefir/liveregion/internal/region"
)

// Client is the capability handed to handlers: it is bound to one connection and
// one region and can push new template state, listen for and emit events scoped
// to the connection, and run background work that ends with the connection.
type Client struct {
	conn         *Connection
	regionID     string
	templatePath string

	mu        sync.Mutex
	version   int64 // last region version this handle observed or committed
	listeners map[string][]Handler
	tasks     map[string]*task
}

type task struct {
	cancel context.CancelFunc
}

func newClient(conn *Connection, regionID, templatePath string) *Client {
	return &Client{
		conn:         conn,
		regionID:     regionID,
		templatePath: templatePath,
		listeners:    make(map[string][]Handler),
		tasks:        make(map[string]*task),
	}
}

// RegionID returns the region the handle is bound to
func (c *Client) RegionID() string { return c.regionID }

// SessionID returns the session of the connection
func (c *Client) SessionID() string { return c.conn.SessionID }

// UserID returns the authenticated user, "" when anonymous
func (c *Client) UserID() string { return c.conn.UserID }

// Context is cancelled when the connection closes
func (c *Client) Context() context.Context { return c.conn.ctx }

func (c *Client) observe(version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if version > c.version {
		c.version = version
	}
}

func (c *Client) observed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Push replaces the region's template state. It commits only if nobody else
// updated the region since this handle last saw it, and returns ErrConflict
// otherwise. On success every connection of the session that mirrors the region
// receives a diff update.
func (c *Client) Push(state interface{}) error {
	if err := c.conn.ctx.Err(); err != nil {
		return ErrClosed
	}
	change, err := c.conn.session.Regions.Update(c.conn.ctx, c.regionID, c.observed(), state)
	if err != nil {
		c.conn.server.countFailure(err)
		return err
	}
	c.observe(change.Next.Version)
	c.conn.server.publish(c.conn.SessionID, change)
	return nil
}

// Mutate reads the region's current state, lets fn derive the next state and
// commits it, retrying on conflicts. Use it from background work, where the
// state a handler observed may be stale.
func (c *Client) Mutate(fn func(state json.RawMessage) (interface{}, error)) error {
	if err := c.conn.ctx.Err(); err != nil {
		return ErrClosed
	}
	change, err := c.conn.session.Regions.Mutate(c.conn.ctx, c.regionID, fn)
	if err != nil {
		c.conn.server.countFailure(err)
		return err
	}
	c.observe(change.Next.Version)
	c.conn.server.publish(c.conn.SessionID, change)
	return nil
}

// On registers a listener for event on this connection and region only.
// Listeners run after the gateway's handlers for the same event.
func (c *Client) On(event string, h Handler) {
	if IsReserved(event) {
		panic(fmt.Errorf("%w: %q", ErrReservedEvent, event))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[event] = append(c.listeners[event], h)
}

// Emit invokes this connection's listeners for event. A nil message carries the
// region's current state.
func (c *Client) Emit(event string, m *Message) error {
	handlers := c.listenersFor(event)
	if len(handlers) == 0 {
		return nil
	}
	if m == nil {
		snap, err := c.conn.session.Regions.Get(c.conn.ctx, c.regionID)
		if err != nil {
			return err
		}
		m = &Message{Event: event, RegionID: c.regionID, State: snap.State, Version: snap.Version}
		c.observe(snap.Version)
	}
	for _, h := range handlers {
		panicked, err := safeCall(h, c, m)
		if panicked {
			glog.Errorf("conn %s: listener for %q panicked: %v", c.conn.ID, event, err)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) listenersFor(event string) []Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Handler(nil), c.listeners[event]...)
}

// Spawn runs fn in the background under key. The context passed to fn is
// cancelled by Stop(key), by a later Spawn with the same key, or when the
// connection closes. Spawn after close does nothing.
func (c *Client) Spawn(key string, fn func(ctx context.Context)) {
	conn := c.conn
	conn.spawnMu.Lock()
	if conn.closing {
		conn.spawnMu.Unlock()
		glog.V(1).Infof("conn %s: not spawning %q on closed connection", conn.ID, key)
		return
	}
	conn.spawned.Add(1)
	conn.spawnMu.Unlock()

	ctx, cancel := context.WithCancel(conn.ctx)
	t := &task{cancel: cancel}

	c.mu.Lock()
	if prev, ok := c.tasks[key]; ok {
		prev.cancel()
	}
	c.tasks[key] = t
	c.mu.Unlock()

	go func() {
		defer conn.spawned.Done()
		defer func() {
			c.mu.Lock()
			if c.tasks[key] == t {
				delete(c.tasks, key)
			}
			c.mu.Unlock()
			cancel()
		}()
		defer func() {
			if r := recover(); r != nil {
				glog.Errorf("conn %s: background task %q panicked: %v", conn.ID, key, r)
			}
		}()
		fn(ctx)
	}()
}

// Stop cancels the task running under key. Stopping an unknown or finished
// task is a no-op; the result reports whether a task was cancelled.
func (c *Client) Stop(key string) bool {
	c.mu.Lock()
	t, ok := c.tasks[key]
	delete(c.tasks, key)
	c.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}

// Running reports whether a task is registered under key
func (c *Client) Running(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tasks[key]
	return ok
}

func (s *Server) countFailure(err error) {
	switch {
	case errors.Is(err, region.ErrConflict):
		s.metrics.Conflicts.Inc()
	case errors.Is(err, region.ErrRender):
		s.metrics.RenderErrors.Inc()
	}
}
