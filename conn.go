package liveregion

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/livefir/liveregion/internal/region"
	"github.com/livefir/liveregion/internal/session"
	"github.com/livefir/liveregion/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

type connState int

const (
	stateConnecting connState = iota
	stateAwaitingReady
	stateSynced
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateAwaitingReady:
		return "awaiting-ready"
	case stateSynced:
		return "synced"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Connection is one live websocket bound to a session's regions.
type Connection struct {
	ID        string
	SessionID string
	UserID    string

	ws      *websocket.Conn
	codec   protocol.Codec
	server  *Server
	session *session.Session

	ctx    context.Context
	cancel context.CancelFunc

	spawnMu sync.Mutex
	closing bool
	spawned sync.WaitGroup

	mu      sync.Mutex // guards writes and the fields below
	state   connState
	synced  map[string]bool
	readied map[string]bool
	clients map[string]*Client
	closed  bool
}

func newConnection(s *Server, ws *websocket.Conn, codec protocol.Codec, sess *session.Session, userID string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:        ulid.Make().String(),
		SessionID: sess.ID,
		UserID:    userID,
		ws:        ws,
		codec:     codec,
		server:    s,
		session:   sess,
		ctx:       ctx,
		cancel:    cancel,
		state:     stateConnecting,
		synced:    make(map[string]bool),
		readied:   make(map[string]bool),
		clients:   make(map[string]*Client),
	}
}

// Codec returns the negotiated wire codec
func (c *Connection) Codec() protocol.Codec { return c.codec }

// Synced reports whether the client holds the region's state
func (c *Connection) Synced(regionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.synced[regionID]
}

// Close shuts the websocket; the read loop then tears the connection down
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}

func (c *Connection) setState(s connState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *Connection) getState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// sendIfSynced writes an already encoded update only when the client mirrors the region
func (c *Connection) sendIfSynced(regionID string, channel protocol.Channel, data []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.synced[regionID] {
		return false, nil
	}
	return true, c.writeLocked(channel, data)
}

func (c *Connection) writeLocked(channel protocol.Channel, data []byte) error {
	if c.closed {
		return ErrClosed
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(c.codec.MessageType(), data); err != nil {
		return fmt.Errorf("write %s: %w", channel, err)
	}
	c.server.metrics.MessageOut(string(channel))
	glog.V(2).Infof("conn %s: sent %s (%d bytes)", c.ID, channel, len(data))
	return nil
}

// client returns the handle for a region, creating it on first use
func (c *Connection) client(regionID, templatePath string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.clients[regionID]
	if !ok {
		cl = newClient(c, regionID, templatePath)
		c.clients[regionID] = cl
	}
	return cl
}

// readLoop processes inbound messages strictly in order until the socket closes
func (c *Connection) readLoop() {
	c.ws.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				glog.Warningf("conn %s: websocket error: %v", c.ID, err)
			}
			return
		}

		frame, err := c.codec.Decode(data)
		if err != nil {
			glog.Warningf("conn %s: dropping undecodable message: %v", c.ID, err)
			continue
		}
		c.server.metrics.MessageIn(string(frame.Channel))
		glog.V(2).Infof("conn %s: received %s (%d bytes)", c.ID, frame.Channel, frame.Size())

		if _, ok := c.server.sessions.GetSession(c.SessionID); !ok {
			glog.Infof("conn %s: session %s expired, closing", c.ID, c.SessionID)
			return
		}
		c.dispatch(frame)
	}
}

func (c *Connection) dispatch(frame protocol.Frame) {
	switch frame.Channel {
	case protocol.ChannelReady:
		var p protocol.ReadyPayload
		if err := frame.Bind(&p); err != nil {
			glog.Warningf("conn %s: %v", c.ID, err)
			return
		}
		c.handleReady(p.RegionIDs)

	case protocol.ChannelClickEvent:
		var p protocol.ClickEventPayload
		if err := frame.Bind(&p); err != nil {
			glog.Warningf("conn %s: %v", c.ID, err)
			return
		}
		c.handleEvent(p.RegionID, p.EventName, p.Sender, nil)

	case protocol.ChannelFormChangeEvent:
		var p protocol.FormChangeEventPayload
		if err := frame.Bind(&p); err != nil {
			glog.Warningf("conn %s: %v", c.ID, err)
			return
		}
		c.handleEvent(p.RegionID, p.EventName, p.Sender.ElementInfo, &p.Sender)

	case protocol.ChannelDesync:
		var p protocol.DesyncPayload
		if err := frame.Bind(&p); err != nil {
			glog.Warningf("conn %s: %v", c.ID, err)
			return
		}
		c.handleDesync(p.RegionID)

	default:
		glog.Warningf("conn %s: ignoring message on channel %q", c.ID, frame.Channel)
	}
}

// handleReady fires the Ready lifecycle for every newly announced region the
// session knows, then answers with init. Unknown ids are skipped.
func (c *Connection) handleReady(regionIDs []string) {
	regions := c.session.Regions

	var known []region.Snapshot
	for _, id := range regionIDs {
		snap, err := regions.Get(c.ctx, id)
		if err != nil {
			glog.Warningf("conn %s: ready: skipping region %s: %v", c.ID, id, err)
			continue
		}
		known = append(known, snap)
	}

	for _, snap := range known {
		c.mu.Lock()
		first := !c.readied[snap.RegionID]
		c.readied[snap.RegionID] = true
		c.mu.Unlock()
		if !first {
			continue
		}

		gw := c.server.lookupGateway(snap.TemplatePath)
		handlers := gw.lifecycleHandlers(Ready)
		if len(handlers) == 0 {
			continue
		}
		cl := c.client(snap.RegionID, snap.TemplatePath)
		cl.observe(snap.Version)
		c.run(Ready.String(), handlers, cl, messageFor(Ready.String(), snap, protocol.ElementInfo{}, nil))
	}

	// Build init and mark regions synced under the write lock, so a concurrent
	// push is either folded into init or delivered after it.
	c.mu.Lock()
	defer c.mu.Unlock()

	payload := protocol.InitPayload{Regions: make(map[string]protocol.RegionState, len(known))}
	for _, snap := range known {
		current, err := regions.Get(c.ctx, snap.RegionID)
		if err != nil {
			glog.Warningf("conn %s: region %s vanished during ready: %v", c.ID, snap.RegionID, err)
			continue
		}
		payload.Regions[current.RegionID] = protocol.RegionState{Source: current.Source, Hash: current.Hash}
		c.synced[current.RegionID] = true
		if cl, ok := c.clients[current.RegionID]; ok {
			cl.observe(current.Version)
		}
	}
	c.state = stateSynced

	data, err := c.codec.Encode(protocol.ChannelInit, payload)
	if err != nil {
		glog.Errorf("conn %s: %v", c.ID, err)
		return
	}
	if err := c.writeLocked(protocol.ChannelInit, data); err != nil {
		glog.Warningf("conn %s: %v", c.ID, err)
		return
	}
	glog.V(1).Infof("conn %s: synced %d of %d announced regions", c.ID, len(payload.Regions), len(regionIDs))
}

// handleEvent dispatches a user event. It is a no-op unless the connection is
// synced, the region is synced on it, and the event has handlers.
func (c *Connection) handleEvent(regionID, event string, sender protocol.ElementInfo, form *protocol.FormInfo) {
	if state := c.getState(); state != stateSynced {
		glog.Warningf("conn %s: ignoring %q in state %s", c.ID, event, state)
		return
	}
	if IsReserved(event) {
		glog.Warningf("conn %s: ignoring reserved event %q from client", c.ID, event)
		return
	}
	if !c.Synced(regionID) {
		glog.Warningf("conn %s: ignoring %q for unsynced region %s", c.ID, event, regionID)
		return
	}

	snap, err := c.session.Regions.Get(c.ctx, regionID)
	if err != nil {
		glog.Warningf("conn %s: ignoring %q: %v", c.ID, event, err)
		return
	}

	cl := c.client(regionID, snap.TemplatePath)
	handlers := append(c.server.lookupGateway(snap.TemplatePath).eventHandlers(event), cl.listenersFor(event)...)
	if len(handlers) == 0 {
		glog.Warningf("conn %s: no handler for %q on %s", c.ID, event, snap.TemplatePath)
		return
	}

	cl.observe(snap.Version)
	c.run(event, handlers, cl, messageFor(event, snap, sender, form))
}

// handleDesync answers with the region's stored state, bypassing diffing
func (c *Connection) handleDesync(regionID string) {
	c.server.metrics.Desyncs.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.session.Regions.Get(c.ctx, regionID)
	if err != nil {
		glog.Warningf("conn %s: desync: %v", c.ID, err)
		return
	}
	data, err := c.codec.Encode(protocol.ChannelFullUpdate, protocol.FullUpdatePayload{
		RegionID: snap.RegionID,
		Source:   snap.Source,
		Hash:     snap.Hash,
	})
	if err != nil {
		glog.Errorf("conn %s: %v", c.ID, err)
		return
	}
	if err := c.writeLocked(protocol.ChannelFullUpdate, data); err != nil {
		glog.Warningf("conn %s: %v", c.ID, err)
		return
	}
	c.server.metrics.FullSent()
	glog.V(1).Infof("conn %s: resent region %s after desync", c.ID, regionID)
}

// run invokes handlers in order. The first failure aborts the rest of this
// message; other regions and connections are unaffected.
func (c *Connection) run(event string, handlers []Handler, cl *Client, msg *Message) {
	for _, h := range handlers {
		started := time.Now()
		panicked, err := safeCall(h, cl, msg)
		c.server.metrics.ObserveEvent(event, started, err, panicked)
		if err != nil {
			glog.Errorf("conn %s: handler for %q on region %s failed: %v", c.ID, event, cl.regionID, err)
			return
		}
	}
}

func safeCall(h Handler, cl *Client, msg *Message) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return false, h(cl, msg)
}

func messageFor(event string, snap region.Snapshot, sender protocol.ElementInfo, form *protocol.FormInfo) *Message {
	return &Message{
		Event:    event,
		RegionID: snap.RegionID,
		Sender:   sender,
		Form:     form,
		State:    snap.State,
		Version:  snap.Version,
	}
}

// shutdown cancels background work and waits for it
func (c *Connection) shutdown() {
	c.spawnMu.Lock()
	c.closing = true
	c.spawnMu.Unlock()

	c.cancel()
	c.spawned.Wait()
	c.Close()
}
