package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/livefir/liveregion/protocol"
)

var (
	// ErrNotBound is returned for interactions on elements that declare none.
	ErrNotBound = errors.New("element declares no live interaction")
	// ErrNoRegion is returned for interactions outside every live region.
	ErrNoRegion = errors.New("element is not inside a live region")
	// ErrNotConnected is returned before Connect.
	ErrNotConnected = errors.New("not connected")
)

const writeWait = 10 * time.Second

// Update describes one applied server message
type Update struct {
	RegionID string
	Channel  protocol.Channel
	Outcome  Outcome
	Stats    MorphStats
}

// Option configures a Client
type Option func(*Client)

// WithCodec selects the wire codec offered to the server
func WithCodec(codec protocol.Codec) Option {
	return func(c *Client) { c.codec = codec }
}

// WithHeader adds request headers to the websocket handshake
func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

// WithJar sends the jar's cookies with the handshake
func WithJar(jar http.CookieJar) Option {
	return func(c *Client) { c.jar = jar }
}

// WithUpdateHook is called after each server message has been applied
func WithUpdateHook(fn func(Update)) Option {
	return func(c *Client) { c.onUpdate = fn }
}

// Client mirrors the live regions of one document over a websocket. Server
// messages are applied one at a time, in arrival order.
type Client struct {
	codec    protocol.Codec
	header   http.Header
	jar      http.CookieJar
	onUpdate func(Update)

	mu      sync.Mutex // guards everything below and the document
	doc     *Document
	mirror  *Mirror
	binder  *Binder
	regions []*Region
	byID    map[string]*Region

	wmu sync.Mutex
	ws  *websocket.Conn
}

// New scans doc for regions and binds its interactive elements
func New(doc *Document, opts ...Option) *Client {
	c := &Client{
		codec:  protocol.JSON,
		doc:    doc,
		mirror: NewMirror(),
		binder: NewBinder(),
		byID:   make(map[string]*Region),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.regions = Scan(doc.Root())
	for _, r := range c.regions {
		c.byID[r.ID] = r
	}
	c.binder.Bind(doc.Root())
	return c
}

// Open fetches a page, then connects to its websocket endpoint with the same
// cookies
func Open(ctx context.Context, pageURL, wsURL string, jar http.CookieJar, opts ...Option) (*Client, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := (&http.Client{Jar: jar}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch page: %s", resp.Status)
	}

	doc, err := ParseDocument(resp.Body)
	if err != nil {
		return nil, err
	}
	c := New(doc, append([]Option{WithJar(jar)}, opts...)...)
	if err := c.Connect(ctx, wsURL); err != nil {
		return nil, err
	}
	return c, nil
}

// RegionIDs returns the scanned region ids in document order
func (c *Client) RegionIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.regions))
	for _, r := range c.regions {
		ids = append(ids, r.ID)
	}
	return ids
}

// RegionHTML returns a region's current markup in the document
func (c *Client) RegionHTML(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.byID[id]
	if !ok {
		return "", false
	}
	return r.HTML(), true
}

// Hash returns a region's mirrored hash
func (c *Client) Hash(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, hash, _ := c.mirror.State(id)
	return hash
}

// Do runs fn with exclusive access to the document, for simulating user input
func (c *Client) Do(fn func(doc *Document)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.doc)
}

// Connect dials the websocket endpoint and announces the scanned regions
func (c *Client) Connect(ctx context.Context, url string) error {
	dialer := websocket.Dialer{
		Subprotocols:     []string{c.codec.Name()},
		Jar:              c.jar,
		HandshakeTimeout: 10 * time.Second,
	}
	ws, resp, err := dialer.DialContext(ctx, url, c.header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	resp.Body.Close()

	codec, err := protocol.CodecFor(ws.Subprotocol())
	if err != nil {
		ws.Close()
		return err
	}

	c.wmu.Lock()
	c.ws, c.codec = ws, codec
	c.wmu.Unlock()

	glog.V(1).Infof("connected to %s (%s)", url, codec.Name())
	return c.send(protocol.ChannelReady, protocol.ReadyPayload{RegionIDs: c.RegionIDs()})
}

// Run applies server messages until ctx is done or the connection drops
func (c *Client) Run(ctx context.Context) error {
	c.wmu.Lock()
	ws := c.ws
	c.wmu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return ws.Close()
	})
	g.Go(func() error {
		err := c.readLoop(ws)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	return g.Wait()
}

// Close closes the connection
func (c *Client) Close() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

func (c *Client) readLoop(ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		frame, err := c.codec.Decode(data)
		if err != nil {
			glog.Warningf("dropping undecodable message: %v", err)
			continue
		}
		for _, u := range c.handle(frame) {
			if c.onUpdate != nil {
				c.onUpdate(u)
			}
		}
	}
}

func (c *Client) handle(frame protocol.Frame) []Update {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch frame.Channel {
	case protocol.ChannelInit:
		var p protocol.InitPayload
		if err := frame.Bind(&p); err != nil {
			glog.Warningf("%v", err)
			return nil
		}
		c.mirror.Init(p)
		var updates []Update
		for _, r := range c.regions {
			st, ok := p.Regions[r.ID]
			if !ok {
				continue
			}
			updates = append(updates, Update{RegionID: r.ID, Channel: frame.Channel, Outcome: Applied, Stats: c.reconcile(r.ID, st.Source)})
		}
		return updates

	case protocol.ChannelFullUpdate:
		var p protocol.FullUpdatePayload
		if err := frame.Bind(&p); err != nil {
			glog.Warningf("%v", err)
			return nil
		}
		c.mirror.Full(p)
		stats := c.reconcile(p.RegionID, p.Source)
		c.binder.clearPending(p.RegionID)
		return []Update{{RegionID: p.RegionID, Channel: frame.Channel, Outcome: Applied, Stats: stats}}

	case protocol.ChannelDiffUpdate:
		var p protocol.DiffUpdatePayload
		if err := frame.Bind(&p); err != nil {
			glog.Warningf("%v", err)
			return nil
		}
		source, outcome := c.mirror.Diff(p)
		u := Update{RegionID: p.RegionID, Channel: frame.Channel, Outcome: outcome}
		switch outcome {
		case Applied:
			u.Stats = c.reconcile(p.RegionID, source)
			c.binder.clearPending(p.RegionID)
		case Desync:
			glog.Infof("region %s: diff from %.8s does not fit, requesting full update", p.RegionID, p.FromHash)
			if err := c.send(protocol.ChannelDesync, protocol.DesyncPayload{RegionID: p.RegionID}); err != nil {
				glog.Warningf("desync %s: %v", p.RegionID, err)
			}
		case Dropped:
			glog.V(1).Infof("region %s: dropping diff while awaiting full update", p.RegionID)
		}
		return []Update{u}

	default:
		glog.Warningf("ignoring message on channel %q", frame.Channel)
		return nil
	}
}

// reconcile morphs a region to source and refreshes its bindings
func (c *Client) reconcile(regionID, source string) MorphStats {
	r, ok := c.byID[regionID]
	if !ok {
		glog.Warningf("region %s: not in document", regionID)
		return MorphStats{}
	}
	stats, _, removed, err := Reconcile(c.doc, r, source)
	if err != nil {
		glog.Errorf("%v", err)
		return stats
	}
	for _, n := range removed {
		c.binder.Unbind(n)
	}
	if stats.Changed() {
		for _, n := range r.Nodes() {
			c.binder.Rebind(n)
		}
	}
	return stats
}

// Click activates n and sends its click event
func (c *Client) Click(n *html.Node) error {
	c.mu.Lock()
	event, ok := c.binder.Click(n)
	if !ok {
		c.mu.Unlock()
		return ErrNotBound
	}
	r := Owner(c.regions, n)
	if r == nil {
		c.mu.Unlock()
		return ErrNoRegion
	}
	c.binder.markPending(r.ID, n)
	payload := protocol.ClickEventPayload{RegionID: r.ID, EventName: event, Sender: ElementInfo(n)}
	c.mu.Unlock()

	return c.send(protocol.ChannelClickEvent, payload)
}

// Change sends the change event declared on n or on its form
func (c *Client) Change(n *html.Node) error {
	c.mu.Lock()
	el, event, ok := c.binder.Change(n)
	if !ok {
		c.mu.Unlock()
		return ErrNotBound
	}
	r := Owner(c.regions, el)
	if r == nil {
		c.mu.Unlock()
		return ErrNoRegion
	}
	payload := protocol.FormChangeEventPayload{RegionID: r.ID, EventName: event, Sender: c.doc.FormInfo(el)}
	c.mu.Unlock()

	return c.send(protocol.ChannelFormChangeEvent, payload)
}

func (c *Client) send(channel protocol.Channel, payload interface{}) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.ws == nil {
		return ErrNotConnected
	}
	data, err := c.codec.Encode(channel, payload)
	if err != nil {
		return err
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(c.codec.MessageType(), data)
}
