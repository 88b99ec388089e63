// Package liveregion keeps server-rendered regions of a page synchronized with
// server-side state over a websocket. Pages embed regions with the live template
// helper; handlers registered on a Gateway push new template state, and every
// connected tab receives a compact diff of the region's markup.
package liveregion

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/livefir/liveregion/internal/config"
	"github.com/livefir/liveregion/diff"
	"github.com/livefir/liveregion/internal/memory"
	"github.com/livefir/liveregion/internal/metrics"
	"github.com/livefir/liveregion/internal/region"
	"github.com/livefir/liveregion/internal/session"
	"github.com/livefir/liveregion/internal/store"
	"github.com/livefir/liveregion/internal/token"
	"github.com/livefir/liveregion/protocol"
)

// Server renders pages with live regions and serves the websocket endpoint
// that keeps them in sync.
type Server struct {
	templates   *template.Template // never executed, cloned per page
	renderer    region.Renderer
	store       store.Store
	budget      *memory.Manager
	sessions    *session.Manager
	connections *ConnectionRegistry
	auth        Authenticator
	metrics     *metrics.Collector
	differ      *diff.Differ
	codecs      []protocol.Codec
	upgrader    websocket.Upgrader

	sessionTTL      time.Duration
	cleanupInterval time.Duration
	maxRetries      int
	minify          bool
	checkOrigin     func(r *http.Request) bool

	gatewaysMu sync.RWMutex
	gateways   map[string]*Gateway
}

// Option configures a Server
type Option func(*Server)

// WithStore sets the region store. Defaults to an in-memory store.
func WithStore(st store.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithAuthenticator sets how requests map to sessions. Defaults to AnonymousAuthenticator.
func WithAuthenticator(a Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

// WithSessionTTL sets the idle time after which a session and its regions are dropped
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Server) { s.sessionTTL = ttl }
}

// WithCleanupInterval sets how often expired sessions are swept. Zero disables the sweep.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Server) { s.cleanupInterval = d }
}

// WithBudget limits the bytes of region source held per session and in total
func WithBudget(m *memory.Manager) Option {
	return func(s *Server) { s.budget = m }
}

// WithMetrics sets the metrics collector
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithMaxRetries sets how often Client.Mutate retries after a conflict
func WithMaxRetries(n int) Option {
	return func(s *Server) { s.maxRetries = n }
}

// WithCodecs sets the accepted wire codecs in preference order
func WithCodecs(codecs ...protocol.Codec) Option {
	return func(s *Server) { s.codecs = codecs }
}

// WithMinify minifies rendered region sources
func WithMinify(enabled bool) Option {
	return func(s *Server) { s.minify = enabled }
}

// WithRenderer replaces the html/template renderer for region sources
func WithRenderer(r region.Renderer) Option {
	return func(s *Server) { s.renderer = r }
}

// WithCheckOrigin sets the websocket origin check
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) { s.checkOrigin = fn }
}

// New creates a server for a template set parsed with FuncMap. Region templates
// and page templates may live in the same set.
func New(templates *template.Template, opts ...Option) (*Server, error) {
	s := &Server{
		templates:       templates,
		connections:     NewConnectionRegistry(),
		differ:          diff.NewDiffer(),
		codecs:          protocol.Codecs,
		sessionTTL:      30 * time.Minute,
		cleanupInterval: time.Minute,
		maxRetries:      3,
		gateways:        make(map[string]*Gateway),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		s.store = store.NewMemoryStore()
	}
	if s.budget == nil {
		s.budget = memory.NewManager(nil)
	}
	if s.auth == nil {
		s.auth = &AnonymousAuthenticator{}
	}
	if s.metrics == nil {
		s.metrics = metrics.NewCollector()
	}
	if s.renderer == nil {
		if templates == nil {
			return nil, fmt.Errorf("liveregion: templates or a renderer are required")
		}
		r, err := NewTemplateRenderer(templates, s.minify)
		if err != nil {
			return nil, err
		}
		s.renderer = r
	}
	if s.checkOrigin == nil {
		s.checkOrigin = func(r *http.Request) bool { return true }
	}

	s.upgrader = websocket.Upgrader{
		Subprotocols: protocol.Subprotocols(s.codecs...),
		CheckOrigin:  s.checkOrigin,
	}

	s.sessions = session.NewManager(s.sessionTTL, func(sessionID string) *region.Registry {
		return region.NewRegistry(sessionID, s.store, s.renderer,
			region.WithBudget(s.budget),
			region.WithMaxRetries(s.maxRetries))
	})
	s.sessions.OnEviction(func(sess *session.Session) {
		s.metrics.SessionEvicted()
		for _, conn := range s.connections.BySession(sess.ID) {
			conn.Close()
		}
	})

	return s, nil
}

// NewFromConfig builds a server, its store and its authenticator from configuration
func NewFromConfig(ctx context.Context, cfg *config.Config, templates *template.Template, opts ...Option) (*Server, error) {
	var st store.Store
	switch cfg.Store.Driver {
	case "sqlite":
		sqlStore, err := store.OpenSQLite(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		st = sqlStore
	default:
		st = store.NewMemoryStore()
	}

	codecs := []protocol.Codec{protocol.JSON, protocol.CBOR}
	if cfg.Codec == "cbor" {
		codecs = []protocol.Codec{protocol.CBOR, protocol.JSON}
	}

	base := []Option{
		WithStore(st),
		WithSessionTTL(cfg.Session.TTL),
		WithCleanupInterval(cfg.Session.CleanupInterval),
		WithBudget(memory.NewManager(&memory.Config{
			MaxSessionKB:         cfg.Budget.MaxSessionKB,
			MaxTotalMB:           cfg.Budget.MaxTotalMB,
			WarningThresholdPct:  75,
			CriticalThresholdPct: 90,
		})),
		WithMaxRetries(cfg.Update.MaxRetries),
		WithCodecs(codecs...),
		WithMinify(cfg.Minify),
	}

	if cfg.Auth.Mode == "token" {
		svc, err := token.NewService(&token.Config{Secret: []byte(cfg.Auth.Secret), TTL: cfg.Auth.TokenTTL})
		if err != nil {
			st.Close()
			return nil, err
		}
		base = append(base, WithAuthenticator(NewTokenAuthenticator(svc)))
	}

	s, err := New(templates, append(base, opts...)...)
	if err != nil {
		st.Close()
		return nil, err
	}
	return s, nil
}

// Gateway returns the dispatch table for templatePath, creating it on first use
func (s *Server) Gateway(templatePath string) *Gateway {
	s.gatewaysMu.Lock()
	defer s.gatewaysMu.Unlock()
	gw, ok := s.gateways[templatePath]
	if !ok {
		gw = newGateway(templatePath)
		s.gateways[templatePath] = gw
	}
	return gw
}

// lookupGateway returns nil for template paths without handlers
func (s *Server) lookupGateway(templatePath string) *Gateway {
	s.gatewaysMu.RLock()
	defer s.gatewaysMu.RUnlock()
	return s.gateways[templatePath]
}

// Metrics returns the server's collector
func (s *Server) Metrics() *metrics.Collector { return s.metrics }

// Connections returns the live connection registry
func (s *Server) Connections() *ConnectionRegistry { return s.connections }

// Start runs session expiry until ctx is done
func (s *Server) Start(ctx context.Context) {
	s.sessions.Start(ctx)
	if s.cleanupInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.sessions.CleanupExpiredSessions(); n > 0 {
					glog.Infof("expired %d sessions", n)
				}
				status := s.budget.Usage()
				s.metrics.BudgetBytes.Set(float64(status.Used))
				if status.Level != memory.LevelOK {
					glog.Warningf("region memory at %.1f%% (%s)", status.Percent, status.Level)
				}
			}
		}
	}()
}

// Close disconnects every client and closes the store
func (s *Server) Close() error {
	for _, conn := range s.connections.All() {
		conn.Close()
	}
	return s.store.Close()
}

// resolveSession identifies the request and returns its session
func (s *Server) resolveSession(r *http.Request) (*session.Session, error) {
	userID, err := s.auth.Identify(r)
	if err != nil {
		return nil, err
	}
	sessionID, err := s.auth.GetSessionGroup(r, userID)
	if err != nil {
		return nil, err
	}
	sess, created := s.sessions.GetOrCreate(sessionID, userID)
	if created {
		s.metrics.SessionCreated()
	}
	return sess, nil
}

// RenderPage executes the page template name from tmpl (the server's template
// set when nil). Every {{live ...}} call in it registers a region in the
// request's session.
func (s *Server) RenderPage(w http.ResponseWriter, r *http.Request, tmpl *template.Template, name string, data interface{}) error {
	sess, err := s.resolveSession(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return err
	}

	if tmpl == nil {
		tmpl = s.templates
	}
	page, err := tmpl.Clone()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return fmt.Errorf("clone page template: %w", err)
	}
	page.Funcs(template.FuncMap{"live": s.liveHelper(r.Context(), sess)})

	var buf bytes.Buffer
	if err := page.ExecuteTemplate(&buf, name, data); err != nil {
		glog.Errorf("render page %s: %v", name, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return err
	}

	if issuer, ok := s.auth.(sessionIssuer); ok {
		issuer.IssueSession(w, sess.ID)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err = buf.WriteTo(w)
	return err
}

func (s *Server) liveHelper(ctx context.Context, sess *session.Session) func(string, ...interface{}) (template.HTML, error) {
	return func(templatePath string, args ...interface{}) (template.HTML, error) {
		state, err := liveState(args)
		if err != nil {
			return "", err
		}
		snap, err := sess.Regions.Register(ctx, templatePath, state)
		if err != nil {
			s.countFailure(err)
			return "", err
		}
		return template.HTML(protocol.BeginComment(snap.RegionID) + snap.Source + protocol.EndComment(snap.RegionID)), nil
	}
}

// ServeHTTP serves the websocket endpoint
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}

	sess, err := s.resolveSession(r)
	if err != nil {
		glog.Warningf("rejecting websocket from %s: %v", r.RemoteAddr, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("websocket upgrade failed: %v", err)
		return
	}

	codec, err := protocol.CodecFor(ws.Subprotocol())
	if err != nil {
		glog.Warningf("websocket: %v", err)
		ws.Close()
		return
	}

	conn := newConnection(s, ws, codec, sess, sess.UserID)
	s.connections.Register(conn)
	s.metrics.ConnectedClients.Inc()
	conn.setState(stateAwaitingReady)
	glog.Infof("conn %s opened for session %s from %s (%s)", conn.ID, sess.ID, ws.RemoteAddr(), codec.Name())

	defer func() {
		conn.shutdown()
		s.connections.Unregister(conn)
		s.metrics.ConnectedClients.Dec()
		glog.Infof("conn %s closed", conn.ID)
	}()

	conn.readLoop()
}

// publish diffs a committed change once and sends it to every connection of the
// session that mirrors the region.
func (s *Server) publish(sessionID string, change region.Change) {
	script := s.differ.Diff(change.Prior.Source, change.Next.Source)
	payload := protocol.DiffUpdatePayload{
		RegionID: change.Next.RegionID,
		Diff:     script,
		FromHash: change.Prior.Hash,
		Hash:     change.Next.Hash,
	}

	encoded := make(map[string][]byte, len(s.codecs))
	for _, conn := range s.connections.BySession(sessionID) {
		codec := conn.Codec()
		data, ok := encoded[codec.Name()]
		if !ok {
			var err error
			data, err = codec.Encode(protocol.ChannelDiffUpdate, payload)
			if err != nil {
				glog.Errorf("encode diff for %s: %v", payload.RegionID, err)
				return
			}
			encoded[codec.Name()] = data
		}

		sent, err := conn.sendIfSynced(payload.RegionID, protocol.ChannelDiffUpdate, data)
		if err != nil {
			glog.Warningf("conn %s: %v", conn.ID, err)
			continue
		}
		if sent {
			s.metrics.DiffSent(script.InsertedBytes(), len(change.Next.Source))
		}
	}
	glog.V(2).Infof("session %s: region %s v%d, %d ops", sessionID, payload.RegionID, change.Next.Version, len(script))
}
