// Package region keeps the server side of every live region: its rendered source,
// the source's hash, the template state that produced it and the template path
// that owns it.
package region

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/livefir/liveregion/internal/memory"
	"github.com/livefir/liveregion/internal/store"
)

var (
	// ErrUnknownRegion is returned for region ids the session does not hold.
	ErrUnknownRegion = errors.New("unknown region")
	// ErrConflict is returned when a concurrent update committed first.
	ErrConflict = errors.New("region update conflict")
	// ErrRender wraps renderer failures. Nothing is stored when it is returned.
	ErrRender = errors.New("render failed")
)

// Hash is the deterministic digest of a region source: lowercase hex BLAKE2b-256.
func Hash(source string) string {
	sum := blake2b.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Renderer produces a region source from a template path and decoded template state.
// It must be deterministic in its inputs.
type Renderer interface {
	Render(templatePath string, state interface{}) (string, error)
}

// Snapshot is an atomically read {source, hash} pair plus the data behind it.
type Snapshot struct {
	RegionID     string
	TemplatePath string
	Source       string
	Hash         string
	State        json.RawMessage
	Version      int64
}

// Change is the outcome of a committed update.
type Change struct {
	Prior Snapshot
	Next  Snapshot
}

// Registry holds the regions of one session. It is safe for concurrent use by all
// connections of the session; consistency comes from versioned compare-and-swap
// in the store.
type Registry struct {
	sessionID  string
	store      store.Store
	renderer   Renderer
	budget     *memory.Manager
	maxRetries int
}

// Option configures a Registry
type Option func(*Registry)

// WithBudget enforces a per-session byte budget on stored sources
func WithBudget(m *memory.Manager) Option {
	return func(r *Registry) { r.budget = m }
}

// WithMaxRetries sets how often Mutate retries after a conflict
func WithMaxRetries(n int) Option {
	return func(r *Registry) { r.maxRetries = n }
}

// NewRegistry creates the registry for one session
func NewRegistry(sessionID string, st store.Store, renderer Renderer, opts ...Option) *Registry {
	r := &Registry{
		sessionID:  sessionID,
		store:      st,
		renderer:   renderer,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SessionID returns the owning session
func (r *Registry) SessionID() string { return r.sessionID }

// Render delegates to the renderer, decoding the stored JSON state first so the
// renderer sees the same value whether the state came from memory or storage.
// Invalid UTF-8 in the output is replaced with U+FFFD.
func (r *Registry) Render(templatePath string, state json.RawMessage) (string, error) {
	var data interface{}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &data); err != nil {
			return "", fmt.Errorf("%w: decode state for %s: %v", ErrRender, templatePath, err)
		}
	}
	source, err := r.renderer.Render(templatePath, data)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRender, templatePath, err)
	}
	// diffs count code points, and the JSON wire cannot carry stray bytes
	if !utf8.ValidString(source) {
		glog.Warningf("session %s: %s rendered invalid UTF-8, replacing bad bytes", r.sessionID, templatePath)
		source = strings.ToValidUTF8(source, "\uFFFD")
	}
	return source, nil
}

// Register renders state with templatePath, stores the region under a fresh id
// and returns its snapshot.
func (r *Registry) Register(ctx context.Context, templatePath string, state interface{}) (Snapshot, error) {
	raw, err := encodeState(state)
	if err != nil {
		return Snapshot{}, err
	}
	source, err := r.Render(templatePath, raw)
	if err != nil {
		return Snapshot{}, err
	}

	id := ulid.Make().String()
	size := int64(len(source) + len(raw))
	if r.budget != nil {
		if err := r.budget.Allocate(r.sessionID, id, size); err != nil {
			return Snapshot{}, err
		}
	}

	rec, err := r.store.Insert(ctx, store.Record{
		SessionID:    r.sessionID,
		RegionID:     id,
		TemplatePath: templatePath,
		Source:       source,
		Hash:         Hash(source),
		State:        raw,
	})
	if err != nil {
		r.revert(id, size, 0)
		return Snapshot{}, fmt.Errorf("register %s: %w", templatePath, err)
	}

	glog.V(2).Infof("session %s: registered region %s (%s)", r.sessionID, id, templatePath)
	return snapshotOf(rec), nil
}

// Get returns the current snapshot of a region
func (r *Registry) Get(ctx context.Context, regionID string) (Snapshot, error) {
	rec, err := r.store.Get(ctx, r.sessionID, regionID)
	if errors.Is(err, store.ErrNotFound) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownRegion, regionID)
	}
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(rec), nil
}

// List returns all regions of the session
func (r *Registry) List(ctx context.Context) ([]Snapshot, error) {
	recs, err := r.store.List(ctx, r.sessionID)
	if err != nil {
		return nil, err
	}
	result := make([]Snapshot, 0, len(recs))
	for _, rec := range recs {
		result = append(result, snapshotOf(rec))
	}
	return result, nil
}

// Update re-renders regionID with newState and commits it only if the region is
// still at version expect. It returns the prior and new snapshots so the caller
// can diff them. On render failure nothing is stored.
func (r *Registry) Update(ctx context.Context, regionID string, expect int64, newState interface{}) (Change, error) {
	prior, err := r.Get(ctx, regionID)
	if err != nil {
		return Change{}, err
	}
	if prior.Version != expect {
		return Change{}, fmt.Errorf("%w: %s at version %d, expected %d", ErrConflict, regionID, prior.Version, expect)
	}
	return r.commit(ctx, prior, newState)
}

// Mutate reads the current state, lets fn compute the next one and commits it,
// retrying from a fresh read when another writer committed in between.
func (r *Registry) Mutate(ctx context.Context, regionID string, fn func(state json.RawMessage) (interface{}, error)) (Change, error) {
	for attempt := 0; ; attempt++ {
		prior, err := r.Get(ctx, regionID)
		if err != nil {
			return Change{}, err
		}
		next, err := fn(prior.State)
		if err != nil {
			return Change{}, err
		}
		change, err := r.commit(ctx, prior, next)
		if !errors.Is(err, ErrConflict) || attempt >= r.maxRetries {
			return change, err
		}
		glog.V(1).Infof("session %s: retrying update of %s after conflict (attempt %d)", r.sessionID, regionID, attempt+1)
	}
}

func (r *Registry) commit(ctx context.Context, prior Snapshot, newState interface{}) (Change, error) {
	raw, err := encodeState(newState)
	if err != nil {
		return Change{}, err
	}
	source, err := r.Render(prior.TemplatePath, raw)
	if err != nil {
		return Change{}, err
	}
	size := int64(len(source) + len(raw))
	if r.budget != nil {
		if err := r.budget.Allocate(r.sessionID, prior.RegionID, size); err != nil {
			return Change{}, err
		}
	}

	rec, err := r.store.CompareAndSwap(ctx, store.Record{
		SessionID:    r.sessionID,
		RegionID:     prior.RegionID,
		TemplatePath: prior.TemplatePath,
		Source:       source,
		Hash:         Hash(source),
		State:        raw,
	}, prior.Version)
	switch {
	case errors.Is(err, store.ErrNotFound):
		r.revert(prior.RegionID, size, 0)
		return Change{}, fmt.Errorf("%w: %s", ErrUnknownRegion, prior.RegionID)
	case err != nil:
		held := int64(len(prior.Source) + len(prior.State))
		if cur, gerr := r.store.Get(ctx, r.sessionID, prior.RegionID); gerr == nil {
			// another writer landed first; charge what it stored
			held = int64(len(cur.Source) + len(cur.State))
		}
		r.revert(prior.RegionID, size, held)
		if errors.Is(err, store.ErrConflict) {
			return Change{}, fmt.Errorf("%w: %s moved past version %d", ErrConflict, prior.RegionID, prior.Version)
		}
		return Change{}, err
	}
	return Change{Prior: prior, Next: snapshotOf(rec)}, nil
}

// revert gives back a reservation for a write the store rejected
func (r *Registry) revert(regionID string, reserved, prior int64) {
	if r.budget != nil {
		r.budget.Revert(r.sessionID, regionID, reserved, prior)
	}
}

// Drop deletes every region of the session from the store and releases its budget
func (r *Registry) Drop(ctx context.Context) error {
	if r.budget != nil {
		r.budget.ReleaseSession(r.sessionID)
	}
	return r.store.DeleteSession(ctx, r.sessionID)
}

func encodeState(state interface{}) (json.RawMessage, error) {
	if raw, ok := state.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode template state: %w", err)
	}
	return raw, nil
}

func snapshotOf(rec store.Record) Snapshot {
	return Snapshot{
		RegionID:     rec.RegionID,
		TemplatePath: rec.TemplatePath,
		Source:       rec.Source,
		Hash:         rec.Hash,
		State:        json.RawMessage(rec.State),
		Version:      rec.Version,
	}
}
