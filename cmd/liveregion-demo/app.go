package main

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"

	"github.com/golang/glog"

	"github.com/livefir/liveregion"
	"github.com/livefir/liveregion/internal/config"
	"github.com/livefir/liveregion/internal/token"
)

//go:embed templates/*.html
var templateFS embed.FS

type app struct {
	cfg       *config.Config
	live      *liveregion.Server
	templates *template.Template
	tokens    *liveregion.TokenAuthenticator // nil unless auth mode is token
}

// page is the data every page template receives
type page struct {
	Title    string
	Endpoint string
	State    interface{}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	tmpl, err := template.New("").Funcs(liveregion.FuncMap()).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	a := &app{cfg: cfg, templates: tmpl}

	var opts []liveregion.Option
	if cfg.Auth.Mode == "token" {
		svc, err := token.NewService(&token.Config{Secret: []byte(cfg.Auth.Secret), TTL: cfg.Auth.TokenTTL})
		if err != nil {
			return nil, err
		}
		a.tokens = liveregion.NewTokenAuthenticator(svc)
		opts = append(opts, liveregion.WithAuthenticator(a.tokens))
	}

	a.live, err = liveregion.NewFromConfig(ctx, cfg, tmpl, opts...)
	if err != nil {
		return nil, err
	}

	registerCounter(a.live)
	registerForm(a.live, newValidator())
	registerStream(a.live)

	a.live.Start(ctx)
	return a, nil
}

func (a *app) close() {
	if err := a.live.Close(); err != nil {
		glog.Warningf("close: %v", err)
	}
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Path, a.live)
	mux.Handle("/metrics", a.live.Metrics().Handler())
	mux.HandleFunc("/token", a.issueToken)

	mux.HandleFunc("GET /{$}", a.page("counter-page", "Counter", func() interface{} { return counterState{} }))
	mux.HandleFunc("GET /form", a.page("form-page", "Sign up", func() interface{} { return formState{} }))
	mux.HandleFunc("GET /event-stream", a.page("stream-page", "Event stream", func() interface{} { return streamState{} }))
	return mux
}

func (a *app) page(name, title string, initial func() interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endpoint := a.cfg.Path
		if tok := r.URL.Query().Get("token"); tok != "" {
			endpoint += "?token=" + url.QueryEscape(tok)
		}

		data := page{Title: title, Endpoint: endpoint, State: initial()}
		if err := a.live.RenderPage(w, r, a.templates, name, data); err != nil {
			glog.Errorf("render %s: %v", name, err)
		}
	}
}

// issueToken hands out a session token when the server runs in token mode
func (a *app) issueToken(w http.ResponseWriter, r *http.Request) {
	if a.tokens == nil {
		http.Error(w, "token authentication is disabled", http.StatusNotFound)
		return
	}
	user := r.URL.Query().Get("user")
	if user == "" {
		http.Error(w, "user is required", http.StatusBadRequest)
		return
	}
	tok, sessionID, err := a.tokens.Issue(user)
	if err != nil {
		glog.Errorf("issue token: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"token": tok, "sessionId": sessionID})
}
