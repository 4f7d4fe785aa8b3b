// Package debugsrv runs an optional HTTP endpoint with pprof profiles and
// read-only JSON views of the poller, the notifier, the registry, the price
// state store and the audit trail.
//
// It binds to loopback by default. A non-loopback address needs a token.
package debugsrv

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"pricebot/internal/delivery"
	"pricebot/internal/notifier"
	"pricebot/internal/poller"
	"pricebot/internal/runtime/supervisor"
	"pricebot/internal/storage"
	"pricebot/internal/subscription"
	logx "pricebot/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6060"

type Config struct {
	Addr  string
	Token string
}

type Deps struct {
	Tasks         interface{ Snapshot() []poller.TaskInfo }
	Sends         interface{ Snapshot() []notifier.HistoryItem }
	Subscriptions interface{ List() []subscription.Destination }
	States        interface{ Snapshot() map[string]delivery.State }
	Audit         storage.Store // nil hides /debug/audit
}

type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
	sup *supervisor.Supervisor
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{cfg: cfg, deps: deps, log: log.With(logx.String("comp", "debugsrv"))}
}

// CheckBind rejects a non-loopback address without a token.
func CheckBind(addr, token string) error {
	if strings.TrimSpace(addr) == "" || strings.TrimSpace(token) != "" || isLoopbackAddr(addr) {
		return nil
	}
	return errors.New("debug.addr: non-loopback address requires debug.token")
}

// Start listens synchronously so bind errors reach the caller, then serves
// in the background until Stop or ctx cancellation.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	if err := CheckBind(s.cfg.Addr, s.cfg.Token); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	sup := supervisor.New(ctx, supervisor.WithLogger(s.log), supervisor.WithCancelOnError(false))
	s.ln, s.srv, s.sup = ln, srv, sup

	sup.Go("http.serve", func(context.Context) error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	sup.Go0("http.shutdown_on_cancel", func(c context.Context) {
		<-c.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	s.log.Info("debug server started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", s.cfg.Token != ""))
	return nil
}

// Addr returns the bound address, or "" when not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.ln, s.sup = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	sup.Cancel()
	if werr := sup.Wait(ctx); err == nil {
		err = werr
	}
	s.log.Info("debug server stopped")
	return err
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(s.cfg.Token, h) }

	mux.HandleFunc("/healthz", wrap(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))

	if s.deps.Tasks != nil {
		mux.HandleFunc("/debug/tasks", wrap(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, s.deps.Tasks.Snapshot())
		}))
	}
	if s.deps.Sends != nil {
		mux.HandleFunc("/debug/sends", wrap(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, s.deps.Sends.Snapshot())
		}))
	}
	if s.deps.Subscriptions != nil {
		mux.HandleFunc("/debug/subscriptions", wrap(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, s.deps.Subscriptions.List())
		}))
	}
	if s.deps.States != nil {
		mux.HandleFunc("/debug/state", wrap(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, s.deps.States.Snapshot())
		}))
	}
	if s.deps.Audit != nil {
		mux.HandleFunc("/debug/audit", wrap(func(w http.ResponseWriter, r *http.Request) {
			limit := 50
			if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
				limit = v
			}
			entries, err := s.deps.Audit.RecentAudit(r.Context(), limit)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, entries)
		}))
	}
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
			}
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
