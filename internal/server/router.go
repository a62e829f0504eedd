package server

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/livuals/internal/history"
	"github.com/loykin/livuals/internal/launcher"
	"github.com/loykin/livuals/internal/metrics"
	"github.com/loykin/livuals/internal/supervisor"
)

// StateSource reports the launch snapshot; *launcher.Launcher implements it.
type StateSource interface {
	State() launcher.Snapshot
}

// UsageSource reports backend resource usage; *supervisor.Supervisor implements it.
type UsageSource interface {
	Usage() (supervisor.Usage, bool)
}

// Deps are the collaborators the status API reads from. Only State is required.
type Deps struct {
	State    StateSource
	Usage    UsageSource
	History  history.Sink
	Gatherer prometheus.Gatherer
}

// Router provides embeddable HTTP handlers for local launch diagnostics.
// Endpoints:
//
//	GET {basePath}/status    launch snapshot and backend usage
//	GET {basePath}/healthz   200 while the backend is ready and alive, else 503
//	GET {basePath}/history   query: limit=N (default 20)
//	GET {basePath}/metrics   prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	deps     Deps
	basePath string
}

func NewRouter(d Deps, basePath string) *Router {
	return &Router{deps: d, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealth)
	group.GET("/history", r.handleHistory)
	if r.deps.Gatherer != nil {
		group.GET("/metrics", gin.WrapH(metrics.HandlerFor(r.deps.Gatherer)))
	} else {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer binds addr and serves the router in the background. Bind errors
// are returned; call Shutdown or Close on the result to stop it.
func NewServer(addr, basePath string, d Deps) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	r := NewRouter(d, basePath)
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type statusResp struct {
	Launch launcher.Snapshot `json:"launch"`
	Usage  *supervisor.Usage `json:"usage,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	resp := statusResp{Launch: r.deps.State.State()}
	if r.deps.Usage != nil {
		if u, ok := r.deps.Usage.Usage(); ok {
			resp.Usage = &u
		}
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleHealth(c *gin.Context) {
	st := r.deps.State.State()
	switch {
	case !st.Done:
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "starting: " + string(st.Stage)})
	case !st.Ready:
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: st.Error})
	case !st.Backend.Running || st.Backend.Exited:
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "backend exited"})
	default:
		writeJSON(c, http.StatusOK, okResp{OK: true})
	}
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.deps.History == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "launch history disabled"})
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	recs, err := history.Recent(c.Request.Context(), r.deps.History, limit)
	if errors.Is(err, history.ErrNotReadable) {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	writeJSON(c, http.StatusOK, recs)
}
