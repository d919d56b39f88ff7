package server

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/devloop/internal/metrics"
	"github.com/loykin/devloop/internal/pipeline"
	"github.com/loykin/devloop/internal/restart"
)

// Controller is the running dev session the API observes and drives.
type Controller interface {
	Status() pipeline.Status
	Restart() error
}

// Router provides embeddable HTTP handlers for a dev session.
// Endpoints:
//
//	GET  {basePath}/status            session snapshot
//	GET  {basePath}/processes/{name}  one tracked child or supervised instance
//	POST {basePath}/restart           restart the supervised app now
//	GET  {basePath}/metrics           Prometheus metrics (when enabled)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctrl     Controller
	basePath string
	metrics  bool
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/abc" results in /abc/status, /abc/restart.
func NewRouter(ctrl Controller, basePath string, withMetrics bool) *Router {
	return &Router{ctrl: ctrl, basePath: sanitizeBase(basePath), metrics: withMetrics}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/processes/:name", r.handleProcess)
	group.POST("/restart", r.handleRestart)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer listens on addr and serves the router in the background.
// Listen errors are returned; the caller shuts the server down.
func NewServer(addr, basePath string, ctrl Controller, withMetrics bool) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	r := NewRouter(ctrl, basePath, withMetrics)
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

type processResp struct {
	pipeline.ProcInfo
	Supervised bool `json:"supervised"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctrl.Status())
}

func (r *Router) handleProcess(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	st := r.ctrl.Status()
	for _, p := range st.Children {
		if p.Name == name {
			writeJSON(c, http.StatusOK, processResp{ProcInfo: p})
			return
		}
	}
	for _, p := range st.Supervised {
		if p.Name == name {
			writeJSON(c, http.StatusOK, processResp{ProcInfo: p, Supervised: true})
			return
		}
	}
	writeJSON(c, http.StatusNotFound, errorResp{Error: "no tracked process named " + name})
}

func (r *Router) handleRestart(c *gin.Context) {
	if err := r.ctrl.Restart(); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, restart.ErrLiveReloadURLUnknown) {
			code = http.StatusConflict
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
