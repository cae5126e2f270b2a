package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/fixturectl/internal/fixture"
	"github.com/loykin/fixturectl/internal/metrics"
	"github.com/loykin/fixturectl/internal/process"
	"github.com/loykin/fixturectl/internal/waiter"
)

// Router exposes a running fixture over HTTP.
// Endpoints:
//
//	GET  {basePath}/status                     query: pattern=glob (optional)
//	GET  {basePath}/status/:name
//	GET  {basePath}/manifest
//	GET  {basePath}/metrics
//	GET  {basePath}/members/:name/resources
//	POST {basePath}/members/:name/terminate    query: force=true
//	POST {basePath}/members/:name/wait         query: state=SERVING&timeout=10s
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      *fixture.Supervisor
	basePath string
	gatherer prometheus.Gatherer
}

// NewRouter constructs a Router. A nil gatherer serves the default registry.
func NewRouter(sup *fixture.Supervisor, basePath string, gatherer prometheus.Gatherer) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath), gatherer: gatherer}
}

// Handler returns an http.Handler powered by gin.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatusAll)
	group.GET("/status/:name", r.handleStatus)
	group.GET("/manifest", r.handleManifest)
	group.GET("/members/:name/resources", r.handleResources)
	group.POST("/members/:name/terminate", r.handleTerminate)
	group.POST("/members/:name/wait", r.handleWait)

	var mh http.Handler
	if r.gatherer != nil {
		mh = metrics.HandlerFor(r.gatherer)
	} else {
		mh = metrics.Handler()
	}
	group.GET("/metrics", gin.WrapH(mh))
	return g
}

// NewServer binds addr and serves the control API for sup in the
// background. Bind errors are returned before anything is served.
func NewServer(addr, basePath string, sup *fixture.Supervisor) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           NewRouter(sup, basePath, nil).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) member(c *gin.Context) (*process.ManagedProcess, bool) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-]"})
		return nil, false
	}
	p, err := r.sup.Member(name)
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return nil, false
	}
	return p, true
}

func (r *Router) handleStatusAll(c *gin.Context) {
	pattern := c.Query("pattern")
	if pattern == "" {
		writeJSON(c, http.StatusOK, r.sup.Status())
		return
	}
	sts, err := r.sup.StatusMatch(pattern)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, sts)
}

func (r *Router) handleStatus(c *gin.Context) {
	p, ok := r.member(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, p.Status())
}

func (r *Router) handleManifest(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Manifest())
}

func (r *Router) handleResources(c *gin.Context) {
	p, ok := r.member(c)
	if !ok {
		return
	}
	pid := p.PID()
	if pid == 0 {
		writeJSON(c, http.StatusConflict, errorResp{Error: "process is not running"})
		return
	}
	res, err := metrics.SampleResources(pid)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleTerminate(c *gin.Context) {
	p, ok := r.member(c)
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))
	var err error
	if force {
		err = p.Kill(c.Request.Context())
	} else {
		err = p.Terminate(c.Request.Context())
	}
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleWait(c *gin.Context) {
	p, ok := r.member(c)
	if !ok {
		return
	}
	state := c.Query("state")
	if state == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "state query param required"})
		return
	}
	var timeout time.Duration
	if s := c.Query("timeout"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid timeout: " + err.Error()})
			return
		}
		timeout = d
	}
	err := p.WaitForState(c.Request.Context(), state, timeout)
	switch {
	case err == nil:
		writeJSON(c, http.StatusOK, okResp{OK: true})
	case errors.Is(err, waiter.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		writeJSON(c, http.StatusGatewayTimeout, errorResp{Error: err.Error()})
	case errors.Is(err, process.ErrProcessDied), errors.Is(err, process.ErrNotRunning):
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
	}
}
