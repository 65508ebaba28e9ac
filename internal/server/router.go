// Package server exposes the embedded HTTP control API: start/stop/
// status for supervised tools, synchronous one-shot runs, log tails,
// and the shutdown trigger.
package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clipforge/toolhost/internal/executor"
	"github.com/clipforge/toolhost/internal/logger"
	"github.com/clipforge/toolhost/internal/process"
	"github.com/clipforge/toolhost/internal/supervisor"
)

// Router provides embeddable HTTP handlers for the tool host.
// Endpoints under basePath:
//
//	POST /start     body: Spec JSON
//	POST /stop      query: id=...&grace=2s (grace optional)
//	GET  /status    query: id=... (single) or none (all)
//	GET  /logs      query: id=...&lines=100
//	POST /run       body: RunRequest JSON, synchronous
//	POST /quiesce   stop accepting new work
//	POST /shutdown  trigger app teardown
//	GET  /healthz
//	GET  /metrics   Prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup        *supervisor.Supervisor
	exec       *executor.Executor
	defaultLog logger.Config
	basePath   string
	onShutdown func()
	draining   atomic.Bool
}

// NewRouter constructs a Router. onShutdown, when non-nil, is invoked
// (once, asynchronously) by POST /shutdown.
func NewRouter(sup *supervisor.Supervisor, exec *executor.Executor, defaultLog logger.Config, basePath string, onShutdown func()) *Router {
	return &Router{
		sup:        sup,
		exec:       exec,
		defaultLog: defaultLog,
		basePath:   normalizeBasePath(basePath),
		onShutdown: onShutdown,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.GET("/status", r.handleStatus)
	group.GET("/logs", r.handleLogs)
	group.POST("/run", r.handleRun)
	group.POST("/quiesce", r.handleQuiesce)
	group.POST("/shutdown", r.handleShutdown)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type startResp struct {
	Started bool `json:"started"`
}

func (r *Router) handleStart(c *gin.Context) {
	if r.draining.Load() {
		c.JSON(http.StatusServiceUnavailable, errorResp{Error: "shutting down"})
		return
	}
	var spec process.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if spec.ID == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "spec.id required"})
		return
	}
	if !validProcessID(spec.ID) {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid spec.id: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	if !validAbsPath(spec.WorkDir) {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid workdir: must be absolute path without traversal"})
		return
	}
	if !validAbsPath(spec.Log.Dir) {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid log.dir: must be absolute path without traversal"})
		return
	}
	started, err := r.sup.Start(spec)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if !started {
		c.JSON(http.StatusConflict, startResp{Started: false})
		return
	}
	c.JSON(http.StatusOK, startResp{Started: true})
}

func (r *Router) handleStop(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "id query param required"})
		return
	}
	var grace time.Duration
	if gs := c.Query("grace"); gs != "" {
		d, err := time.ParseDuration(gs)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResp{Error: "invalid grace: " + err.Error()})
			return
		}
		grace = d
	}
	if err := r.sup.Stop(id, grace); err != nil {
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	if id := c.Query("id"); id != "" {
		c.JSON(http.StatusOK, r.sup.Status(id))
		return
	}
	c.JSON(http.StatusOK, r.sup.StatusAll())
}

type logsResp struct {
	ID    string   `json:"id"`
	Lines []string `json:"lines"`
}

func (r *Router) handleLogs(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "id query param required"})
		return
	}
	if !validProcessID(id) {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid id"})
		return
	}
	n := 100
	if ls := c.Query("lines"); ls != "" {
		v, err := strconv.Atoi(ls)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, errorResp{Error: "invalid lines: must be a positive integer"})
			return
		}
		n = v
	}
	logCfg := r.defaultLog
	if spec, ok := r.sup.Spec(id); ok && spec.Log.Dir != "" {
		logCfg = spec.Log
	}
	lines, err := logCfg.Tail(id, n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, logsResp{ID: id, Lines: lines})
}

// RunRequest is the body of POST /run.
type RunRequest struct {
	Spec    process.Spec  `json:"spec"`
	Timeout time.Duration `json:"timeout,omitempty"`
	JobID   string        `json:"job_id,omitempty"`
	Stdin   string        `json:"stdin,omitempty"`
}

// RunResponse is the synchronous result of a one-shot run.
type RunResponse struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Error    string `json:"error,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

func (r *Router) handleRun(c *gin.Context) {
	if r.draining.Load() {
		c.JSON(http.StatusServiceUnavailable, errorResp{Error: "shutting down"})
		return
	}
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Spec.ID == "" || !validProcessID(req.Spec.ID) {
		c.JSON(http.StatusBadRequest, errorResp{Error: "valid spec.id required"})
		return
	}
	if !validAbsPath(req.Spec.WorkDir) {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid workdir: must be absolute path without traversal"})
		return
	}
	opts := executor.Options{Timeout: req.Timeout, JobID: req.JobID}
	if req.Stdin != "" {
		stdin := req.Stdin
		opts.Stdin = func(w io.Writer) error {
			_, err := io.WriteString(w, stdin)
			return err
		}
	}
	res, err := r.exec.Run(c.Request.Context(), req.Spec, opts)
	resp := RunResponse{ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}
	if err != nil {
		var te *executor.TimeoutError
		if errors.As(err, &te) {
			resp.TimedOut = true
		}
		resp.Error = err.Error()
		c.JSON(http.StatusGatewayTimeout, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleQuiesce(c *gin.Context) {
	r.draining.Store(true)
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleShutdown(c *gin.Context) {
	r.draining.Store(true)
	if r.onShutdown != nil {
		go r.onShutdown()
	}
	c.JSON(http.StatusAccepted, okResp{OK: true})
}

func (r *Router) handleHealthz(c *gin.Context) {
	if r.draining.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "draining"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
