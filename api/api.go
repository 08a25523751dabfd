// Package api exposes the admin HTTP interface: list management, session
// introspection and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/semihalev/zlog/v2"

	"github.com/fqdnguard/fqdnguard/config"
	"github.com/fqdnguard/fqdnguard/middleware"
	"github.com/fqdnguard/fqdnguard/middleware/filter"
	"github.com/fqdnguard/fqdnguard/middleware/forwarder"
	"github.com/fqdnguard/fqdnguard/policy"
	"github.com/fqdnguard/fqdnguard/session"
)

// API type
type API struct {
	addr     string
	engine   *policy.Engine
	sessions *session.Tracker
}

// New return new api
func New(cfg *config.Config) *API {
	a := &API{
		addr: cfg.API,
	}

	if f, ok := middleware.Get("filter").(*filter.Filter); ok {
		a.engine = f.Engine()
	}

	if fw, ok := middleware.Get("forwarder").(*forwarder.Forwarder); ok {
		a.sessions = fw.Sessions()
	}

	return a
}

func (a *API) existsAllow(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"exists": a.engine.ExistsAllow(c.Param("key"))})
}

func (a *API) setAllow(c *gin.Context) {
	a.engine.AddAllow(c.Param("key"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) removeAllow(c *gin.Context) {
	a.engine.RemoveAllow(c.Param("key"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) existsDeny(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"exists": a.engine.ExistsDeny(c.Param("key"))})
}

func (a *API) setDeny(c *gin.Context) {
	a.engine.AddDeny(c.Param("key"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) removeDeny(c *gin.Context) {
	a.engine.RemoveDeny(c.Param("key"))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) lists(c *gin.Context) {
	allow, deny := a.engine.Counts()
	c.JSON(http.StatusOK, gin.H{
		"mode":  a.engine.Mode().String(),
		"allow": allow,
		"deny":  deny,
	})
}

func (a *API) liveSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"live": a.sessions.Len()})
}

func (a *API) register(r *gin.Engine) {
	if a.engine != nil {
		allow := r.Group("/api/v1/allowlist")
		{
			allow.GET("/exists/:key", a.existsAllow)
			allow.GET("/set/:key", a.setAllow)
			allow.GET("/remove/:key", a.removeAllow)
		}

		deny := r.Group("/api/v1/denylist")
		{
			deny.GET("/exists/:key", a.existsDeny)
			deny.GET("/set/:key", a.setDeny)
			deny.GET("/remove/:key", a.removeDeny)
		}

		r.GET("/api/v1/lists", a.lists)
	}

	if a.sessions != nil {
		r.GET("/api/v1/sessions", a.liveSessions)
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Run API server
func (a *API) Run(ctx context.Context) {
	if a.addr == "" {
		return
	}

	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	a.register(r)

	srv := &http.Server{
		Addr:    a.addr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error("Start API server failed", "error", err.Error())
		}
	}()

	zlog.Info("API server listening...", "addr", a.addr)

	go func() {
		<-ctx.Done()

		zlog.Info("API server stopping...", "addr", a.addr)

		apiCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(apiCtx); err != nil {
			zlog.Error("Shutdown API server failed", "error", err.Error())
		}
	}()
}
