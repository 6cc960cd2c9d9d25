// Package healthz exposes the gateway's liveness and readiness endpoints
// over a small gin router, independent of the WebSocket listener.
package healthz

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the admin HTTP router. ready is polled on every
// /readiness/ call so the handler reflects the gateway's current state
// (e.g. "false" while the transcriber model is still loading).
func NewRouter(ready func() bool) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	apiv1 := engine.Group("v1")
	apiv1.GET("/healthz/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	apiv1.GET("/readiness/", func(c *gin.Context) {
		if ready == nil || ready() {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not-ready"})
	})

	return engine
}
