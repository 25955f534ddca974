// Package gateway is the Operator Gateway: the HTTP/WebSocket surface
// operators and the control-room browser connect to. It serves the control
// UI's static assets, exposes a small JSON status/control API, and upgrades
// a single WebSocket endpoint into a bus.Client so the browser can
// subscribe to topics and issue commands against the Event Bus.
package gateway

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ebot1234/var-coordinator/pkg/bus"
	"github.com/ebot1234/var-coordinator/pkg/version"
)

// Config configures the gateway's HTTP surface.
type Config struct {
	StatusUsername string
	StatusPassword string
	StaticDir      string
}

// Gateway is the HTTP server fronting the Event Bus.
type Gateway struct {
	*echo.Echo
	cfg        Config
	bus        *bus.Bus
	httpServer *http.Server
	startedAt  time.Time
}

// New creates a Gateway and registers its routes. Call Start to begin
// serving.
func New(cfg Config, eventBus *bus.Bus) *Gateway {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	g := &Gateway{
		Echo:      e,
		cfg:       cfg,
		bus:       eventBus,
		startedAt: time.Now(),
	}

	g.setupMiddleware()
	g.registerRoutes()
	return g
}

func (g *Gateway) setupMiddleware() {
	g.Use(middleware.Recover())
	g.Use(middleware.RequestID())
	g.Use(middleware.Gzip())
}

func (g *Gateway) registerRoutes() {
	if g.cfg.StaticDir != "" {
		g.Static("/assets", g.cfg.StaticDir)
		g.GET("/", func(c echo.Context) error {
			return c.File(g.cfg.StaticDir + "/index.html")
		})
	}

	apiGroup := g.Group("/api")
	if g.cfg.StatusUsername != "" {
		apiGroup.GET("/status", g.handleStatus, middleware.BasicAuth(g.checkStatusAuth))
	} else {
		apiGroup.GET("/status", g.handleStatus)
	}
	apiGroup.POST("/reload_clients", g.handleReloadClients)
	apiGroup.GET("/websocket", g.handleWebsocket)
}

func (g *Gateway) checkStatusAuth(username, password string, c echo.Context) (bool, error) {
	return username == g.cfg.StatusUsername && password == g.cfg.StatusPassword, nil
}

// statusResponse is the shape of GET /api/status.
type statusResponse struct {
	Version string  `json:"version"`
	UptimeS float64 `json:"uptime_seconds"`
}

func (g *Gateway) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Version: version.Full(),
		UptimeS: time.Since(g.startedAt).Seconds(),
	})
}

func (g *Gateway) handleReloadClients(c echo.Context) error {
	g.bus.ReloadClients()
	return c.NoContent(http.StatusNoContent)
}

// Start starts the HTTP server on addr (blocking).
func (g *Gateway) Start(addr string) error {
	g.httpServer = &http.Server{
		Addr:    addr,
		Handler: g.Echo,
	}
	return g.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.httpServer == nil {
		return nil
	}
	return g.httpServer.Shutdown(ctx)
}
