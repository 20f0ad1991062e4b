// Package api is the control surface: a small REST API for connecting to
// a receiver, loading media and driving playback, plus the metrics
// endpoint.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"castbeam.app/castbeam/castprotocol"
	"castbeam.app/castbeam/controller"
	"castbeam.app/castbeam/devices"
	"castbeam.app/castbeam/media"
)

// Caster is the controller surface the API drives. Narrowed to an
// interface so handlers can be tested against a stub.
type Caster interface {
	Connect(ctx context.Context, host string, port int) error
	Disconnect()
	Load(ctx context.Context, path string) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	SetVolume(ctx context.Context, level float64) error
	Status(ctx context.Context) castprotocol.CastStatus
	DeviceAddr() string
}

// DeviceLister returns the discovery cache. Swappable in tests.
type DeviceLister func() []devices.Device

// Server is the REST API over one Caster.
type Server struct {
	router  *gin.Engine
	caster  Caster
	devices DeviceLister
}

type connectRequest struct {
	Host string `json:"host" binding:"required"`
	Port int    `json:"port"`
}

type loadRequest struct {
	Path string `json:"path" binding:"required"`
}

type seekRequest struct {
	Position float64 `json:"position"`
}

type volumeRequest struct {
	Level float64 `json:"level"`
}

// New creates the API server around caster.
func New(caster Caster, lister DeviceLister) *Server {
	s := &Server{caster: caster, devices: lister}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		api.POST("/connect", s.handleConnect)
		api.POST("/disconnect", s.handleDisconnect)
		api.POST("/load", s.handleLoad)
		api.PUT("/play", s.handlePlay)
		api.PUT("/pause", s.handlePause)
		api.PUT("/stop", s.handleStop)
		api.PUT("/seek", s.handleSeek)
		api.PUT("/volume", s.handleVolume)
		api.GET("/status", s.handleStatus)
		api.GET("/devices", s.handleDevices)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router = router
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the API server.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) handleConnect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	if req.Port == 0 {
		req.Port = 8009
	}

	if err := s.caster.Connect(c.Request.Context(), req.Host, req.Port); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device": s.caster.DeviceAddr()})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	s.caster.Disconnect()
	c.Status(http.StatusAccepted)
}

func (s *Server) handleLoad(c *gin.Context) {
	var req loadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}

	if err := s.caster.Load(c.Request.Context(), req.Path); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handlePlay(c *gin.Context) {
	s.command(c, s.caster.Play)
}

func (s *Server) handlePause(c *gin.Context) {
	s.command(c, s.caster.Pause)
}

func (s *Server) handleStop(c *gin.Context) {
	s.command(c, s.caster.Stop)
}

func (s *Server) command(c *gin.Context, fn func(context.Context) error) {
	if err := fn(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleSeek(c *gin.Context) {
	var req seekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	if req.Position < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": "position must not be negative"})
		return
	}

	if err := s.caster.Seek(c.Request.Context(), req.Position); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleVolume(c *gin.Context) {
	var req volumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": err.Error()})
		return
	}
	if req.Level < 0 || req.Level > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "detail": "level must be between 0 and 1"})
		return
	}

	if err := s.caster.SetVolume(c.Request.Context(), req.Level); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleStatus(c *gin.Context) {
	status := s.caster.Status(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"state":       string(status.State),
		"playerState": status.PlayerState,
		"currentTime": status.CurrentTime,
		"duration":    status.Duration,
		"volume":      status.Volume,
		"muted":       status.Muted,
		"title":       status.MediaTitle,
		"contentType": status.ContentType,
	})
}

func (s *Server) handleDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": s.devices()})
}

// writeError maps domain errors onto HTTP statuses; clients always get the
// {error, detail} shape, never a stack trace.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	reason := "internal error"

	switch {
	case errors.Is(err, controller.ErrNotConnected):
		status = http.StatusConflict
		reason = "not connected"
	case errors.Is(err, castprotocol.ErrInvalidState):
		status = http.StatusConflict
		reason = "invalid state"
	case errors.Is(err, media.ErrMediaNotFound):
		status = http.StatusNotFound
		reason = "media not found"
	case errors.Is(err, media.ErrProbeFailed):
		status = http.StatusUnprocessableEntity
		reason = "media probe failed"
	case errors.Is(err, castprotocol.ErrLoadFailed):
		status = http.StatusBadGateway
		reason = "receiver rejected media"
	case errors.Is(err, castprotocol.ErrLaunchFailed):
		status = http.StatusBadGateway
		reason = "receiver app launch failed"
	case errors.Is(err, castprotocol.ErrAuthFailed):
		status = http.StatusBadGateway
		reason = "device authentication failed"
	case errors.Is(err, castprotocol.ErrSessionLost),
		errors.Is(err, castprotocol.ErrHeartbeatTimeout):
		status = http.StatusBadGateway
		reason = "receiver session lost"
	case errors.Is(err, castprotocol.ErrRequestTimeout):
		status = http.StatusGatewayTimeout
		reason = "receiver did not answer"
	}

	c.JSON(status, gin.H{"error": reason, "detail": err.Error()})
}
