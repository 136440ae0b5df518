package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/roach88/pulse/internal/engine"
	"github.com/roach88/pulse/internal/events"
)

// ParticipantHeader carries the caller identity.
const ParticipantHeader = "X-Participant"

// Config holds server settings.
type Config struct {
	// AllowOrigins lists CORS origins. Empty allows all.
	AllowOrigins []string

	// Rate and Burst bound requests per participant. Each client IP gets
	// ipMultiplier times as much across all participants. Rate 0 disables
	// limiting.
	Rate  rate.Limit
	Burst int

	Logger *slog.Logger
}

// DefaultConfig returns the settings used by `pulse serve`.
func DefaultConfig() Config {
	return Config{
		Rate:   10,
		Burst:  20,
		Logger: slog.Default(),
	}
}

// Server serves the ledger over HTTP.
type Server struct {
	eng       *engine.Engine
	bus       *events.Bus
	limiter   *participantLimiter
	ipLimiter *participantLimiter
	cfg       Config
	logger    *slog.Logger
	router    *gin.Engine
}

// NewServer builds the router. bus may be nil, in which case event
// streaming is unavailable and only the event log can be read.
func NewServer(eng *engine.Engine, bus *events.Bus, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		eng:    eng,
		bus:    bus,
		cfg:    cfg,
		logger: cfg.Logger,
	}
	if cfg.Rate > 0 {
		s.limiter = newParticipantLimiter(cfg.Rate, cfg.Burst)
		s.ipLimiter = newParticipantLimiter(cfg.Rate*ipMultiplier, cfg.Burst*ipMultiplier)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	corsCfg := cors.DefaultConfig()
	if len(s.cfg.AllowOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.cfg.AllowOrigins
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", ParticipantHeader}
	corsCfg.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsCfg))

	v1 := router.Group("/v1")
	v1.Use(s.rateLimit())
	{
		v1.GET("/health", s.health)
		v1.GET("/platform", s.getPlatform)
		v1.PUT("/platform/fee", s.requireParticipant, s.setPlatformFee)

		polls := v1.Group("/polls")
		{
			polls.GET("", s.listPolls)
			polls.POST("", s.requireParticipant, s.createPoll)
			polls.GET("/:id", s.getPoll)
			polls.POST("/:id/finalize", s.requireParticipant, s.finalize)
			polls.POST("/:id/cancel", s.requireParticipant, s.cancelPoll)

			polls.GET("/:id/responses", s.listResponses)
			polls.POST("/:id/responses", s.requireParticipant, s.submitResponse)
			polls.GET("/:id/responses/:participant", s.getResponse)
			polls.PUT("/:id/responses/:participant/rating", s.requireParticipant, s.rateResponse)

			polls.GET("/:id/whitelist/:participant", s.isWhitelisted)
			polls.POST("/:id/whitelist", s.requireParticipant, s.addToWhitelist)
			polls.DELETE("/:id/whitelist", s.requireParticipant, s.removeFromWhitelist)
		}

		v1.GET("/transfers", s.listTransfers)
		v1.GET("/events", s.events)
		v1.GET("/audit", s.audit)
	}
	return router
}

// requestLogger logs each request at debug level.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"participant", c.GetHeader(ParticipantHeader),
			"duration", time.Since(start),
		)
	}
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.bus != nil {
		s.bus.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
