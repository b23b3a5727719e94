package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/bhandras/ussdpilot/internal/api"
	"github.com/bhandras/ussdpilot/internal/config"
	"github.com/bhandras/ussdpilot/internal/crypto"
	"github.com/bhandras/ussdpilot/internal/version"
	"github.com/bhandras/ussdpilot/pkg/logger"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

// ServeCommand runs the HTTP API until ctx is canceled.
func ServeCommand(ctx context.Context, cfg *config.Config, demo bool) error {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	var jwtManager *crypto.JWTManager
	if cfg.APISecret != "" {
		m, err := crypto.NewJWTManager(cfg.APISecret)
		if err != nil {
			return fmt.Errorf("failed to create JWT manager: %w", err)
		}
		jwtManager = m
	} else {
		logger.Warnf("No API secret configured - the API is unauthenticated")
	}

	engine, err := NewEngine(ctx, cfg, EngineOptions{Demo: demo})
	if err != nil {
		return err
	}

	deps := api.Deps{
		Sessions:       engine.Sessions,
		Updates:        engine.Bus,
		JWT:            jwtManager,
		AllowedOrigins: cfg.AllowedOrigins,
		Version:        version.Version(),
	}
	if engine.Journal != nil {
		deps.Journal = engine.Journal
	}
	server := api.NewServer(deps)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = engine.Close(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	httpServer := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	logger.Infof("ussdpilot %s listening on http://%s", version.Version(), ln.Addr())
	logger.Infof("Dial code: %s, confirm mode: %s", cfg.Session.DialCode, cfg.Session.ConfirmMode)
	if demo {
		logger.Infof("Demo mode: sessions run against the built-in LOOP simulator")
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	logger.Infof("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	server.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("HTTP shutdown: %v", err)
	}
	if err := engine.Close(shutdownCtx); err != nil {
		logger.Warnf("Engine shutdown: %v", err)
	}

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", serveErr)
	}
	return nil
}
