package providers

import (
	"context"
	"errors"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/inkwellapp/inkwell-server/internal/api"
	"github.com/inkwellapp/inkwell-server/internal/config"
	"github.com/inkwellapp/inkwell-server/internal/logger"
	"github.com/inkwellapp/inkwell-server/internal/ratelimit"
	"github.com/inkwellapp/inkwell-server/internal/service"
)

// ShareLimiterHandle wraps the share-route rate limiter with Shutdownable.
type ShareLimiterHandle struct {
	*ratelimit.KeyedRateLimiter
}

// Shutdown implements do.Shutdownable.
func (h *ShareLimiterHandle) Shutdown() error {
	h.Stop()
	return nil
}

// ProvideShareLimiter provides the per-IP rate limiter for the public
// share-increment route.
func ProvideShareLimiter(i do.Injector) (*ShareLimiterHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return &ShareLimiterHandle{
		KeyedRateLimiter: ratelimit.New(cfg.Share.RatePerSecond, cfg.Share.Burst),
	}, nil
}

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP server and starts listening.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	authService := do.MustInvoke[*service.AuthService](i)
	postService := do.MustInvoke[*service.PostService](i)
	limiterHandle := do.MustInvoke[*ShareLimiterHandle](i)

	handler := api.NewServer(cfg, authService, postService, limiterHandle.KeyedRateLimiter, log.Logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", "error", err)
		}
	}()

	return &HTTPServerHandle{Server: srv}, nil
}
