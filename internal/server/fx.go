package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/meetpay/meetpay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires the HTTP server into the process lifecycle.
var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Invoke(func(lc fx.Lifecycle, s *Server, cfg config.Config, log *zap.Logger) {
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           s.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error("http server stopped", zap.Error(err))
					}
				}()
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}),
)
