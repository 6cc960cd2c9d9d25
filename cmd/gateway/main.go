// Command gateway runs the G2 OpenClaw Gateway: it loads configuration,
// optionally loads a local transcriber model, and serves the WebSocket
// listener alongside an admin HTTP endpoint.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kyle-deprow/g2-gateway/internal/config"
	"github.com/kyle-deprow/g2-gateway/internal/healthz"
	"github.com/kyle-deprow/g2-gateway/internal/listener"
	"github.com/kyle-deprow/g2-gateway/internal/logging"
	"github.com/kyle-deprow/g2-gateway/internal/transcriber"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Development: os.Getenv("GATEWAY_ENV") != "production"})
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.GatewayToken == "" {
		logger.Warnw("GATEWAY_TOKEN is not set, the gateway is running WITHOUT authentication")
	} else if cfg.IsWeakToken() {
		logger.Warnw("GATEWAY_TOKEN is set to a weak value, generate a strong token for production use")
	}

	logger.Info("loading transcriber model")
	loadStart := time.Now()
	var ready bool
	var tr *transcriber.Adapter
	engine, err := transcriber.NewWhisperEngine(cfg.WhisperModel, cfg.WhisperDevice, cfg.WhisperComputeType)
	if err != nil {
		logger.Warnw("failed to load transcriber, audio transcription disabled", "error", err)
	} else {
		defer engine.Close()
		tr = transcriber.New(engine)
		logger.Infof("transcriber loaded (model=%s)", cfg.WhisperModel)
	}
	logger.Benchmark("loadTranscriber", time.Since(loadStart))
	ready = true

	lst := listener.New(cfg, logger, tr, listener.DefaultHandlerFactory(cfg))

	adminSrv := &http.Server{
		Addr:    cfg.GatewayHost + ":8766",
		Handler: healthz.NewRouter(func() bool { return ready }),
	}
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("admin server error: %v", err)
		}
	}()

	gatewaySrv := &http.Server{
		Addr:    lst.Addr(),
		Handler: http.HandlerFunc(lst.ServeHTTP),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gateway listening on %s", lst.Addr())
		if err := gatewaySrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Infof("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = gatewaySrv.Shutdown(ctx)
	_ = adminSrv.Shutdown(ctx)
	return nil
}
