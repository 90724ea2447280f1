package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const shutdownTimeout = 5 * time.Second

// serve binds addr synchronously so a busy port fails startup, then serves
// until ctx is cancelled. An empty address or "0" disables the server.
func serve(ctx context.Context, log logr.Logger, name, addr string, handler http.Handler) error {
	if addr == "" || addr == "0" {
		log.Info("server disabled", "server", name)
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(err, "server shutdown failed", "server", name)
		}
	}()
	go func() {
		log.Info("starting server", "server", name, "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "server stopped unexpectedly", "server", name)
		}
	}()
	return nil
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	return mux
}

func probeHandler(ready healthz.Checker) http.Handler {
	mux := http.NewServeMux()
	live := http.StripPrefix("/healthz", &healthz.Handler{Checks: map[string]healthz.Checker{"ping": healthz.Ping}})
	readyz := http.StripPrefix("/readyz", &healthz.Handler{Checks: map[string]healthz.Checker{"config": ready}})
	mux.Handle("/healthz", live)
	mux.Handle("/healthz/", live)
	mux.Handle("/readyz", readyz)
	mux.Handle("/readyz/", readyz)
	return mux
}
