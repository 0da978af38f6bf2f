package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mzani/taskd/internal/app"
	"github.com/mzani/taskd/internal/config"
	"github.com/mzani/taskd/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	built, err := app.Build(context.Background(), cfg, app.Options{Metrics: metrics})
	if err != nil {
		log.Fatalf("build failed: %v", err)
	}
	defer built.Cleanup()

	var listeners []net.Listener
	if cfg.SocketPath != "" {
		// A daemon that crashed leaves a stale socket file behind; a fresh
		// bind must not fail because of it.
		if err := os.Remove(cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("remove stale socket %s: %v", cfg.SocketPath, err)
		}
		ln, err := net.Listen("unix", cfg.SocketPath)
		if err != nil {
			log.Fatalf("listen on socket %s: %v", cfg.SocketPath, err)
		}
		defer os.Remove(cfg.SocketPath)
		listeners = append(listeners, ln)
		log.Printf("listening on unix socket %s", cfg.SocketPath)
	}
	if cfg.TCPAddr != "" {
		ln, err := net.Listen("tcp", cfg.TCPAddr)
		if err != nil {
			log.Fatalf("listen on tcp %s: %v", cfg.TCPAddr, err)
		}
		listeners = append(listeners, ln)
		log.Printf("listening on tcp %s", ln.Addr())
	}

	// A transport failure must travel back here so the deferred socket and
	// store cleanup still run; exiting from inside a goroutine would skip
	// them.
	serveErr := make(chan error, len(listeners)+1)
	for _, ln := range listeners {
		go func(ln net.Listener) {
			if err := built.Server.Serve(ln); err != nil {
				serveErr <- err
			}
		}(ln)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: built.API.Router(),
	}
	go func() {
		log.Printf("http api listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Printf("shutdown signal received: %v", sig)
	case err := <-serveErr:
		log.Printf("serve error, shutting down: %v", err)
	}

	for _, ln := range listeners {
		_ = ln.Close()
	}
	built.Server.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful http shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
