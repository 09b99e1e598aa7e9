// Command rc-server runs the public-facing control plane: the HTTP API
// (spec.md §6), the probe scheduler (§4.3), and the action gateway (§4.4).
// Startup/signal/graceful-shutdown shape is adapted from the teacher's
// cmd/snap/main.go (database → background engine → HTTP server → signal
// wait → timeout-bounded shutdown); optional TLS and the Direct-vs-Helper
// transport choice follow cmd/gate/main.go's "construct conditionally on
// config, log what was skipped" style.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teweldemat/cis-dire-rc/pkg/api"
	"github.com/teweldemat/cis-dire-rc/pkg/auth"
	"github.com/teweldemat/cis-dire-rc/pkg/config"
	"github.com/teweldemat/cis-dire-rc/pkg/gateway"
	"github.com/teweldemat/cis-dire-rc/pkg/probe"
	"github.com/teweldemat/cis-dire-rc/pkg/scheduler"
	"github.com/teweldemat/cis-dire-rc/pkg/store"
	"github.com/teweldemat/cis-dire-rc/pkg/tlsmgr"
	"github.com/teweldemat/cis-dire-rc/pkg/watch"
)

func main() {
	log.Printf("🩺 Starting remote-control server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ failed to load config: %v", err)
	}

	if err := os.MkdirAll(dirOf(cfg.DBPath), 0755); err != nil {
		log.Fatalf("❌ failed to create data directory: %v", err)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("❌ failed to open store: %v", err)
	}
	defer db.Close()
	s := store.New(db)

	if err := s.SyncProbeDefinitions(watch.ProbeDefinitionsFromSnapshot(cfg)); err != nil {
		log.Fatalf("❌ failed to sync probe definitions: %v", err)
	}

	runner := probe.New()
	sched := scheduler.New(s, runner, time.Duration(cfg.ProbeTickSeconds*float64(time.Second)))
	sched.Start()
	defer sched.Stop()

	var transport gateway.Transport
	if cfg.HelperSocket != "" {
		transport = gateway.NewHelperTransport(cfg.HelperSocket)
		log.Printf("🔐 action gateway using helper transport at %s", cfg.HelperSocket)
	} else {
		transport = gateway.NewDirectTransport()
		log.Printf("🔐 action gateway using direct (sudo) transport")
	}
	gw := gateway.New(s, transport)

	validator := auth.New(cfg.AdminToken)
	srv := api.NewServer(s, runner, gw)
	router := srv.NewRouter(validator, cfg.MaxBodyBytes)

	var watcher *watch.Watcher
	if cfg.ConfigWatchEnabled {
		watcher, err = watch.New(cfg.ConfigPath, s)
		if err != nil {
			log.Printf("⚠️  config watch disabled: %v", err)
		} else if err := watcher.Run(context.Background()); err != nil {
			log.Printf("⚠️  config watch disabled: %v", err)
			watcher = nil
		} else {
			log.Printf("👀 watching %s for config changes", cfg.ConfigPath)
		}
	}
	if watcher != nil {
		defer watcher.Close()
	}

	addr := fmt.Sprintf("%s:%d", cfg.BindHost, cfg.BindPort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var tlsClient *tlsmgr.Client
	var challengeServer *http.Server
	if cfg.TLSDomain != "" && cfg.TLSACMEEmail != "" {
		tlsClient, err = tlsmgr.New(cfg.TLSDomain, cfg.TLSACMEEmail, cfg.TLSCacheDir, "")
		if err != nil {
			log.Printf("⚠️  TLS disabled, failed to initialize ACME client: %v", err)
			tlsClient = nil
		} else {
			// The CA must reach /.well-known/acme-challenge/{token} over plain
			// HTTP on :80 to validate HTTP-01 before Obtain below will succeed.
			challengeServer = &http.Server{Addr: ":80", Handler: tlsClient.ChallengeHandler()}
			go func() {
				if err := challengeServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("⚠️  ACME challenge listener on :80 failed: %v", err)
				}
			}()
			log.Printf("🌐 serving ACME HTTP-01 challenges on :80")

			if err := tlsClient.EnsureCertificate(); err != nil {
				log.Printf("⚠️  TLS disabled, failed to obtain certificate: %v", err)
				tlsClient = nil
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = challengeServer.Shutdown(shutdownCtx)
				cancel()
				challengeServer = nil
			} else {
				httpServer.TLSConfig = &tls.Config{GetCertificate: tlsClient.GetCertificate}
				log.Printf("🔒 serving HTTPS for %s", cfg.TLSDomain)
			}
		}
	}

	go func() {
		var err error
		if tlsClient != nil {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ HTTP server failed: %v", err)
		}
	}()
	log.Printf("🚀 remote-control server listening on %s", addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("🛑 shutting down remote-control server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("❌ server shutdown error: %v", err)
	}
	if challengeServer != nil {
		if err := challengeServer.Shutdown(ctx); err != nil {
			log.Printf("❌ ACME challenge listener shutdown error: %v", err)
		}
	}
	log.Printf("✅ remote-control server stopped")
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
