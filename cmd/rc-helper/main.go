// Command rc-helper is the privileged sidecar (spec.md §4.5): it owns the
// allowlist and the systemctl/docker subprocess calls, reachable only over
// a Unix domain socket. It deliberately does not import pkg/config — the
// control plane's JSON config and the helper's YAML allowlist are separate
// trust domains, so the helper reads its own environment variables rather
// than sharing cmd/rc-server's configuration snapshot. Bootstrap/signal/
// shutdown shape is adapted from the teacher's cmd/snap/main.go.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/teweldemat/cis-dire-rc/pkg/helper"
)

func main() {
	log.Printf("🔧 Starting remote-control helper...")

	allowlistPath := envOr("RC_HELPER_CONFIG_PATH", "./helper-config.yaml")
	allowlist, err := helper.LoadAllowlist(allowlistPath)
	if err != nil {
		log.Fatalf("❌ failed to load allowlist: %v", err)
	}
	log.Printf("📋 loaded allowlist from %s", allowlistPath)

	api := helper.NewAPI(allowlist)

	socketPath := envOr("RC_HELPER_SOCKET", "/run/rc-control/helper.sock")
	socketGroup := envOr("RC_HELPER_SOCKET_GROUP", "tewelde")
	maxBodyBytes := envInt64("RC_HELPER_MAX_BODY_BYTES", 16384)

	srv := helper.NewServer(api, socketPath, socketGroup, maxBodyBytes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("❌ failed to start helper server: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("🛑 shutting down remote-control helper...")
	cancel()
	if err := srv.Close(); err != nil {
		log.Printf("❌ helper shutdown error: %v", err)
	}
	log.Printf("✅ remote-control helper stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
