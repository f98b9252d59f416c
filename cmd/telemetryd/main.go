package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	logpkg "github.com/kanaridev/KanariBot-Go/bot/logger"
	"github.com/kanaridev/KanariBot-Go/bot/telemetry"
)

func main() {
	_ = godotenv.Load()

	bind := flag.String("bind", envOr("TELEMETRY_BIND", "127.0.0.1"), "listen address")
	port := flag.String("port", envOr("TELEMETRY_PORT", "9800"), "listen port")
	botMatch := flag.String("bot-match", os.Getenv("BOT_MATCH"), "bot process cmdline filter")
	ramCap := flag.String("ram-cap", os.Getenv("TARGET_RAM_CAP_MB"), "reported RAM cap in MB")
	logDir := flag.String("log-dir", envOr("LOG_DIR", "logs"), "log directory")
	flag.Parse()

	if _, err := strconv.Atoi(*port); err != nil {
		panic(fmt.Errorf("invalid telemetry port %q", *port))
	}

	log, err := logpkg.New(envOr("LOG_LEVEL", "info"), "text", *logDir, false)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := telemetry.NewServer(
		net.JoinHostPort(*bind, *port),
		telemetry.NewSampler(*botMatch, *ramCap),
		log,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			panic(err)
		}
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", "error", err)
		}
		<-errCh
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
