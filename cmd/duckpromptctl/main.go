package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/duckprompt/duckprompt/internal/cli/duckpromptctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	options := duckpromptctl.Options{
		BaseURL: envOr("DUCKPROMPT_API_URL", "http://localhost:8080"),
		Timeout: parseDurationWithDefault(strings.TrimSpace(os.Getenv("DUCKPROMPT_CLI_TIMEOUT")), 60*time.Second),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	code := duckpromptctl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid DUCKPROMPT_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
