package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/duckprompt/duckprompt/internal/config"
	"github.com/duckprompt/duckprompt/internal/migrations"
	promptlogpostgres "github.com/duckprompt/duckprompt/internal/promptlog/postgres"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up|down|status")
	steps := flag.Int("steps", 0, "number of migration steps; 0 means all for up, 1 for down")
	flag.Parse()

	cfg, err := config.LoadFromEnv("duckprompt-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.PromptLog.DSN == "" {
		fmt.Fprintln(os.Stderr, "DUCKPROMPT_PROMPTLOG_DSN is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := promptlogpostgres.Open(ctx, promptlogpostgres.DBConfig{DSN: cfg.PromptLog.DSN, MaxOpenConns: 1})
	if err != nil {
		fmt.Fprintf(os.Stderr, "database error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	runner := migrations.NewRunner()
	switch *direction {
	case "up":
		applied, err := runner.Up(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration up failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("applied %d migration(s)\n", applied)
	case "down":
		rolledBack, err := runner.Down(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration down failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("rolled back %d migration(s)\n", rolledBack)
	case "status":
		statuses, err := runner.Status(ctx, db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration status failed: %v\n", err)
			os.Exit(1)
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"version", "name", "applied_at"})
		for _, status := range statuses {
			appliedAt := "pending"
			if status.AppliedAt != nil {
				appliedAt = status.AppliedAt.UTC().Format(time.RFC3339)
			}
			table.Append([]string{strconv.FormatInt(status.Version, 10), status.Name, appliedAt})
		}
		table.Render()
	default:
		fmt.Fprintf(os.Stderr, "invalid direction: %s\n", *direction)
		os.Exit(1)
	}
}
