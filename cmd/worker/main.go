package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/coophabitat/finance-engine/config"
	"github.com/coophabitat/finance-engine/internal/platform/logger"
)

const usage = `usage: worker <command> [args]

commands:
  quote <project.yaml> <participant-id> [as-of YYYY-MM-DD]
  import <project.yaml>
  migrate
  tick
  schedule`

func main() {
	if len(os.Args) < 2 {
		log.Fatal(usage)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1], os.Args[2:]); err != nil {
		stop()
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string) error {
	switch cmd {
	case "quote":
		return runQuote(cfg, args, os.Stdout)
	case "import":
		return runImport(ctx, cfg, args)
	case "migrate":
		return runMigrate(ctx, cfg)
	case "tick":
		return runTick(ctx, cfg)
	case "schedule":
		return runSchedule(ctx, cfg)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}
