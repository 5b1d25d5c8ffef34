package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/shiftctl/internal/logging"
	"github.com/danmuck/shiftctl/internal/migration"
	"github.com/danmuck/shiftctl/internal/observability"
	"github.com/danmuck/shiftctl/internal/shift"
)

func main() {
	logging.ConfigureRuntime()
	logger := observability.InitLogger("shiftctl")

	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: shiftctl <run-config.toml>")
		os.Exit(1)
	}

	cfg, err := loadServiceConfig(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "shiftctl: %v\n", err)
		os.Exit(1)
	}

	svc, err := shift.NewService(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shiftctl: %v\n", err)
		os.Exit(1)
	}

	if err := svc.Run(); err != nil {
		if errors.Is(err, migration.ErrUnrecoverable) {
			logger.Error().Err(err).Msg("unrecoverable failure, operator intervention required")
			os.Exit(2)
		}
		logger.Error().Err(err).Msg("migration run failed")
		os.Exit(2)
	}
}
