package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"smartbuilding/internal/alert"
	"smartbuilding/internal/config"
	"smartbuilding/internal/database"
	"smartbuilding/internal/logger"
	"smartbuilding/internal/models"
)

var configFile = flag.String("config", "etc/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg := config.Load()
	if _, err := os.Stat(*configFile); err == nil {
		if cfg, err = config.LoadFromFile(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	if err := logger.Init(logger.Config{Level: cfg.Logger.Level, Output: "stderr", Format: "console"}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := database.Open(database.Config{
		Driver:   cfg.Database.Driver,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}, logger.Named("gorm"))
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store := alert.NewService(db, logger.Named("alert"))
	examples := alert.ExampleRules()

	created, skipped, failed := 0, 0, 0
	for i, res := range alert.Seed(ctx, store, examples) {
		rule := examples[i]
		switch {
		case res.Err != nil:
			failed++
			fmt.Printf("FAIL  %s: %v\n", res.Name, res.Err)
		case res.Skipped:
			skipped++
			fmt.Printf("SKIP  %s (already exists)\n", res.Name)
		default:
			created++
			types := make([]string, 0, len(rule.Actions))
			for _, a := range rule.Actions {
				types = append(types, string(a.Type))
			}
			fmt.Printf("OK    %s\n      id=%d type=%s severity=%s actions=%s\n",
				res.Name, res.ID, rule.RuleType, rule.Severity, strings.Join(types, ","))
		}
	}
	fmt.Printf("\n%d created, %d skipped, %d failed\n", created, skipped, failed)

	stats, err := store.Stats(ctx)
	if err != nil {
		logger.Fatal("Failed to read rule stats", zap.Error(err))
	}
	fmt.Printf("rules: total=%d enabled=%d disabled=%d\n", stats.TotalRules, stats.EnabledRules, stats.DisabledRules)
	for _, sev := range models.Severities {
		fmt.Printf("  %s: %d\n", sev, stats.BySeverity[sev])
	}

	if failed > 0 {
		os.Exit(1)
	}
}
