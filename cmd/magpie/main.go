package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/magpiebot/magpie/internal/application"
	"github.com/magpiebot/magpie/internal/infrastructure/config"
	"github.com/magpiebot/magpie/internal/infrastructure/logger"
)

const (
	appName    = "magpie"
	appVersion = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Magpie is an autonomous Telegram companion",
		Long: "Magpie is a Telegram bot that chats, remembers, and browses the " +
			"web on its own schedule to learn things its users care about.",
		RunE: runServe,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate configuration without starting",
		RunE:  runCheck,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	log.Info("Starting Magpie",
		zap.String("version", appVersion),
		zap.String("database", cfg.Database.Type),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.NewApp(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}

	if err := app.Start(ctx); err != nil {
		log.Fatal("Failed to start application", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	app.Stop(shutdownCtx)
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if cfg.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is not set")
	}
	if cfg.LLM.APIKey == "" {
		fmt.Println("warning: llm.api_key is empty")
	}

	fmt.Printf("config OK: db=%s llm=%s search=%s\n",
		cfg.Database.Type, cfg.LLM.ChatModel, cfg.Search.BaseURL)
	return nil
}
