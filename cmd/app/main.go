package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"FactorPulse/internal/di"
	"FactorPulse/pkg/config"
	"FactorPulse/pkg/server"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "factorpulse",
	Short: "Hourly crypto factor scoring and outlier alerts",
	Long: `FactorPulse scores the most liquid crypto assets every hour on momentum,
mean reversion, carry and volume factors, flags outliers, stores the
results and sends a market summary to Telegram.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, notification workers and read API until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withApp(func(app *server.App) error {
			return app.Serve(ctx)
		}, false)
	},
}

var runHourlyCmd = &cobra.Command{
	Use:   "run-hourly",
	Short: "Execute one pipeline run and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(func(app *server.App) error {
			res, err := app.RunHourly(cmd.Context())
			if err != nil {
				return err
			}
			log.Printf("run %s: assets=%d processed=%d skipped=%d outliers=%d enriched=%d duration=%s",
				res.RunID, res.Assets, res.Processed, res.Skipped, res.Outliers, res.Enriched, res.Duration.Round(time.Millisecond))
			if res.Summary != nil {
				log.Printf("summary hash=%s queued=%t duplicate=%t", res.Summary.Hash, res.Summary.Sent, res.Duplicate)
			}
			return nil
		}, true)
	},
}

var updateUniverseCmd = &cobra.Command{
	Use:   "update-universe",
	Short: "Rebuild the asset universe now",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(func(app *server.App) error {
			u, err := app.UpdateUniverse(cmd.Context())
			if err != nil {
				return err
			}
			log.Printf("universe updated: %d assets", len(u.Assets))
			for _, a := range u.Assets {
				fmt.Printf("%3d  %-10s %-12s %-12s %18.0f\n", a.Rank, a.BaseAsset, a.SpotSymbol, a.FuturesSymbol, a.Volume24h)
			}
			return nil
		}, true)
	},
}

var testTelegramCmd = &cobra.Command{
	Use:   "test-telegram",
	Short: "Check the bot token and chat id",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(func(app *server.App) error {
			report, err := app.TestTelegram(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("bot: @%s (id %d)\n", report.Bot.Username, report.Bot.ID)
			if report.ChatOK {
				fmt.Println("chat: ok, test message sent")
				return nil
			}
			fmt.Printf("chat: %s\n", report.Problem)
			if report.Hint != "" {
				fmt.Printf("hint: %s\n", report.Hint)
			}
			if report.SuggestedID != "" {
				fmt.Printf("suggested chat_id: %s\n", report.SuggestedID)
			}
			return fmt.Errorf("telegram chat check failed")
		}, true)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")
	rootCmd.AddCommand(serveCmd, runHourlyCmd, updateUniverseCmd, testTelegramCmd)
}

// withApp loads config, wires the app, runs fn and releases everything.
// One-shot commands close the app themselves; serve closes it on shutdown.
func withApp(fn func(app *server.App) error, closeApp bool) error {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	log.Printf("env=%s backend=%s storage=%s", cfg.Environment, cfg.Backend.Type, cfg.Storage.Type)

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	defer cleanup()

	runErr := fn(app)
	if closeApp {
		if err := app.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}
	return runErr
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
