package main

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"ozzus/client-aeza/internal/config"
	"ozzus/client-aeza/internal/lib/logger/slogpretty"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "aeza",
	Short:         "Client for the aeza distributed network checks backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output of one-shot commands")

	rootCmd.AddCommand(
		serveCmd,
		checkCmd,
		watchCmd,
		historyCmd,
		deleteCmd,
		clearCmd,
		agentsCmd,
		statsCmd,
		pingCmd,
		probeCmd,
		eventsCmd,
	)
}

func main() {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, colorError.Sprint("Error: ")+err.Error())
		os.Exit(1)
	}
}

// loadConfig reads the config and builds the logger for the serve command.
func loadConfig(out io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, setupLogger(cfg.Env, out), nil
}

// loadCLIConfig is loadConfig for one-shot commands: logs go to stderr and
// only warnings are shown unless --verbose is set.
func loadCLIConfig() (*config.Config, *slog.Logger, error) {
	cfg, log, err := loadConfig(os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	if !verbose {
		log = slog.New(slogpretty.PrettyHandlerOptions{
			SlogOpts: &slog.HandlerOptions{Level: slog.LevelWarn},
		}.NewPrettyHandler(os.Stderr))
	}

	return cfg, log, nil
}

func setupLogger(env string, out io.Writer) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog(out)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog(out)
	}

	return log
}

func setupPrettySlog(out io.Writer) *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(out)

	return slog.New(handler)
}
