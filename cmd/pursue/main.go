package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dukerupert/pursue/internal/config"
	"github.com/dukerupert/pursue/internal/database"
	"github.com/dukerupert/pursue/internal/logging"
	"github.com/dukerupert/pursue/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pursue",
	Short: "Smart reminder engine for group goals",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; the environment may already be set.
		_ = godotenv.Load()
		return nil
	},
	SilenceUsage: true,
}

func init() {
	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path to a config file (yaml, toml or json)")
	flags.String("db-path", "pursue.db", "path to the SQLite database")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")

	mustBind(viper.BindPFlag("db_path", flags.Lookup("db-path")))
	mustBind(viper.BindPFlag("log_level", flags.Lookup("log-level")))
	mustBind(viper.BindPFlag("log_format", flags.Lookup("log-format")))

	rootCmd.AddCommand(serveCmd, runCmd, recalcCmd, migrateCmd, hashKeyCmd, vapidKeysCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app is what every command that touches the database starts from.
type app struct {
	cfg    *config.Config
	db     *sql.DB
	logger *slog.Logger
}

func loadApp(cmd *cobra.Command) (*app, error) {
	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(viper.GetViper(), file)
	if err != nil {
		return nil, err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &app{cfg: cfg, db: db, logger: logger}, nil
}

// server builds the wired server without listening, for one-shot commands.
func (a *app) server(ctx context.Context) (*server.Server, error) {
	return server.New(ctx, a.db, a.cfg, a.logger)
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("close database", "error", err)
	}
}
