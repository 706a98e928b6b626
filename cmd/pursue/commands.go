package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dukerupert/pursue/internal/apperr"
	"github.com/dukerupert/pursue/internal/auth"
	"github.com/dukerupert/pursue/internal/config"
	"github.com/dukerupert/pursue/internal/database"
	"github.com/dukerupert/pursue/internal/notify"
)

func mustBind(err error) {
	if err != nil {
		panic(err)
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and, unless disabled, the in-process job scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.cfg.RequireServe(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv, err := a.server(ctx)
		if err != nil {
			return err
		}
		defer srv.Close()

		httpServer := &http.Server{
			Addr:         a.cfg.Addr,
			Handler:      srv.Router(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		if a.cfg.Scheduler.Enabled {
			srv.Runner().Start(ctx)
		} else {
			a.logger.Info("in-process scheduler disabled, jobs run only when triggered")
		}

		// Idle rate limit buckets are dropped once a minute.
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					srv.CleanupRateLimits()
				}
			}
		}()

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("server listening", "addr", a.cfg.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
		case <-ctx.Done():
		}

		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("shutdown", "error", err)
		}
		srv.Runner().Stop()
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Run one batch job now and print its summary",
	Long: "Run one of process-reminders, recalculate-patterns or update-effectiveness.\n" +
		"Meant for external cron with scheduler.enabled=false.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv, err := a.server(ctx)
		if err != nil {
			return err
		}
		defer srv.Close()

		run, err := srv.Runner().Run(ctx, args[0])
		if run.RunID != "" {
			printJSON(cmd, run)
		}
		return err
	},
}

var recalcCmd = &cobra.Command{
	Use:   "recalc",
	Short: "Recalculate the logging pattern of one user and goal",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		goalID, _ := cmd.Flags().GetInt64("goal")
		if userID <= 0 || goalID <= 0 {
			return errors.New("--user and --goal are required")
		}

		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		srv, err := a.server(ctx)
		if err != nil {
			return err
		}
		defer srv.Close()

		patterns, err := srv.PatternService().Recalculate(ctx, userID, goalID)
		var insufficient *apperr.InsufficientDataError
		if errors.As(err, &insufficient) {
			fmt.Fprintf(cmd.OutOrStdout(), "insufficient data: %d of %d samples, %d more needed\n",
				insufficient.SampleSize, insufficient.Required, insufficient.Needed())
			return nil
		}
		if err != nil {
			return err
		}
		printJSON(cmd, patterns)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := database.Migrate(a.db); err != nil {
			return err
		}
		a.logger.Info("migrations applied", "db_path", a.cfg.DBPath)
		return nil
	},
}

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [key]",
	Short: "Print the bcrypt hash of an internal trigger key",
	Long:  "Print the bcrypt hash to put in auth.internal_key_hash. Reads the key from stdin when no argument is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var key string
		if len(args) == 1 {
			key = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read key: %w", err)
			}
			key = strings.TrimSpace(line)
		}
		if key == "" {
			return errors.New("key must not be empty")
		}
		hash, err := auth.HashKey(key)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

var vapidKeysCmd = &cobra.Command{
	Use:   "vapid-keys",
	Short: "Generate a VAPID key pair for web push",
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := notify.GenerateVAPIDKeys()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s_PUSH_VAPID_PUBLIC_KEY=%s\n", config.EnvPrefix, pub)
		fmt.Fprintf(out, "%s_PUSH_VAPID_PRIVATE_KEY=%s\n", config.EnvPrefix, priv)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for a user, for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if userID <= 0 {
			return errors.New("--user is required")
		}
		file, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(viper.GetViper(), file)
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is not set")
		}
		token, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer).Issue(userID, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	recalcCmd.Flags().Int64("user", 0, "user ID")
	recalcCmd.Flags().Int64("goal", 0, "goal ID")

	tokenCmd.Flags().Int64("user", 0, "user ID")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")

	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().Bool("scheduler", true, "run batch jobs on in-process tickers")
	mustBind(viper.BindPFlag("addr", serveCmd.Flags().Lookup("addr")))
	mustBind(viper.BindPFlag("scheduler.enabled", serveCmd.Flags().Lookup("scheduler")))
}

func printJSON(cmd *cobra.Command, v any) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, "encode output:", err)
	}
}
