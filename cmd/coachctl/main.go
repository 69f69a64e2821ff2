package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arturoeanton/runcoach/internal/adapter/store"
	"github.com/arturoeanton/runcoach/internal/adapter/strava"
	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/arturoeanton/runcoach/internal/service"
	"github.com/arturoeanton/runcoach/pkg/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

var cfg *config.Config

func main() {
	_ = godotenv.Load()
	cfg = config.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coachctl",
	Short: "coachctl - RunCoach administration",
	Long: `coachctl runs maintenance tasks against the RunCoach database:
schema migration, invitation expiry, one-off Strava syncs and audit review.

Configuration is read from the same environment variables as the server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if url, _ := cmd.Flags().GetString("database-url"); url != "" {
			cfg.DatabaseURL = url
		}
		slog.SetDefault(cfg.NewLogger(os.Stderr))
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("coachctl version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("database-url", "", "Database URL (default: DATABASE_URL)")

	syncCmd.Flags().String("user-id", "", "User whose Strava activities to import")
	_ = syncCmd.MarkFlagRequired("user-id")

	auditCmd.Flags().String("user-id", "", "Only entries for this user")
	auditCmd.Flags().String("action", "", "Only entries with this action")
	auditCmd.Flags().Int("limit", 50, "Maximum number of entries")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(expireCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(auditCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.UsesMemoryStore() {
			return fmt.Errorf("nothing to migrate; DATABASE_URL selects the in-memory store")
		}
		ctx, stop := commandContext()
		defer stop()

		st, err := store.Open(ctx, cfg.DatabaseURL, true)
		if err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
		defer st.Close()

		fmt.Println("✓ Schema applied")
		return nil
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire-invitations",
	Short: "Mark pending invitations past their expiry as EXPIRED",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := commandContext()
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := service.NewInvitationService(st, st, cfg.InvitationTTL()).ExpireStale(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("✓ %d invitation(s) expired\n", n)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Import one user's recent Strava activities",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user-id")

		ctx, stop := commandContext()
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		client := strava.NewClient(strava.Config{
			ClientID:      cfg.StravaClientID,
			ClientSecret:  cfg.StravaClientSecret,
			RedirectURL:   cfg.StravaRedirectURL,
			Timeout:       time.Duration(cfg.StravaHTTPTimeout) * time.Second,
			RatePerMinute: cfg.StravaRateLimitPerMinute,
		})
		vault := service.NewTokenVault(st, client)
		syncer := service.NewSyncService(vault, client, st, st, nil, nil, cfg.StravaSyncPageSize)

		res, err := syncer.SyncActivities(ctx, userID)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Synced %d, linked %d, skipped %d, failed %d\n", res.Synced, res.Linked, res.Skipped, res.Failed)
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Print recent audit log entries as JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user-id")
		action, _ := cmd.Flags().GetString("action")
		limit, _ := cmd.Flags().GetInt("limit")

		ctx, stop := commandContext()
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		logs, err := st.ListAuditLogs(ctx, userID, limit, action)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, l := range logs {
			if err := enc.Encode(l); err != nil {
				return err
			}
		}
		return nil
	},
}

func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openStore(ctx context.Context) (port.Store, error) {
	if cfg.UsesMemoryStore() {
		return nil, fmt.Errorf("coachctl needs a database; DATABASE_URL selects the in-memory store")
	}
	st, err := store.Open(ctx, cfg.DatabaseURL, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return st, nil
}
