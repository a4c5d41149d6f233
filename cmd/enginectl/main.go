// Command enginectl runs one-shot maintenance tasks against the routing engine's stores.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/routedesk/routing-engine/internal/app"
	"github.com/routedesk/routing-engine/internal/auth"
	"github.com/routedesk/routing-engine/internal/calendar"
	"github.com/routedesk/routing-engine/internal/config"
	"github.com/routedesk/routing-engine/internal/observability"
	"github.com/routedesk/routing-engine/internal/persistence"
)

var (
	migrationsDir string
	jsonOutput    bool
	calendarFrom  string
	calendarAdd   int
	tokenTenant   string
	tokenSubject  string
	tokenRole     string
	tokenTTL      int
)

var rootCmd = &cobra.Command{
	Use:   "enginectl",
	Short: "Maintenance commands for the routing engine",
	Long: `enginectl runs one-shot maintenance tasks against the configured stores.

It reads the same environment as the API server (POSTGRES_DSN, REDIS_ADDR, ...).`,
	SilenceUsage: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply SQL migrations",
	RunE:  runMigrate,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one SLA, timeout and load reconciliation sweep over every tenant",
	RunE:  runSweep,
}

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Business-hours calendar tools",
}

var calendarCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a calendar file and optionally project a due date",
	Long: `Validate a YAML or JSON business-hours calendar.

Examples:
  enginectl calendar check hours.yaml
  enginectl calendar check hours.yaml --from 2026-03-06T16:00:00Z --add 120`,
	Args: cobra.ExactArgs(1),
	RunE: runCalendarCheck,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for local testing",
	RunE:  runToken,
}

func init() {
	rootCmd.AddCommand(migrateCmd, sweepCmd, calendarCmd, tokenCmd)
	calendarCmd.AddCommand(calendarCheckCmd)

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	migrateCmd.Flags().StringVar(&migrationsDir, "dir", persistence.DefaultMigrationsDir, "Directory holding .sql migrations")

	calendarCheckCmd.Flags().StringVar(&calendarFrom, "from", "", "RFC3339 start instant for a due-date projection")
	calendarCheckCmd.Flags().IntVar(&calendarAdd, "add", 0, "Business minutes to add to --from")

	tokenCmd.Flags().StringVar(&tokenTenant, "tenant", "", "Tenant id")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "enginectl", "Token subject")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(auth.RoleAdmin), "Role: admin, agent or service")
	tokenCmd.Flags().IntVar(&tokenTTL, "ttl", 60, "Lifetime in minutes")
	_ = tokenCmd.MarkFlagRequired("tenant")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	if cfg.Postgres.DSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required for migrate")
	}

	ctx, cancel := signalContext()
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	if err := persistence.RunMigrationsFrom(ctx, pg.PoolHandle(), migrationsDir, logger); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := signalContext()
	defer cancel()

	c, err := app.Build(ctx, cfg, logger, app.Options{SkipMigrations: true})
	if err != nil {
		return err
	}
	defer c.Close()

	results := c.Sweeper.RunOnce(ctx)
	c.Recorder.Flush(ctx)

	out := cmd.OutOrStdout()
	if jsonOutput {
		type row struct {
			TenantID string `json:"tenant_id"`
			Skipped  bool   `json:"skipped"`
			Scanned  int    `json:"scanned"`
			Emitted  int    `json:"emitted"`
			Timeouts int    `json:"timeouts"`
			Drift    int    `json:"drifting_agents"`
			Error    string `json:"error,omitempty"`
		}
		rows := make([]row, 0, len(results))
		for _, r := range results {
			item := row{TenantID: r.TenantID, Skipped: r.Skipped, Scanned: r.Scanned, Emitted: r.Emitted, Timeouts: r.Timeouts, Drift: len(r.Drift)}
			if r.Err != nil {
				item.Error = r.Err.Error()
			}
			rows = append(rows, item)
		}
		return json.NewEncoder(out).Encode(rows)
	}

	var failed int
	for _, r := range results {
		switch {
		case r.Skipped:
			fmt.Fprintf(out, "%s: skipped (lease held elsewhere)\n", r.TenantID)
		case r.Err != nil:
			failed++
			fmt.Fprintf(out, "%s: error: %v\n", r.TenantID, r.Err)
		default:
			fmt.Fprintf(out, "%s: scanned=%d emitted=%d timeouts=%d drift=%d\n",
				r.TenantID, r.Scanned, r.Emitted, r.Timeouts, len(r.Drift))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d tenant(s) failed", failed)
	}
	return nil
}

func runCalendarCheck(cmd *cobra.Command, args []string) error {
	schedule, err := calendar.LoadScheduleFile(args[0])
	if err != nil {
		return err
	}
	cal, err := calendar.New(schedule)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	result := map[string]any{"valid": true, "time_zone": schedule.TimeZone, "days": len(schedule.Week), "holidays": len(schedule.Holidays)}
	if calendarFrom != "" {
		from, err := time.Parse(time.RFC3339, calendarFrom)
		if err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
		due, err := cal.Add(from, time.Duration(calendarAdd)*time.Minute)
		if err != nil {
			return err
		}
		result["from"] = from
		result["due"] = due
	}

	if jsonOutput {
		return json.NewEncoder(out).Encode(result)
	}
	fmt.Fprintf(out, "calendar ok: %d working day(s), %d holiday(s)\n", len(schedule.Week), len(schedule.Holidays))
	if due, ok := result["due"].(time.Time); ok {
		fmt.Fprintf(out, "due: %s\n", due.Format(time.RFC3339))
	}
	return nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	role := auth.Role(tokenRole)
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", tokenRole)
	}
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, tokenTTL)
	token, expiresAt, err := tokens.GenerateToken(tokenTenant, tokenSubject, role)
	if err != nil {
		return err
	}
	if jsonOutput {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"token": token, "expires_at": expiresAt})
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
