package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rapidcare/rapidcare/internal/config"
	"github.com/rapidcare/rapidcare/internal/domain/cases"
	"github.com/rapidcare/rapidcare/internal/domain/catalog"
	"github.com/rapidcare/rapidcare/internal/domain/matching"
	"github.com/rapidcare/rapidcare/internal/platform/auth"
	"github.com/rapidcare/rapidcare/internal/platform/db"
	"github.com/rapidcare/rapidcare/internal/platform/realtime"
	"github.com/rapidcare/rapidcare/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return err
			}
			logger.Info().Int("applied", n).Msg("migrations complete")
			return nil
		},
	}

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
			for _, s := range statuses {
				applied := "pending"
				if s.AppliedAt != nil {
					applied = s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\n", s.Version, s.Name, applied)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(upCmd, statusCmd)
	return cmd
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the hospital catalog",
	}
	var opts catalog.Options
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Upsert hospitals from a YAML catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := catalog.LoadFile(args[0])
			if err != nil {
				return err
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := catalog.Import(ctx, db.NewTransactor(pool), matching.NewHospitalRepoPG(pool), records, opts, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d hospitals\n", n)
			return nil
		},
	}
	importCmd.Flags().BoolVar(&opts.ResetCapacity, "reset-capacity", false,
		"overwrite live bed counts of existing hospitals with the file's counts")
	cmd.AddCommand(importCmd)
	return cmd
}

// formatCase renders one board line for the watch command, ending with the
// states the case can move to next.
func formatCase(c cases.Case) string {
	next := "closed"
	if !c.Status.IsTerminal() {
		names := make([]string, 0, 2)
		for _, s := range c.Status.Next() {
			names = append(names, string(s))
		}
		next = "next=" + strings.Join(names, ",")
	}
	return fmt.Sprintf("%s  %-16s v%-3d %-8s hospital=%s paramedic=%s eta=%dm %s",
		c.UpdatedAt.Format("15:04:05"), c.Status, c.Version, c.Severity, c.HospitalID, c.ParamedicID, c.ETAMinutes, next)
}

func watchCmd() *cobra.Command {
	var (
		url    string
		token  string
		topics []string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print case updates as they happen",
		Long: "Connects to the websocket endpoint and prints each case change once. " +
			"Redelivered or out-of-date events are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("RAPIDCARE_TOKEN")
			}
			out := cmd.OutOrStdout()
			board := cases.NewBoard()
			w := realtime.Watcher{URL: url, Token: token, Topics: topics}

			return w.Run(cmd.Context(), func(ev realtime.Event) {
				if denied := realtime.DeniedTopics(ev); len(denied) > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "subscription refused: %s\n", strings.Join(denied, ", "))
					return
				}
				changed, err := board.ApplyEvent(ev)
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), err)
					return
				}
				if !changed {
					return
				}
				var id uuid.UUID
				if err := id.UnmarshalText([]byte(caseIDOf(ev))); err != nil {
					return
				}
				if c, ok := board.Get(id); ok {
					fmt.Fprintln(out, formatCase(c))
				}
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:8000/ws", "websocket endpoint")
	cmd.Flags().StringVar(&token, "token", "", "bearer token (default $RAPIDCARE_TOKEN)")
	cmd.Flags().StringSliceVar(&topics, "topic", []string{realtime.TopicCases}, "topics to subscribe to")
	return cmd
}

// caseIDOf returns the id of the case topic an event was addressed to.
func caseIDOf(ev realtime.Event) string {
	for _, t := range ev.Topics {
		if id, ok := strings.CutPrefix(t, "case/"); ok {
			return id
		}
	}
	return ""
}

func tokenCmd() *cobra.Command {
	var (
		subject  string
		roles    []string
		hospital string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			for _, r := range roles {
				switch r {
				case auth.RoleParamedic, auth.RoleHospital, auth.RoleAdmin:
				default:
					return fmt.Errorf("unknown role %q", r)
				}
			}
			hospitalID := uuid.Nil
			if hospital != "" {
				if hospitalID, err = uuid.Parse(hospital); err != nil {
					return fmt.Errorf("invalid --hospital: %w", err)
				}
			}
			tok, err := auth.IssueToken(auth.JWTConfig{Issuer: cfg.AuthIssuer, SigningKey: []byte(cfg.JWTSecret)},
				subject, roles, hospitalID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "actor id carried in the token")
	cmd.Flags().StringSliceVar(&roles, "role", []string{auth.RoleParamedic}, "roles: paramedic, hospital, admin")
	cmd.Flags().StringVar(&hospital, "hospital", "", "hospital id for hospital staff")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
