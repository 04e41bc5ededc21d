package main

import (
	"fmt"
	"time"

	"github.com/ossettyres/tyre-api/internal/audit"
	"github.com/ossettyres/tyre-api/internal/repository"
	"github.com/ossettyres/tyre-api/internal/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newAuditCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and maintain the audit_logs table",
	}
	cmd.AddCommand(newAuditStatsCmd(opts))
	cmd.AddCommand(newAuditPruneCmd(opts))
	return cmd
}

func openAuditRepo(opts *rootOptions) (*repository.AuditLogRepository, func(), error) {
	cfg, err := opts.load()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Database.Enabled() {
		return nil, nil, errors.New("database not configured (DATABASE_URL)")
	}

	db, err := storage.NewPostgres(postgresConfig(cfg.Database))
	if err != nil {
		return nil, nil, err
	}
	return repository.NewAuditLogRepository(db), func() { _ = db.Close() }, nil
}

func newAuditStatsCmd(opts *rootOptions) *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count audited lookups and enquiries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeDB, err := openAuditRepo(opts)
			if err != nil {
				return err
			}
			defer closeDB()

			to := time.Now().UTC()
			from := to.Add(-since)
			for _, kind := range []audit.Kind{audit.KindLookup, audit.KindEnquiry} {
				n, err := repo.CountByKind(cmd.Context(), string(kind), from, to)
				if err != nil {
					return errors.WithMessagef(err, "count %s", kind)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %d\n", kind, n)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "look back this far")
	return cmd
}

func newAuditPruneCmd(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete audit rows older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			repo, closeDB, err := openAuditRepo(opts)
			if err != nil {
				return err
			}
			defer closeDB()

			n, err := repo.DeleteOlderThan(cmd.Context(), time.Now().UTC().Add(-olderThan))
			if err != nil {
				return err
			}
			log.Info().Int64("deleted", n).Dur("older_than", olderThan).Msg("pruned audit logs")
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "delete rows older than this")
	return cmd
}
