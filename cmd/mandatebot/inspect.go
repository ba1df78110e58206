package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/mandatebot/internal/cache/redis"
	"github.com/alanyoungcy/mandatebot/internal/domain"
	"github.com/alanyoungcy/mandatebot/internal/executor"
	"github.com/alanyoungcy/mandatebot/internal/store/postgres"
)

func settlementsCmd() *cobra.Command {
	var (
		from  string
		count int
	)
	cmd := &cobra.Command{
		Use:   "settlements",
		Short: "Print execution outcomes from the settlement stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Redis.Enabled {
				return errors.New("settlements need redis.enabled")
			}
			client, err := redis.New(cmd.Context(), redis.ClientConfig{
				Addr:       cfg.Redis.Addr,
				Password:   cfg.Redis.Password,
				DB:         cfg.Redis.DB,
				PoolSize:   1,
				TLSEnabled: cfg.Redis.TLSEnabled,
			})
			if err != nil {
				return err
			}
			defer client.Close()

			msgs, err := redis.NewEventBus(client).StreamRead(cmd.Context(), executor.SettlementStream, from, count)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tAT\tAGENT\tVARIANT\tOK\tTX / ERROR")
			for _, m := range msgs {
				var s executor.Settlement
				if err := json.Unmarshal(m.Payload, &s); err != nil {
					fmt.Fprintf(w, "%s\t-\t-\t-\t-\tunreadable: %v\n", m.ID, err)
					continue
				}
				detail := s.TxHash
				if !s.Success {
					detail = s.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n", m.ID, s.At.Format(time.RFC3339), s.AgentID, s.Variant, s.Success, detail)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&from, "from", "0", "stream id to read after")
	cmd.Flags().IntVar(&count, "count", 50, "maximum entries to print")
	return cmd
}

func decisionsCmd() *cobra.Command {
	var (
		limit int
		since time.Duration
	)
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Print the agent decision audit log, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Postgres.Enabled {
				return errors.New("decisions need postgres.enabled")
			}
			client, err := postgres.New(cmd.Context(), postgres.ClientConfig{
				DSN:      cfg.Postgres.DSN,
				Host:     cfg.Postgres.Host,
				Port:     cfg.Postgres.Port,
				Database: cfg.Postgres.Database,
				User:     cfg.Postgres.User,
				Password: cfg.Postgres.Password,
				SSLMode:  cfg.Postgres.SSLMode,
				MaxConns: 1,
			})
			if err != nil {
				return err
			}
			defer client.Close()

			opts := domain.ListOpts{Limit: limit}
			if since > 0 {
				t := time.Now().Add(-since)
				opts.Since = &t
			}
			entries, err := postgres.NewAuditStore(client.Pool()).List(cmd.Context(), opts)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				if err := enc.Encode(map[string]any{
					"id":     e.ID,
					"event":  e.Event,
					"at":     e.CreatedAt,
					"detail": e.Detail,
				}); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to print")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this (e.g. 24h)")
	return cmd
}
