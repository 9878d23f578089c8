package main

import (
	"fmt"

	"github.com/clinicaec/hospital-backend/pkg/messaging"
	"github.com/clinicaec/hospital-backend/pkg/outbox"
	"github.com/spf13/cobra"
)

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and relay the event outbox",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "pending",
		Short: "Count events waiting to be published",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect()
			if err != nil {
				return err
			}
			defer e.Close()

			count, err := outbox.NewRelay(e.db, nil, e.cfg.Outbox, cliName, e.log).PendingCount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d pending event(s)\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Publish every pending event now",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect()
			if err != nil {
				return err
			}
			defer e.Close()

			rmq, err := messaging.New(&e.cfg.RabbitMQ, e.log)
			if err != nil {
				return fmt.Errorf("connect to RabbitMQ: %w", err)
			}
			defer rmq.Close()

			publisher, err := messaging.NewPublisher(rmq, cliName, e.log,
				messaging.ExchangePharmacyEvents, messaging.ExchangeSchedulingEvents)
			if err != nil {
				return err
			}

			result, err := outbox.NewRelay(e.db, publisher, e.cfg.Outbox, cliName, e.log).Drain(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d event(s), %d failed\n", result.Published, result.Failed)
			return nil
		},
	})

	return cmd
}
