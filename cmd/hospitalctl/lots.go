package main

import (
	"fmt"

	"github.com/clinicaec/hospital-backend/internal/audit"
	"github.com/clinicaec/hospital-backend/internal/pharmacy/repository"
	"github.com/clinicaec/hospital-backend/internal/pharmacy/service"
	"github.com/clinicaec/hospital-backend/pkg/clock"
	"github.com/spf13/cobra"
)

func lotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lots",
		Short: "Pharmacy lot maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "recompute",
		Short: "Recompute every lot state and medication stock for today",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect()
			if err != nil {
				return err
			}
			defer e.Close()

			lots := service.NewLotService(
				repository.New(e.db),
				audit.NewRecorder(audit.NewRepository(e.db), e.log),
				clock.System{Location: e.cfg.Clock.Location()},
				e.log,
			)
			result, err := lots.RecomputeAllLotStates(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "evaluated %d lot(s), changed %d, refreshed %d medication(s)\n",
				result.Evaluated, result.Changed, result.Medications)
			return nil
		},
	})

	return cmd
}
