package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
)

func sweepCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark overdue Booked appointments as Missed once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, logger, err := setup(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			now := time.Now()
			if at != "" {
				now, err = time.Parse(time.DateTime, at)
				if err != nil {
					return fmt.Errorf("--at must look like %q: %w", time.DateTime, err)
				}
			}

			svc := appointment.NewService(appointment.NewPgRepository(pool), nil, cfg, logger)
			res, err := svc.RunSweep(ctx, now)
			if err != nil {
				return err
			}

			fmt.Printf("scanned=%d missed=%d skipped=%d failed=%d partial=%t\n", res.Scanned, res.Transitioned, res.Skipped, res.Failed, res.Partial)
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "reference wall-clock time (YYYY-MM-DD HH:MM:SS), default now")
	return cmd
}
