package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loopvm/kbtap/pkg/guest"
)

func newGuestsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "guests",
		Short: "List VMs known to the hypervisor controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadEngineConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			f := guest.NewForwarder(log, cfg.ControllerPath, cfg.MaxInFlight)
			guests, err := f.ListGuests(context.Background())
			if err != nil {
				return fmt.Errorf("guests: %w", err)
			}
			if len(guests) == 0 {
				fmt.Println("no guests reported")
				return nil
			}
			for _, g := range guests {
				fmt.Printf("%s  %-10s  %s\n", g.ID, statusName(g.Status), g.Name)
			}
			return nil
		},
	}
}

func statusName(s guest.Status) string {
	switch s {
	case guest.StatusRunning:
		return "running"
	case guest.StatusStopped:
		return "stopped"
	case guest.StatusSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}
