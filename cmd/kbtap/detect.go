package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/loopvm/kbtap/internal/config"
	"github.com/loopvm/kbtap/pkg/codemap"
	"github.com/loopvm/kbtap/pkg/hidkb"
	"github.com/loopvm/kbtap/pkg/identity"
	"github.com/loopvm/kbtap/pkg/selectionstore"
)

func newDetectCommand() *cobra.Command {
	var presses int
	var timeout time.Duration
	var save bool

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Press any key on the target keyboard to identify it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadEngineConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			available, err := hidkb.NewEnumerator(log).Enumerate()
			if err != nil {
				return fmt.Errorf("detect: enumerate: %w", err)
			}
			if len(available) == 0 {
				return fmt.Errorf("detect: no keyboard devices found")
			}

			fmt.Printf("press any key on the target keyboard (%d distinct interface(s) needed, timeout %s)...\n", presses, timeout)

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			table := codemap.NewTable(log)
			det := identity.New(log, table)
			sel, err := det.Detect(ctx, available, identity.StopAfterDistinctKeys(presses))
			if err != nil {
				return fmt.Errorf("detect: %w", err)
			}

			fmt.Println("identified:")
			for _, d := range sel.Devices {
				fmt.Printf("  %s  %-10s  %s\n", d.DeviceKey, d.Transport, d.Name)
			}

			if save {
				path, err := defaultSelectionPath()
				if err != nil {
					return err
				}
				if err := selectionstore.New(path).Save(sel.Devices); err != nil {
					return fmt.Errorf("detect: save selection: %w", err)
				}
				fmt.Printf("saved selection to %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&presses, "presses", 1, "distinct interfaces to observe before stopping")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for a press")
	cmd.Flags().BoolVar(&save, "save", true, "persist the identified selection for --last")
	return cmd
}

func defaultSelectionPath() (string, error) {
	dir, err := config.DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "selection.yaml"), nil
}
