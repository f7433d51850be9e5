package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loopvm/kbtap/pkg/hidkb"
)

func newEnumerateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "enumerate",
		Short: "List every attached keyboard and keypad HID interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadEngineConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			devices, err := hidkb.NewEnumerator(log).Enumerate()
			if err != nil {
				return fmt.Errorf("enumerate: %w", err)
			}
			if len(devices) == 0 {
				fmt.Println("no keyboard devices found")
				return nil
			}
			for _, d := range devices {
				fmt.Printf("%s  %-10s  %-28s  physical_id=%s\n", d.DeviceKey, d.Transport, d.Name, d.PhysicalID)
			}
			return nil
		},
	}
}
