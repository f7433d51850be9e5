package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loopvm/kbtap/internal/autostart"
)

func newAutostartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autostart",
		Short: "Manage whether kbtap resumes the last session at login",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "enable",
			Short: "Register kbtap to run `session start --last` at login",
			RunE: func(cmd *cobra.Command, args []string) error {
				return autostart.New().Enable()
			},
		},
		&cobra.Command{
			Use:   "disable",
			Short: "Remove kbtap's login registration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return autostart.New().Disable()
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Report whether kbtap is registered to start at login",
			RunE: func(cmd *cobra.Command, args []string) error {
				if autostart.New().IsEnabled() {
					fmt.Println("enabled")
				} else {
					fmt.Println("disabled")
				}
				return nil
			},
		},
	)
	return cmd
}
