package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loopvm/kbtap/internal/config"
	"github.com/loopvm/kbtap/internal/ipc"
)

func newLogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Copy the keystroke log captured by the running session",
		RunE: func(cmd *cobra.Command, args []string) error {
			sockPath, err := config.DefaultSocketPath()
			if err != nil {
				return err
			}
			resp, err := ipc.Call(sockPath, ipc.Request{Op: "log"})
			if err != nil {
				if err == ipc.ErrNoDaemon {
					return fmt.Errorf("log: no session is running")
				}
				return fmt.Errorf("log: %w", err)
			}
			if resp.Error != "" {
				return fmt.Errorf("log: %s", resp.Error)
			}
			if len(resp.Log) == 0 {
				fmt.Println("no keystrokes captured yet")
				return nil
			}
			for _, ks := range resp.Log {
				fmt.Printf("[%s] key %d %s\n", ks.At.Format(time.RFC3339Nano), ks.KeyCode, ks.Direction)
			}
			return nil
		},
	}
}
