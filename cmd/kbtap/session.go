package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loopvm/kbtap/internal/config"
	"github.com/loopvm/kbtap/internal/ipc"
	"github.com/loopvm/kbtap/pkg/codemap"
	"github.com/loopvm/kbtap/pkg/correlator"
	"github.com/loopvm/kbtap/pkg/events"
	"github.com/loopvm/kbtap/pkg/guest"
	"github.com/loopvm/kbtap/pkg/hidkb"
	"github.com/loopvm/kbtap/pkg/hotplug"
	"github.com/loopvm/kbtap/pkg/selectionstore"
	"github.com/loopvm/kbtap/pkg/session"
)

func newSessionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Start, stop, or check a capture session",
	}
	cmd.AddCommand(newSessionStartCommand(), newSessionStopCommand(), newSessionStatusCommand())
	return cmd
}

func newSessionStartCommand() *cobra.Command {
	var useLast bool
	var relay bool
	var guestTarget string
	var duration time.Duration
	var deviceKeys []string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a capture session in the foreground until Ctrl-C or --duration elapses",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadEngineConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			keys := deviceKeys
			if useLast {
				path, err := defaultSelectionPath()
				if err != nil {
					return err
				}
				devices, ok, err := selectionstore.New(path).Load()
				if err != nil {
					return fmt.Errorf("session start: load saved selection: %w", err)
				}
				if !ok {
					return fmt.Errorf("session start: no saved selection; run `kbtap detect --save` first")
				}
				available, err := hidkb.NewEnumerator(log).Enumerate()
				if err != nil {
					return fmt.Errorf("session start: enumerate: %w", err)
				}
				present := make(map[string]struct{}, len(available))
				for _, d := range available {
					present[d.DeviceKey] = struct{}{}
				}
				for _, d := range devices {
					if _, ok := present[d.DeviceKey]; ok {
						keys = append(keys, d.DeviceKey)
					}
				}
				if len(keys) == 0 {
					return fmt.Errorf("session start: none of the saved selection's interfaces are present; run `kbtap detect` again")
				}
			}
			if len(keys) == 0 {
				return fmt.Errorf("session start: no device keys given; pass --device-key or --last")
			}
			if relay && guestTarget == "" {
				return fmt.Errorf("session start: --relay requires --guest")
			}

			mode := session.CaptureOnly
			if relay {
				mode = session.Relay
			}

			table := codemap.NewTable(log)
			bus := events.NewBus()
			var forwarder *guest.Forwarder
			if relay {
				forwarder = guest.NewForwarder(log, cfg.ControllerPath, cfg.MaxInFlight)
			}

			sup := session.New(log, table, cfg.CorrelatorConfig(), forwarder, bus)

			params := session.Params{DeviceKeys: keys, Mode: mode, GuestTarget: guestTarget}
			if duration > 0 {
				params.Deadline = time.Now().Add(duration)
			}
			if err := sup.Start(params); err != nil {
				return fmt.Errorf("session start: %w", err)
			}

			sockPath, err := config.DefaultSocketPath()
			if err != nil {
				return err
			}
			stopRequested := make(chan struct{}, 1)
			srv, err := ipc.NewServer(sockPath, sessionHandler(sup, stopRequested))
			if err != nil {
				log.Warn().Err(err).Msg("session start: control socket unavailable, status/stop from another invocation won't work")
			} else {
				go srv.Serve()
				defer srv.Close()
			}

			watcher := hotplug.New(log, hidkb.NewEnumerator(log), sup)
			_ = watcher.Start()
			defer watcher.Stop()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

			fmt.Printf("session active on %d device(s), mode=%v. Ctrl-C to stop.\n", len(keys), mode)
			go printEvents(bus)

			select {
			case <-sig:
			case <-stopRequested:
			}

			if err := sup.Stop(); err != nil {
				return fmt.Errorf("session start: stop: %w", err)
			}
			fmt.Println("session stopped")
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&deviceKeys, "device-key", nil, "device_key to capture (repeatable)")
	cmd.Flags().BoolVar(&useLast, "last", false, "add the previously saved selection's still-present interfaces to any --device-key")
	cmd.Flags().BoolVar(&relay, "relay", false, "also relay press/release scan codes to --guest")
	cmd.Flags().StringVar(&guestTarget, "guest", "", "guest id to relay to, required with --relay")
	cmd.Flags().DurationVar(&duration, "duration", 0, "safety deadline; 0 means no deadline")
	return cmd
}

func sessionHandler(sup *session.Supervisor, stopRequested chan<- struct{}) ipc.Handler {
	return func(req ipc.Request) ipc.Response {
		switch req.Op {
		case "status":
			st := sup.StatusSnapshot()
			mode := "capture-only"
			if st.Mode == session.Relay {
				mode = "relay"
			}
			return ipc.Response{Status: &ipc.StatusReply{
				SessionID:   st.SessionID,
				State:       st.State.String(),
				DeviceKeys:  st.DeviceKeys,
				Mode:        mode,
				StartedAt:   st.StartedAt,
				Deadline:    st.Deadline,
				Degraded:    st.Degraded,
				DegradedWhy: st.DegradedWhy,
			}}
		case "stop":
			select {
			case stopRequested <- struct{}{}:
			default:
			}
			return ipc.Response{}
		case "log":
			captured := sup.CopyKeystrokeLog()
			entries := make([]ipc.KeystrokeEntry, len(captured))
			for i, ks := range captured {
				dir := "down"
				if ks.Direction == correlator.Up {
					dir = "up"
				}
				entries[i] = ipc.KeystrokeEntry{KeyCode: ks.KeyCode, Direction: dir, At: ks.At}
			}
			return ipc.Response{Log: entries}
		default:
			return ipc.Response{Error: fmt.Sprintf("unknown op %q", req.Op)}
		}
	}
}

func newSessionStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running session started with `kbtap session start`",
		RunE: func(cmd *cobra.Command, args []string) error {
			sockPath, err := config.DefaultSocketPath()
			if err != nil {
				return err
			}
			resp, err := ipc.Call(sockPath, ipc.Request{Op: "stop"})
			if err != nil {
				if err == ipc.ErrNoDaemon {
					return fmt.Errorf("session stop: no session is running")
				}
				return fmt.Errorf("session stop: %w", err)
			}
			if resp.Error != "" {
				return fmt.Errorf("session stop: %s", resp.Error)
			}
			fmt.Println("stop requested")
			return nil
		},
	}
}

func newSessionStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running session's state",
		RunE: func(cmd *cobra.Command, args []string) error {
			sockPath, err := config.DefaultSocketPath()
			if err != nil {
				return err
			}
			resp, err := ipc.Call(sockPath, ipc.Request{Op: "status"})
			if err != nil {
				if err == ipc.ErrNoDaemon {
					fmt.Println("idle (no session running)")
					return nil
				}
				return fmt.Errorf("session status: %w", err)
			}
			if resp.Error != "" {
				return fmt.Errorf("session status: %s", resp.Error)
			}
			s := resp.Status
			fmt.Printf("session=%s state=%s mode=%s devices=%v degraded=%v", s.SessionID, s.State, s.Mode, s.DeviceKeys, s.Degraded)
			if s.Degraded {
				fmt.Printf(" (%s)", s.DegradedWhy)
			}
			if !s.Deadline.IsZero() {
				fmt.Printf(" time_remaining=%s", time.Until(s.Deadline).Round(time.Second))
			}
			fmt.Println()
			return nil
		},
	}
}

func printEvents(bus *events.Bus) {
	for ev := range bus.Events() {
		switch ev.Kind {
		case events.KeystrokeCaptured:
			fmt.Printf("[%s] key %d %s\n", ev.At.Format(time.RFC3339), ev.KeyCode, ev.Direction)
		case events.RelaySucceeded:
			fmt.Printf("[%s] relayed scan_code=%d %s to %s\n", ev.At.Format(time.RFC3339), ev.Intent.ScanCode, ev.Intent.Direction, ev.Intent.Target)
		case events.RelayFailed:
			fmt.Printf("[%s] relay FAILED scan_code=%d: %v\n", ev.At.Format(time.RFC3339), ev.Intent.ScanCode, ev.Err)
		case events.StateTransitioned:
			fmt.Printf("[%s] %s -> %s\n", ev.At.Format(time.RFC3339), ev.FromState, ev.ToState)
		}
	}
}
