//go:build darwin

package autostart

import (
	"fmt"
	"os"
	"path/filepath"
)

// darwinHandler implements Handler on macOS via a per-user LaunchAgent.
type darwinHandler struct{}

// New returns the Handler for the running platform.
func New() Handler {
	return &darwinHandler{}
}

func (a *darwinHandler) launchAgentPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "LaunchAgents", "com.kbtap.session.plist")
}

func (a *darwinHandler) IsEnabled() bool {
	_, err := os.Stat(a.launchAgentPath())
	return err == nil
}

func (a *darwinHandler) Enable() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("autostart: locate executable: %w", err)
	}

	plist := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>com.kbtap.session</string>
    <key>ProgramArguments</key>
    <array>
        <string>%s</string>
        <string>session</string>
        <string>start</string>
        <string>--last</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <false/>
</dict>
</plist>`, exe)

	if err := os.MkdirAll(filepath.Dir(a.launchAgentPath()), 0o755); err != nil {
		return err
	}
	return os.WriteFile(a.launchAgentPath(), []byte(plist), 0o644)
}

func (a *darwinHandler) Disable() error {
	err := os.Remove(a.launchAgentPath())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
