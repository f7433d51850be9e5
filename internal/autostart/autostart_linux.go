//go:build linux

package autostart

import (
	"fmt"
	"os"
	"path/filepath"
)

// linuxHandler implements Handler on Linux via an XDG autostart .desktop
// entry.
type linuxHandler struct{}

// New returns the Handler for the running platform.
func New() Handler {
	return &linuxHandler{}
}

func (a *linuxHandler) autostartDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "autostart")
}

func (a *linuxHandler) desktopFilePath() string {
	return filepath.Join(a.autostartDir(), "kbtap.desktop")
}

func (a *linuxHandler) IsEnabled() bool {
	_, err := os.Stat(a.desktopFilePath())
	return err == nil
}

func (a *linuxHandler) Enable() error {
	if err := os.MkdirAll(a.autostartDir(), 0o755); err != nil {
		return err
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("autostart: locate executable: %w", err)
	}

	entry := fmt.Sprintf(`[Desktop Entry]
Type=Application
Name=kbtap
Comment=Keyboard interposer engine
Exec=%s session start --last
Terminal=false
Categories=Utility;
X-GNOME-Autostart-enabled=true
`, exe)

	return os.WriteFile(a.desktopFilePath(), []byte(entry), 0o644)
}

func (a *linuxHandler) Disable() error {
	err := os.Remove(a.desktopFilePath())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
