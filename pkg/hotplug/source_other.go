//go:build darwin || windows

package hotplug

import "github.com/rs/zerolog"

func newPlatformSource(log zerolog.Logger) source {
	return newPollSource(log)
}
