// Package wallpaper runs the configured command that sets the desktop
// wallpaper.
package wallpaper

import (
	"errors"
	"os/exec"
	"runtime"
	"strings"

	"github.com/sam-hudson02/wallsync-client/internal/logging"
	"github.com/sam-hudson02/wallsync-client/internal/metrics"
)

// Placeholder is replaced with the image path in the command template.
const Placeholder = "$WALL"

// ErrEmptyCommand is returned when no command template is configured.
var ErrEmptyCommand = errors.New("wallpaper command is empty")

// Shell applies wallpapers by running a shell command template.
type Shell struct {
	template string
	shell    []string
}

// NewShell creates an applier for template, e.g. "feh --bg-fill $WALL".
func NewShell(template string) *Shell {
	shell := []string{"sh", "-c"}
	if runtime.GOOS == "windows" {
		shell = []string{"cmd", "/C"}
	}
	return &Shell{template: template, shell: shell}
}

// Command returns the command line that would be run for path.
func (s *Shell) Command(path string) string {
	return strings.ReplaceAll(s.template, Placeholder, path)
}

// Apply starts the command for path. It does not wait for the command to
// finish; the exit status is logged when it does.
func (s *Shell) Apply(path string) error {
	if strings.TrimSpace(s.template) == "" {
		metrics.RecordWallpaperApply(false)
		return ErrEmptyCommand
	}

	line := s.Command(path)
	cmd := exec.Command(s.shell[0], append(s.shell[1:], line)...)
	logging.Info("applying wallpaper", logging.String("command", line))
	if err := cmd.Start(); err != nil {
		metrics.RecordWallpaperApply(false)
		return err
	}
	metrics.RecordWallpaperApply(true)

	go func() {
		if err := cmd.Wait(); err != nil {
			logging.Warn("wallpaper command failed", logging.String("command", line), logging.Err(err))
		}
	}()
	return nil
}
