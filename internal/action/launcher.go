package action

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// CommandLauncher opens URLs with a desktop opener such as xdg-open
type CommandLauncher struct {
	Command string
}

// Launch starts the opener and returns once it has been spawned. The
// opener outlives ctx.
func (l CommandLauncher) Launch(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !strings.HasPrefix(rawURL, "https://") && !strings.HasPrefix(rawURL, "whatsapp://") {
		return fmt.Errorf("refusing to open %q", rawURL)
	}
	if l.Command == "" {
		return fmt.Errorf("no open command configured")
	}

	cmd := exec.Command(l.Command, rawURL)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", l.Command, err)
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Debug("Open command exited with error", "command", l.Command, "error", err)
		}
	}()
	return nil
}
