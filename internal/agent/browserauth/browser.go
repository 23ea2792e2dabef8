package browserauth

import (
	"errors"
	"os/exec"
	"runtime"

	"github.com/pkg/browser"
)

// openBrowser opens rawURL in the user's browser. browser.OpenURL covers the
// common cases; the per-OS launcher commands are a second chance on desktops
// where it fails (misconfigured BROWSER, snap-confined defaults).
func openBrowser(rawURL string) error {
	if err := browser.OpenURL(rawURL); err == nil {
		return nil
	}

	var candidates [][]string
	switch runtime.GOOS {
	case "darwin":
		candidates = [][]string{{"open", rawURL}}
	case "windows":
		candidates = [][]string{{"rundll32", "url.dll,FileProtocolHandler", rawURL}}
	default:
		candidates = [][]string{
			{"xdg-open", rawURL},
			{"sensible-browser", rawURL},
			{"firefox", rawURL},
			{"chromium", rawURL},
		}
	}

	var lastErr error
	for _, c := range candidates {
		cmd := exec.Command(c[0], c[1:]...)
		if err := cmd.Start(); err != nil {
			lastErr = err
			continue
		}
		// Launcher started; don't wait for the browser to exit.
		go func() { _ = cmd.Wait() }()
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no launcher available")
	}
	return lastErr
}
