package sandbox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// bootstrapPip downloads get-pip.py into the sandbox and runs it with the
// environment's interpreter.
func (sb *Sandbox) bootstrapPip(ctx context.Context, opts Options) error {
	script := filepath.Join(sb.dir, "get-pip.py")
	if err := download(ctx, opts.HTTPClient, opts.BootstrapURL, script); err != nil {
		return err
	}
	if _, err := sb.run(ctx, bootstrapTimeout, sb.python, script); err != nil {
		return fmt.Errorf("running get-pip.py: %w", err)
	}
	sb.logger.Info("pip bootstrapped")
	return nil
}

func download(ctx context.Context, client *http.Client, url, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: unexpected status %d", url, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return f.Close()
}
