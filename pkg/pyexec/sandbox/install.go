package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// missingScript prints every argument that cannot be imported.
const missingScript = `import importlib.util, sys
for name in sys.argv[1:]:
    try:
        found = importlib.util.find_spec(name) is not None
    except Exception:
        found = False
    if not found:
        print(name)
`

// Missing reports which modules the sandbox interpreter cannot import.
func (sb *Sandbox) Missing(ctx context.Context, modules []string) ([]string, error) {
	if len(modules) == 0 {
		return nil, nil
	}
	args := append([]string{"-c", missingScript}, modules...)
	out, err := sb.run(ctx, importTimeout, sb.python, args...)
	if err != nil {
		return nil, fmt.Errorf("checking modules: %w", err)
	}

	var missing []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			missing = append(missing, line)
		}
	}
	return missing, nil
}

// Install installs pkg with the pip of the sandbox interpreter. The output
// is returned on failure so callers can surface the package manager's
// message. The caller's context bounds the install.
func (sb *Sandbox) Install(ctx context.Context, pkg string) (string, error) {
	if sb.closed() {
		return "", errors.New("sandbox has been cleaned up")
	}
	cmd := sb.command(ctx, sb.python, "-m", "pip", "install", pkg)
	cmd.Dir = sb.dir

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return stderr.String(), fmt.Errorf("installing %s: %w", pkg, ctx.Err())
		}
		msg := stderr.String()
		if strings.TrimSpace(msg) == "" {
			msg = stdout.String()
		}
		return msg, fmt.Errorf("installing %s: %w", pkg, err)
	}
	return stdout.String(), nil
}
