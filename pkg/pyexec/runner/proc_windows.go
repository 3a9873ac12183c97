//go:build windows

package runner

import "os/exec"

// killProcessGroup keeps the default behavior of killing only the child.
func killProcessGroup(cmd *exec.Cmd) {}
