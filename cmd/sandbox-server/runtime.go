package main

import (
	"fmt"
	"os/exec"
	"strings"
)

// runtimes maps a mode to its interpreter and script extension.
var runtimes = map[string]struct {
	cmd []string
	ext string
}{
	"python": {[]string{"python3"}, ".py"},
	"node":   {[]string{"node"}, ".js"},
	"shell":  {[]string{"bash"}, ".sh"},
}

// detectMode checks for runtimes in PATH in priority order.
func detectMode() string {
	for _, mode := range []string{"python", "node", "shell"} {
		if _, err := exec.LookPath(runtimes[mode].cmd[0]); err == nil {
			return mode
		}
	}
	return ""
}

// validateMode checks that the configured mode is known and its runtime
// is available.
func validateMode(mode string) error {
	rt, ok := runtimes[mode]
	if !ok {
		return fmt.Errorf("unsupported mode %q (supported: python, node, shell)", mode)
	}
	if _, err := exec.LookPath(rt.cmd[0]); err != nil {
		return fmt.Errorf("mode=%s but %q not found in PATH", mode, rt.cmd[0])
	}
	return nil
}

// detectRuntimeVersion returns the first line of the runtime's --version.
func detectRuntimeVersion(mode string) string {
	rt, ok := runtimes[mode]
	if !ok {
		return "unknown"
	}
	output, err := exec.Command(rt.cmd[0], "--version").Output()
	if err != nil {
		return "unknown"
	}
	version := strings.TrimSpace(string(output))
	if idx := strings.Index(version, "\n"); idx > 0 {
		version = version[:idx]
	}
	return version
}
