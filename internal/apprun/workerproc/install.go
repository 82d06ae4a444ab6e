package workerproc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// InstallDependencies runs appDir's dependency installer with script
// execution disabled, failing if the installer exits non-zero. Invoked once
// at worker startup, before the entrypoint is loaded, when the app's
// manifest sets autoInstall. The package manager is picked from whichever
// lockfile is present; npm is the fallback when none is.
func InstallDependencies(ctx context.Context, appDir string) error {
	name, args := installerCommand(appDir)

	binPath, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("workerproc: %s not found in PATH: %w", name, err)
	}

	cmd := exec.CommandContext(ctx, binPath, args...)
	cmd.Dir = appDir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("workerproc: dependency install failed in %s: %w", appDir, err)
	}
	return nil
}

// installerCommand picks a package manager invocation for appDir based on
// its lockfile, each with the flag that skips lifecycle/install scripts.
func installerCommand(appDir string) (name string, args []string) {
	switch {
	case fileExists(filepath.Join(appDir, "pnpm-lock.yaml")):
		return "pnpm", []string{"install", "--ignore-scripts"}
	case fileExists(filepath.Join(appDir, "yarn.lock")):
		return "yarn", []string{"install", "--ignore-scripts"}
	default:
		return "npm", []string{"install", "--ignore-scripts"}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
