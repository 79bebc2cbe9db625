package server

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// storeRootChecker verifies the job store root is present and writable.
type storeRootChecker struct {
	root string
}

func (c storeRootChecker) CheckHealth(ctx context.Context) error {
	info, err := os.Stat(c.root)
	if err != nil {
		return fmt.Errorf("job store root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("job store root %s is not a directory", c.root)
	}
	probe := filepath.Join(c.root, ".health-probe")
	if err := os.WriteFile(probe, nil, 0644); err != nil {
		return fmt.Errorf("job store root not writable: %w", err)
	}
	_ = os.Remove(probe)
	return nil
}

// binaryChecker verifies the downloader binary resolves on PATH.
type binaryChecker struct {
	binary string
}

func (c binaryChecker) CheckHealth(ctx context.Context) error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return fmt.Errorf("downloader binary %q not found: %w", c.binary, err)
	}
	return nil
}
