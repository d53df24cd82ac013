//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-ps"
)

// ErrAlreadyRunning is returned when another process runs the same executable.
var ErrAlreadyRunning = errors.New("another instance is already running")

// processLister matches ps.Processes.
type processLister func() ([]ps.Process, error)

// EnsureSingleInstance fails when another process with the executable name of
// the current one is alive. Two nodes on one machine would share the buzzer
// and the keyboard, so the node refuses to start twice.
func EnsureSingleInstance() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	return ensureSingleInstance(filepath.Base(executable), os.Getpid(), ps.Processes)
}

// ensureSingleInstance scans the process table for name, skipping pid.
func ensureSingleInstance(name string, pid int, list processLister) error {
	processList, err := list()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	for _, process := range processList {
		if process.Pid() == pid {
			continue
		}

		if process.Executable() != name {
			continue
		}

		return fmt.Errorf("%w: %s (pid %d)", ErrAlreadyRunning, name, process.Pid())
	}

	return nil
}
