package shared

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"vrnode/pkg/defaults"
	"vrnode/pkg/log"
	"vrnode/pkg/ports"
)

// PIDReadFromFile reads a pid written by PIDWriteToFile.
func PIDReadFromFile(pidFile string, fs afero.Fs) (int, error) {
	data, err := afero.ReadFile(fs, pidFile)
	if err != nil {
		return -1, fmt.Errorf("reading pid file %s: %w", pidFile, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return -1, fmt.Errorf("converting data to int: %w", err)
	}

	return pid, nil
}

// PIDWriteToFile records pid at pidFile.
func PIDWriteToFile(pid int, pidFile string, fs afero.Fs) error {
	file, err := fs.OpenFile(pidFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, defaults.DataFilePerm)
	if err != nil {
		return fmt.Errorf("opening pid file %s: %w", pidFile, err)
	}

	defer file.Close()

	if _, err = fmt.Fprintf(file, "%d", pid); err != nil {
		return fmt.Errorf("writing pid %d to file %s: %w", pid, pidFile, err)
	}

	return nil
}

// ExitCode extracts the exit status of a failed command, or -1.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}

// NewExecRunner returns a ports.CommandRunner backed by os/exec.
func NewExecRunner() ports.CommandRunner {
	return execRunner{}
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	log.GetLogger(ctx).Debugf("running %s %s", name, strings.Join(args, " "))

	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("running %s: %w", name, err)
	}

	return out, nil
}
