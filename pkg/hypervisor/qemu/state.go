package qemu

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"

	"vrnode/pkg/defaults"
	"vrnode/pkg/hypervisor/shared"
)

// State lays out the per-instance state directory.
type State struct {
	stateRoot string
	fs        afero.Fs
}

func NewState(name, stateDir string, fs afero.Fs) *State {
	return &State{
		stateRoot: fmt.Sprintf("%s/%s", stateDir, name),
		fs:        fs,
	}
}

func (s *State) Root() string {
	return s.stateRoot
}

func (s *State) PIDPath() string {
	return fmt.Sprintf("%s/qemu.pid", s.stateRoot)
}

func (s *State) PID() (int, error) {
	return shared.PIDReadFromFile(s.PIDPath(), s.fs)
}

func (s *State) SetPid(pid int) error {
	return shared.PIDWriteToFile(pid, s.PIDPath(), s.fs)
}

func (s *State) StdoutPath() string {
	return fmt.Sprintf("%s/qemu.stdout", s.stateRoot)
}

func (s *State) StderrPath() string {
	return fmt.Sprintf("%s/qemu.stderr", s.stateRoot)
}

// ConsoleLogPath holds the transcript of everything read from the console.
func (s *State) ConsoleLogPath() string {
	return fmt.Sprintf("%s/console.log", s.stateRoot)
}

func (s *State) ArgsPath() string {
	return fmt.Sprintf("%s/qemu.args", s.stateRoot)
}

// SetArgs records the command line of the last spawn, one argument per line.
func (s *State) SetArgs(argv []string) error {
	return afero.WriteFile(s.fs, s.ArgsPath(), []byte(strings.Join(argv, "\n")+"\n"), defaults.DataFilePerm)
}

func (s *State) ensure() error {
	if err := s.fs.MkdirAll(s.Root(), defaults.DataDirPerm); err != nil {
		return fmt.Errorf("creating state directory %s: %w", s.Root(), err)
	}

	return nil
}

func (s *State) openAppend(path string) (afero.File, error) {
	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, defaults.DataFilePerm)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	return f, nil
}

// OpenTranscript opens the console transcript for appending.
func (s *State) OpenTranscript() (afero.File, error) {
	if err := s.ensure(); err != nil {
		return nil, err
	}

	return s.openAppend(s.ConsoleLogPath())
}
