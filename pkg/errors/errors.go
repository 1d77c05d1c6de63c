package errors

import (
	"errors"
	"fmt"
)

var (
	ErrImageNotFound            = errors.New("no image matching the profile was found")
	ErrAmbiguousImage           = errors.New("image matches more than one device family")
	ErrArtifactGenerationFailed = errors.New("preboot artifact generation failed")
	ErrProfileInvalid           = errors.New("device profile is invalid")
	ErrUnknownFamily            = errors.New("unknown device family")
	ErrEmulatorSpawnFailed      = errors.New("emulator failed to start")
	ErrConsoleAttachTimeout     = errors.New("timed out attaching to console")
	ErrTimedOut                 = errors.New("timed out waiting for console")
	ErrStreamClosed             = errors.New("console stream closed")
	ErrBootProgressLost         = errors.New("boot progress lost")
	ErrProtocolDesync           = errors.New("console protocol desync")
	ErrConfigCommitBusy         = errors.New("configuration commit still in progress")
	ErrChildExitedUnexpected    = errors.New("emulator exited unexpectedly")
	ErrUserInput                = errors.New("invalid user input")
	ErrNoPeer                   = errors.New("peer endpoint not available")
	ErrFrameTooLarge            = errors.New("frame exceeds maximum length")
)

// ImageNotFoundError names the directory and family that had no image.
type ImageNotFoundError struct {
	Dir    string
	Family string
}

// Error returns the error message.
func (e ImageNotFoundError) Error() string {
	return fmt.Sprintf("no image for family %s in %s", e.Family, e.Dir)
}

func (e ImageNotFoundError) Unwrap() error {
	return ErrImageNotFound
}

// ProfileInvalidError explains why a profile could not be materialized.
type ProfileInvalidError struct {
	Family string
	Reason string
}

// Error returns the error message.
func (e ProfileInvalidError) Error() string {
	return fmt.Sprintf("profile %s is invalid: %s", e.Family, e.Reason)
}

func (e ProfileInvalidError) Unwrap() error {
	return ErrProfileInvalid
}

// ArtifactError records the failing tool of an artifact generator.
type ArtifactError struct {
	Path     string
	Tool     string
	ExitCode int
	Err      error
}

// Error returns the error message.
func (e ArtifactError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("generating %s: %v", e.Path, e.Err)
	}

	return fmt.Sprintf("generating %s: %s exited with %d: %v", e.Path, e.Tool, e.ExitCode, e.Err)
}

func (e ArtifactError) Unwrap() []error {
	return []error{ErrArtifactGenerationFailed, e.Err}
}

// UserInputError wraps a bad flag combination or malformed input file.
type UserInputError struct {
	Field  string
	Reason string
}

// Error returns the error message.
func (e UserInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e UserInputError) Unwrap() error {
	return ErrUserInput
}

// IsFatal reports whether an error ends the process at startup instead of
// causing a device restart.
func IsFatal(err error) bool {
	for _, target := range []error{
		ErrImageNotFound,
		ErrAmbiguousImage,
		ErrArtifactGenerationFailed,
		ErrProfileInvalid,
		ErrUnknownFamily,
		ErrUserInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// Reason renders the short health message for a restart cause.
func Reason(err error) string {
	switch {
	case err == nil:
		return "restarting"
	case errors.Is(err, ErrChildExitedUnexpected):
		return "VM failed"
	case errors.Is(err, ErrBootProgressLost):
		return "boot progress lost"
	case errors.Is(err, ErrProtocolDesync):
		return "console desync"
	case errors.Is(err, ErrStreamClosed):
		return "console closed"
	case errors.Is(err, ErrConsoleAttachTimeout):
		return "console unreachable"
	case errors.Is(err, ErrEmulatorSpawnFailed):
		return "VM failed to start"
	case errors.Is(err, ErrTimedOut):
		return "bring-up timed out"
	default:
		return "bring-up failed"
	}
}
