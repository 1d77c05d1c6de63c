package models

import "time"

// StepKind tags the variant of a bring-up Step.
type StepKind string

const (
	StepExpect            StepKind = "expect"
	StepSend              StepKind = "send"
	StepWriteAfter        StepKind = "write_after"
	StepSleep             StepKind = "sleep"
	StepWaitConfig        StepKind = "wait_config"
	StepCommitAndWait     StepKind = "commit_and_wait"
	StepLoginUntil        StepKind = "login_until"
	StepRotateCredentials StepKind = "rotate_credentials"
	StepSetReady          StepKind = "set_ready"
	StepSetInstalled      StepKind = "set_installed"
)

// Pace controls how a line is written to the console.
type Pace string

const (
	PaceNone    Pace = ""
	PacePerChar Pace = "per-char"
)

// Mode restricts a step to install or run bring-ups.
type Mode string

const (
	ModeAny     Mode = ""
	ModeInstall Mode = "install"
	ModeRun     Mode = "run"
)

// DefaultTrailer terminates lines sent to the console.
const DefaultTrailer = "\r"

// Step is one instruction of a bring-up script. Only the fields relevant to
// Kind are consulted.
type Step struct {
	Kind  StepKind `yaml:"kind" toml:"kind"`
	Label string   `yaml:"label,omitempty" toml:"label,omitempty"`
	Mode  Mode     `yaml:"mode,omitempty" toml:"mode,omitempty"`

	// Patterns are matched in order by Expect and WriteAfter (first entry).
	Patterns []string `yaml:"patterns,omitempty" toml:"patterns,omitempty"`
	// OnMatch holds, per pattern, the label to continue at. Empty means next.
	OnMatch []string `yaml:"on_match,omitempty" toml:"on_match,omitempty"`
	// OnTimeout is the label to continue at after a timed out poll. Empty
	// means poll the same step again.
	OnTimeout string        `yaml:"on_timeout,omitempty" toml:"on_timeout,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"`

	Line    string `yaml:"line,omitempty" toml:"line,omitempty"`
	Trailer string `yaml:"trailer,omitempty" toml:"trailer,omitempty"`
	Pace    Pace   `yaml:"pace,omitempty" toml:"pace,omitempty"`

	Duration time.Duration `yaml:"duration,omitempty" toml:"duration,omitempty"`

	// ShowCmd and Expect drive WaitConfig and CommitAndWait.
	ShowCmd  string        `yaml:"show_cmd,omitempty" toml:"show_cmd,omitempty"`
	Expect   string        `yaml:"expect,omitempty" toml:"expect,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty" toml:"interval,omitempty"`
}

// Expect waits for the first of patterns.
func Expect(timeout time.Duration, patterns ...string) Step {
	return Step{Kind: StepExpect, Patterns: patterns, Timeout: timeout}
}

// Send writes line followed by a carriage return.
func Send(line string) Step {
	return Step{Kind: StepSend, Line: line, Trailer: DefaultTrailer}
}

// SendRaw writes line followed by trailer, which may be empty.
func SendRaw(line, trailer string) Step {
	return Step{Kind: StepSend, Line: line, Trailer: trailer}
}

// WriteAfter waits for pattern, answering side-prompts, then sends line.
func WriteAfter(pattern, line string, timeout time.Duration) Step {
	return Step{Kind: StepWriteAfter, Patterns: []string{pattern}, Line: line, Trailer: DefaultTrailer, Timeout: timeout}
}

func Sleep(d time.Duration) Step {
	return Step{Kind: StepSleep, Duration: d}
}

// WaitConfig issues showCmd until its output contains expect.
func WaitConfig(showCmd, expect string, timeout time.Duration) Step {
	return Step{Kind: StepWaitConfig, ShowCmd: showCmd, Expect: expect, Timeout: timeout}
}

// CommitAndWait sends commit then behaves like WaitConfig.
func CommitAndWait(commit, showCmd, expect string, timeout time.Duration) Step {
	return Step{Kind: StepCommitAndWait, Line: commit, ShowCmd: showCmd, Expect: expect, Timeout: timeout}
}

// LoginUntil logs in with candidate credentials until ready is seen.
func LoginUntil(ready string, timeout time.Duration) Step {
	return Step{Kind: StepLoginUntil, Patterns: []string{ready}, Timeout: timeout}
}

// RotateCredentials replaces the vendor default credentials with the target ones.
func RotateCredentials(timeout time.Duration) Step {
	return Step{Kind: StepRotateCredentials, Timeout: timeout}
}

func SetReady() Step {
	return Step{Kind: StepSetReady}
}

func SetInstalled() Step {
	return Step{Kind: StepSetInstalled}
}

// Labeled names the step so other steps can jump to it.
func (s Step) Labeled(label string) Step {
	s.Label = label

	return s
}

// Branch sets the per-pattern continuation labels.
func (s Step) Branch(labels ...string) Step {
	s.OnMatch = labels

	return s
}

// OrElse sets the continuation label after a timed out poll.
func (s Step) OrElse(label string) Step {
	s.OnTimeout = label

	return s
}

// Only restricts the step to a bring-up mode.
func (s Step) Only(mode Mode) Step {
	s.Mode = mode

	return s
}

// Paced writes the line one character at a time.
func (s Step) Paced() Step {
	s.Pace = PacePerChar

	return s
}

// Terminal reports whether the step ends the script.
func (s Step) Terminal() bool {
	return s.Kind == StepSetReady || s.Kind == StepSetInstalled
}

// Applies reports whether the step runs in the given mode.
func (s Step) Applies(install bool) bool {
	return s.Mode.applies(install)
}

func (m Mode) applies(install bool) bool {
	switch m {
	case ModeInstall:
		return install
	case ModeRun:
		return !install
	default:
		return true
	}
}
