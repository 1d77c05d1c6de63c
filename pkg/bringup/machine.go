package bringup

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"vrnode/pkg/console"
	"vrnode/pkg/defaults"
	"vrnode/pkg/errors"
	"vrnode/pkg/log"
	"vrnode/pkg/models"

	"github.com/sirupsen/logrus"
)

// Console is the part of the console driver the machine uses.
type Console interface {
	// Await is Expect that answers side prompts on the way.
	Await(ctx context.Context, patterns []console.Pattern, timeout time.Duration) (console.Match, error)
	Write(line, trailer string) error
	WritePaced(ctx context.Context, line, trailer string) error
}

// Outcome is the terminal step the script reached.
type Outcome string

const (
	OutcomeReady     Outcome = "ready"
	OutcomeInstalled Outcome = "installed"
)

// Config tunes a Machine.
type Config struct {
	// Install selects the install-mode terminal.
	Install bool
	// OnState is told when the bring-up moves from logging in to bootstrapping.
	OnState func(models.InstanceState)
}

type credentials struct {
	username string
	password string
}

type vocabulary struct {
	login    []console.Pattern
	password []console.Pattern
	ready    []console.Pattern
	config   []console.Pattern
	newPass  []console.Pattern
	busy     []console.Pattern
}

// Machine executes a bring-up script against a console. It owns the spin
// counter; every poll that sees bytes resets it and every empty timed out
// poll increments it. The last prompt a poll consumed stays pending until
// the next write, so a following step can act on it without waiting for the
// device to print it again.
type Machine struct {
	profile  *models.Profile
	con      Console
	cfg      Config
	steps    []models.Step
	labels   map[string]int
	compiled map[int][]console.Pattern
	vocab    vocabulary

	spins       int
	maxSpins    int
	pollTimeout time.Duration
	pending     []byte

	target  credentials
	vendor  credentials
	current credentials

	loggedIn bool
	logger   *logrus.Entry
}

// New validates the profile script and returns a machine ready to run it.
func New(ctx context.Context, p *models.Profile, con Console, cfg Config) (*Machine, error) {
	m := &Machine{
		profile:     p,
		con:         con,
		cfg:         cfg,
		steps:       append(append([]models.Step(nil), p.BringUp...), p.PostReady...),
		labels:      map[string]int{},
		compiled:    map[int][]console.Pattern{},
		maxSpins:    p.MaxSpins,
		pollTimeout: p.PollTimeout,
		target:      credentials{username: p.Username, password: p.Password},
		vendor:      credentials{username: p.DefaultUsername, password: p.DefaultPassword},
		logger:      log.GetLogger(ctx).WithFields(logrus.Fields{"component": "bringup", "family": p.Family}),
	}

	if m.maxSpins <= 0 {
		m.maxSpins = defaults.MaxSpins
	}

	if m.pollTimeout <= 0 {
		m.pollTimeout = defaults.PollTimeout
	}

	m.current = m.vendor
	if m.current.username == "" {
		m.current = m.target
	}

	if err := m.compile(); err != nil {
		return nil, errors.ProfileInvalidError{Family: p.Family, Reason: err.Error()}
	}

	return m, nil
}

func (m *Machine) compile() error {
	var err error

	vocab := []struct {
		dst *[]console.Pattern
		src []string
	}{
		{&m.vocab.login, m.profile.Prompts.Login},
		{&m.vocab.password, m.profile.Prompts.Password},
		{&m.vocab.ready, m.profile.Prompts.Ready},
		{&m.vocab.config, m.profile.Prompts.Config},
		{&m.vocab.newPass, m.profile.Prompts.NewPass},
		{&m.vocab.busy, m.profile.Prompts.Busy},
	}

	for _, v := range vocab {
		if *v.dst, err = console.CompileAll(v.src); err != nil {
			return err
		}
	}

	for i, s := range m.steps {
		if s.Label != "" {
			if _, dup := m.labels[s.Label]; dup {
				return fmt.Errorf("duplicate label %q", s.Label)
			}

			m.labels[s.Label] = i
		}
	}

	for i, s := range m.steps {
		for _, l := range append(append([]string(nil), s.OnMatch...), s.OnTimeout) {
			if l == "" {
				continue
			}

			if _, ok := m.labels[l]; !ok {
				return fmt.Errorf("step %d jumps to unknown label %q", i, l)
			}
		}

		if len(s.Patterns) > 0 {
			if m.compiled[i], err = console.CompileAll(s.Patterns); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}

		switch s.Kind {
		case models.StepExpect, models.StepWriteAfter, models.StepLoginUntil:
			if len(s.Patterns) == 0 {
				return fmt.Errorf("step %d (%s) has no patterns", i, s.Kind)
			}
		case models.StepWaitConfig, models.StepCommitAndWait:
			if s.ShowCmd == "" || len(m.vocab.ready)+len(m.vocab.config) == 0 {
				return fmt.Errorf("step %d (%s) needs a show command and a ready prompt", i, s.Kind)
			}
		case models.StepRotateCredentials:
			if len(m.vocab.login) == 0 || len(m.vocab.ready) == 0 {
				return fmt.Errorf("step %d rotates credentials without login and ready prompts", i)
			}
		}
	}

	return nil
}

// Spins returns the current spin counter.
func (m *Machine) Spins() int {
	return m.spins
}

// Run executes the script until a terminal step that applies to the current
// mode, followed by any post-ready hooks.
func (m *Machine) Run(ctx context.Context) (Outcome, error) {
	m.setState(models.StateLoggingIn)

	var outcome Outcome

	pc := 0
	for pc < len(m.steps) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		step := m.steps[pc]
		if !step.Applies(m.cfg.Install) {
			pc++

			continue
		}

		logger := m.logger.WithFields(logrus.Fields{"step": pc, "kind": step.Kind})
		logger.Trace("running step")

		switch step.Kind {
		case models.StepSetInstalled:
			m.logger.Info("device provisioned for install")

			return OutcomeInstalled, nil
		case models.StepSetReady:
			m.logger.Info("device reached ready")
			outcome = OutcomeReady
			pc++

			continue
		}

		next, err := m.exec(ctx, pc, step)
		if err != nil {
			return "", fmt.Errorf("step %d (%s): %w", pc, step.Kind, err)
		}

		pc = next
	}

	if outcome == "" {
		return "", fmt.Errorf("script ended without a terminal step: %w", errors.ErrProtocolDesync)
	}

	return outcome, nil
}

func (m *Machine) exec(ctx context.Context, pc int, step models.Step) (int, error) {
	switch step.Kind {
	case models.StepExpect:
		return m.expect(ctx, pc, step)
	case models.StepSend:
		return pc + 1, m.send(ctx, step.Line, step.Trailer, step.Pace)
	case models.StepWriteAfter:
		main := m.compiled[pc][:1]

		if _, err := m.prompt(ctx, main, m.timeout(step)); err != nil {
			return pc, fmt.Errorf("waiting for %q: %w", main[0].String(), err)
		}

		return pc + 1, m.send(ctx, step.Line, step.Trailer, step.Pace)
	case models.StepSleep:
		return pc + 1, sleep(ctx, step.Duration)
	case models.StepWaitConfig:
		return pc + 1, m.waitConfig(ctx, step)
	case models.StepCommitAndWait:
		prompts := m.prompts()

		if _, err := m.prompt(ctx, prompts, m.timeout(step)); err != nil {
			return pc, fmt.Errorf("waiting to commit: %w", err)
		}

		if err := m.send(ctx, step.Line, models.DefaultTrailer, step.Pace); err != nil {
			return pc, err
		}

		// the commit hands back a prompt before the show loop starts
		if _, err := m.wait(ctx, prompts, m.timeout(step)); err != nil {
			return pc, fmt.Errorf("waiting for commit: %w", err)
		}

		return pc + 1, m.waitConfig(ctx, step)
	case models.StepLoginUntil:
		return pc + 1, m.loginUntil(ctx, m.compiled[pc][0], step)
	case models.StepRotateCredentials:
		return pc + 1, m.rotateCredentials(ctx, step)
	default:
		return pc, fmt.Errorf("unknown step kind %q: %w", step.Kind, errors.ErrProtocolDesync)
	}
}

func (m *Machine) expect(ctx context.Context, pc int, step models.Step) (int, error) {
	match, ok := m.onScreen(m.compiled[pc])

	var err error
	if !ok {
		match, err = m.poll(ctx, m.compiled[pc], m.timeout(step))
	}

	switch {
	case stderrors.Is(err, errors.ErrTimedOut):
		if step.OnTimeout != "" {
			return m.labels[step.OnTimeout], nil
		}

		return pc, nil
	case err != nil:
		return pc, err
	}

	if match.Index < len(step.OnMatch) && step.OnMatch[match.Index] != "" {
		return m.labels[step.OnMatch[match.Index]], nil
	}

	return pc + 1, nil
}

// poll is Await with spin accounting. A timed out poll is returned as
// ErrTimedOut unless it overflowed the spin counter.
func (m *Machine) poll(ctx context.Context, patterns []console.Pattern, timeout time.Duration) (console.Match, error) {
	match, err := m.con.Await(ctx, patterns, timeout)

	if match.Received > 0 {
		m.spins = 0
	}

	if err == nil {
		m.pending = match.Matched
	}

	if !stderrors.Is(err, errors.ErrTimedOut) {
		return match, err
	}

	if match.Received == 0 {
		m.spins++
		m.logger.Tracef("no console progress, spin %d/%d", m.spins, m.maxSpins)
	}

	if m.spins > m.maxSpins {
		return match, fmt.Errorf("%d polls without console output: %w", m.spins, errors.ErrBootProgressLost)
	}

	return match, err
}

// wait polls in slices of the poll timeout until one of patterns shows up,
// so a long wait on a silent console still overflows the spin counter.
func (m *Machine) wait(ctx context.Context, patterns []console.Pattern, timeout time.Duration) (console.Match, error) {
	deadline := time.Now().Add(timeout)

	for {
		slice := time.Until(deadline)
		if slice > m.pollTimeout {
			slice = m.pollTimeout
		}

		match, err := m.poll(ctx, patterns, slice)
		if !stderrors.Is(err, errors.ErrTimedOut) || !time.Now().Before(deadline) {
			return match, err
		}
	}
}

// prompt returns the pending prompt if it is one of patterns, otherwise it
// waits for a fresh one.
func (m *Machine) prompt(ctx context.Context, patterns []console.Pattern, timeout time.Duration) (console.Match, error) {
	if match, ok := m.onScreen(patterns); ok {
		return match, nil
	}

	return m.wait(ctx, patterns, timeout)
}

func (m *Machine) onScreen(patterns []console.Pattern) (console.Match, bool) {
	if len(m.pending) == 0 {
		return console.Match{}, false
	}

	for i, p := range patterns {
		if start, end := p.Find(m.pending); start >= 0 {
			return console.Match{Index: i, Matched: m.pending[start:end]}, true
		}
	}

	return console.Match{}, false
}

// prompts is the ready and config vocabulary together; commits and show
// commands may be issued from either mode.
func (m *Machine) prompts() []console.Pattern {
	return append(append([]console.Pattern(nil), m.vocab.ready...), m.vocab.config...)
}

func (m *Machine) timeout(step models.Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}

	return m.pollTimeout
}

func (m *Machine) send(ctx context.Context, line, trailer string, pace models.Pace) error {
	m.pending = nil

	if pace == models.PacePerChar {
		return m.con.WritePaced(ctx, line, trailer)
	}

	return m.con.Write(line, trailer)
}

func (m *Machine) write(line string) error {
	m.pending = nil

	return m.con.Write(line, models.DefaultTrailer)
}

// loginUntil answers login prompts with the target credentials first, then
// the vendor defaults, until the ready prompt shows up.
func (m *Machine) loginUntil(ctx context.Context, ready console.Pattern, step models.Step) error {
	candidates := []credentials{m.target}
	if m.vendor.username != "" && m.vendor != m.target {
		candidates = append(candidates, m.vendor)
	}

	patterns := []console.Pattern{ready}
	patterns = append(patterns, m.vocab.login...)
	loginEnd := len(patterns)
	patterns = append(patterns, m.vocab.password...)
	passEnd := len(patterns)
	patterns = append(patterns, m.vocab.newPass...)

	var deadline time.Time
	if step.Timeout > 0 {
		deadline = time.Now().Add(step.Timeout)
	}

	attempt := -1

	for {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("logging in: %w", errors.ErrTimedOut)
		}

		match, err := m.prompt(ctx, patterns, m.pollTimeout)
		if stderrors.Is(err, errors.ErrTimedOut) {
			if err := m.write(""); err != nil {
				return err
			}

			continue
		}

		if err != nil {
			return err
		}

		switch {
		case match.Index == 0:
			if attempt >= 0 {
				m.current = candidates[attempt%len(candidates)]
			}

			m.markLoggedIn()

			return nil
		case match.Index < loginEnd:
			attempt++
			cred := candidates[attempt%len(candidates)]
			m.logger.Debugf("login attempt %d as %s", attempt+1, cred.username)

			if err := m.write(cred.username); err != nil {
				return err
			}
		case match.Index < passEnd:
			cred := m.current
			if attempt >= 0 {
				cred = candidates[attempt%len(candidates)]
			}

			if err := m.write(cred.password); err != nil {
				return err
			}
		default:
			if err := m.write(m.target.password); err != nil {
				return err
			}

			m.current = m.target
		}
	}
}

// rotateCredentials logs in with the vendor defaults, answers the password
// change dialog with the target password and records the target for
// later logins.
func (m *Machine) rotateCredentials(ctx context.Context, step models.Step) error {
	patterns := []console.Pattern{}
	patterns = append(patterns, m.vocab.ready...)
	readyEnd := len(patterns)
	patterns = append(patterns, m.vocab.newPass...)
	newEnd := len(patterns)
	patterns = append(patterns, m.vocab.login...)
	loginEnd := len(patterns)
	patterns = append(patterns, m.vocab.password...)

	var deadline time.Time
	if step.Timeout > 0 {
		deadline = time.Now().Add(step.Timeout)
	}

	rotated := false

	for {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("rotating credentials: %w", errors.ErrTimedOut)
		}

		match, err := m.prompt(ctx, patterns, m.pollTimeout)
		if stderrors.Is(err, errors.ErrTimedOut) {
			continue
		}

		if err != nil {
			return err
		}

		var answer string

		switch {
		case match.Index < readyEnd:
			if rotated || m.vendor == m.target {
				m.current = m.target
			}

			m.markLoggedIn()

			return nil
		case match.Index < newEnd:
			answer = m.target.password
			rotated = true
		case match.Index < loginEnd:
			answer = m.vendor.username
			if rotated {
				answer = m.target.username
			}
		default:
			answer = m.vendor.password
			if rotated {
				answer = m.target.password
			}
		}

		if err := m.write(answer); err != nil {
			return err
		}
	}
}

// waitConfig repeats the show command until its output holds the expected
// substring. Busy output is an expected transient. The command is only
// typed at a ready or config prompt, and the echo of it is not output.
func (m *Machine) waitConfig(ctx context.Context, step models.Step) error {
	timeout := m.timeout(step)
	interval := step.Interval

	if interval <= 0 {
		interval = 5 * time.Second
	}

	deadline := time.Now().Add(timeout)
	prompts := m.prompts()

	for {
		if _, err := m.prompt(ctx, prompts, time.Until(deadline)); err != nil {
			if stderrors.Is(err, errors.ErrTimedOut) {
				return fmt.Errorf("waiting to run %q: %w", step.ShowCmd, err)
			}

			return err
		}

		if err := m.write(step.ShowCmd); err != nil {
			return err
		}

		match, err := m.wait(ctx, prompts, time.Until(deadline))
		if err != nil && !stderrors.Is(err, errors.ErrTimedOut) {
			return err
		}

		output := bytes.Replace(match.Before, []byte(step.ShowCmd), nil, 1)

		switch {
		case err == nil && bytes.Contains(output, []byte(step.Expect)):
			return nil
		case m.busy(output):
			m.logger.WithError(errors.ErrConfigCommitBusy).Debugf("%q still busy", step.ShowCmd)
		}

		if time.Now().Add(interval).After(deadline) {
			return fmt.Errorf("waiting for %q in %q: %w", step.Expect, step.ShowCmd, errors.ErrTimedOut)
		}

		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
}

func (m *Machine) busy(output []byte) bool {
	for _, p := range m.vocab.busy {
		if start, _ := p.Find(output); start >= 0 {
			return true
		}
	}

	return false
}

func (m *Machine) markLoggedIn() {
	if m.loggedIn {
		return
	}

	m.loggedIn = true
	m.setState(models.StateBootstrapping)
}

func (m *Machine) setState(s models.InstanceState) {
	if m.cfg.OnState != nil {
		m.cfg.OnState(s)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
