package console

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"vrnode/pkg/defaults"
	"vrnode/pkg/errors"
	"vrnode/pkg/log"
	"vrnode/pkg/models"

	"github.com/sirupsen/logrus"
)

const readChunk = 4096

// Match is the outcome of a successful Expect.
type Match struct {
	// Index is the position of the matched pattern in the request.
	Index int
	// Matched holds the bytes that matched the pattern.
	Matched []byte
	// Before holds the consumed bytes that preceded the match.
	Before []byte
	// Received counts the bytes that arrived during this call.
	Received int
}

// Config tunes a Driver.
type Config struct {
	SidePrompts    []models.SidePrompt
	MaxSidePrompts int
	CharDelay      time.Duration
	// Transcript receives every byte read from the console.
	Transcript io.Writer
}

type chunk struct {
	data []byte
	err  error
}

// Driver runs expect/send over a console stream. Writes and expects must
// come from one goroutine; a background pump only reads.
type Driver struct {
	rw          io.ReadWriteCloser
	buf         []byte
	chunks      chan chunk
	done        chan struct{}
	closed      error
	sidePrompts []Pattern
	answers     []string
	maxSide     int
	sideCycles  int
	charDelay   time.Duration
	transcript  io.Writer
	closeOnce   sync.Once
	logger      *logrus.Entry
}

// New starts reading from rw and returns a Driver over it.
func New(ctx context.Context, rw io.ReadWriteCloser, cfg Config) (*Driver, error) {
	side := make([]Pattern, 0, len(cfg.SidePrompts))
	answers := make([]string, 0, len(cfg.SidePrompts))

	for _, sp := range cfg.SidePrompts {
		p, err := Compile(sp.Pattern)
		if err != nil {
			return nil, fmt.Errorf("side prompt: %w", err)
		}

		side = append(side, p)
		answers = append(answers, sp.Answer)
	}

	maxSide := cfg.MaxSidePrompts
	if maxSide <= 0 {
		maxSide = defaults.MaxSidePrompts
	}

	delay := cfg.CharDelay
	if delay <= 0 {
		delay = defaults.CharDelay
	}

	d := &Driver{
		rw:          rw,
		chunks:      make(chan chunk, 16),
		done:        make(chan struct{}),
		sidePrompts: side,
		answers:     answers,
		maxSide:     maxSide,
		charDelay:   delay,
		transcript:  cfg.Transcript,
		logger:      log.GetLogger(ctx).WithField("component", "console"),
	}

	go d.pump()

	return d, nil
}

func (d *Driver) pump() {
	defer close(d.chunks)

	for {
		b := make([]byte, readChunk)

		n, err := d.rw.Read(b)
		if n > 0 && !d.deliver(chunk{data: b[:n]}) {
			return
		}

		if err != nil {
			d.deliver(chunk{err: err})

			return
		}
	}
}

func (d *Driver) deliver(c chunk) bool {
	select {
	case d.chunks <- c:
		return true
	case <-d.done:
		return false
	}
}

// Expect waits until one of patterns appears in the buffer. Patterns are
// tried in list order, so an earlier pattern wins even if a later one occurs
// first in the buffer. Bytes up to the end of the match are consumed.
func (d *Driver) Expect(ctx context.Context, patterns []Pattern, timeout time.Duration) (Match, error) {
	if len(patterns) == 0 {
		return Match{}, fmt.Errorf("expect without patterns: %w", errors.ErrProtocolDesync)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	received := 0

	for {
		if m, ok := d.match(patterns); ok {
			m.Received = received

			return m, nil
		}

		if d.closed != nil {
			return Match{Received: received}, fmt.Errorf("%v: %w", d.closed, errors.ErrStreamClosed)
		}

		select {
		case <-ctx.Done():
			return Match{Received: received}, ctx.Err()
		case <-timer.C:
			return Match{Received: received}, errors.ErrTimedOut
		case c, ok := <-d.chunks:
			if !ok {
				d.closed = io.EOF

				continue
			}

			if c.err != nil {
				d.closed = c.err

				continue
			}

			received += len(c.data)
			d.buf = append(d.buf, c.data...)
			d.logger.Tracef("console << %q", c.data)

			if d.transcript != nil {
				_, _ = d.transcript.Write(c.data)
			}
		}
	}
}

func (d *Driver) match(patterns []Pattern) (Match, bool) {
	for i, p := range patterns {
		start, end := p.Find(d.buf)
		if start < 0 {
			continue
		}

		m := Match{
			Index:   i,
			Before:  append([]byte(nil), d.buf[:start]...),
			Matched: append([]byte(nil), d.buf[start:end]...),
		}
		d.buf = append(d.buf[:0], d.buf[end:]...)

		return m, true
	}

	return Match{}, false
}

// Buffer returns the unconsumed bytes received so far.
func (d *Driver) Buffer() []byte {
	return append([]byte(nil), d.buf...)
}

// Drain consumes and returns the buffered bytes.
func (d *Driver) Drain() []byte {
	out := d.Buffer()
	d.buf = d.buf[:0]

	return out
}

// Write sends line followed by trailer without waiting for anything.
func (d *Driver) Write(line, trailer string) error {
	d.logger.Tracef("console >> %q", line+trailer)

	if _, err := io.WriteString(d.rw, line+trailer); err != nil {
		return fmt.Errorf("writing to console: %v: %w", err, errors.ErrStreamClosed)
	}

	return nil
}

// WritePaced sends line one character at a time for consoles that drop
// input arriving too fast.
func (d *Driver) WritePaced(ctx context.Context, line, trailer string) error {
	d.logger.Tracef("console >> %q (paced)", line+trailer)

	for _, b := range []byte(line + trailer) {
		if _, err := d.rw.Write([]byte{b}); err != nil {
			return fmt.Errorf("writing to console: %v: %w", err, errors.ErrStreamClosed)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.charDelay):
		}
	}

	return nil
}

// Await is Expect that answers side prompts on the way. More side-prompt
// cycles in a row than the configured limit, with no requested pattern in
// between, is a desync.
func (d *Driver) Await(ctx context.Context, patterns []Pattern, timeout time.Duration) (Match, error) {
	all := append(append([]Pattern(nil), patterns...), d.sidePrompts...)
	deadline := time.Now().Add(timeout)
	received := 0

	for {
		m, err := d.Expect(ctx, all, time.Until(deadline))
		received += m.Received
		m.Received = received

		if err != nil {
			return m, err
		}

		if m.Index < len(patterns) {
			d.sideCycles = 0

			return m, nil
		}

		d.sideCycles++
		if d.sideCycles > d.maxSide {
			return m, fmt.Errorf("side prompt %q seen %d times: %w", m.Matched, d.sideCycles, errors.ErrProtocolDesync)
		}

		answer := d.answers[m.Index-len(patterns)]
		d.logger.Debugf("answering side prompt %q with %q", m.Matched, answer)

		if err := d.Write(answer, models.DefaultTrailer); err != nil {
			return m, err
		}
	}
}

// WriteAfter waits for main, answering any side-prompt on the way, then
// sends line. A nil main sends immediately.
func (d *Driver) WriteAfter(ctx context.Context, main *Pattern, line, trailer string, timeout time.Duration) error {
	if main == nil {
		return d.Write(line, trailer)
	}

	d.sideCycles = 0

	if _, err := d.Await(ctx, []Pattern{*main}, timeout); err != nil {
		return fmt.Errorf("waiting for %q: %w", main.String(), err)
	}

	return d.Write(line, trailer)
}

// Close closes the underlying stream; the pump exits on the resulting error.
func (d *Driver) Close() error {
	var err error

	d.closeOnce.Do(func() {
		close(d.done)
		err = d.rw.Close()
	})

	return err
}
