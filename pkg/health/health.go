package health

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"vrnode/pkg/defaults"
	"vrnode/pkg/models"

	"github.com/spf13/afero"
)

// ExitNotFound is the health check exit code when nothing was published yet.
const ExitNotFound = 2

// Publisher writes the health record as a whole-file replace. It skips
// writes that would not change the file.
type Publisher struct {
	fs   afero.Fs
	path string

	mu        sync.Mutex
	last      *models.HealthRecord
	observers []func(models.HealthRecord)
}

// NewPublisher returns a publisher writing to path.
func NewPublisher(fs afero.Fs, path string) *Publisher {
	return &Publisher{fs: fs, path: path}
}

// Observe registers a callback told about every change of the record.
func (p *Publisher) Observe(fn func(models.HealthRecord)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.observers = append(p.observers, fn)
}

// Publish replaces the health file with rec.
func (p *Publisher) Publish(rec models.HealthRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last != nil && *p.last == rec {
		return nil
	}

	dir := filepath.Dir(p.path)
	if err := p.fs.MkdirAll(dir, defaults.DataDirPerm); err != nil {
		return fmt.Errorf("creating health directory %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(p.fs, dir, ".health-*")
	if err != nil {
		return fmt.Errorf("creating temporary health file: %w", err)
	}

	if _, err := tmp.WriteString(rec.String()); err != nil {
		tmp.Close()
		_ = p.fs.Remove(tmp.Name())

		return fmt.Errorf("writing health record: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = p.fs.Remove(tmp.Name())

		return fmt.Errorf("closing health record: %w", err)
	}

	if err := p.fs.Rename(tmp.Name(), p.path); err != nil {
		_ = p.fs.Remove(tmp.Name())

		return fmt.Errorf("replacing %s: %w", p.path, err)
	}

	p.last = &rec

	for _, fn := range p.observers {
		fn(rec)
	}

	return nil
}

// Current returns the last published record, if any.
func (p *Publisher) Current() (models.HealthRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last == nil {
		return models.HealthRecord{}, false
	}

	return *p.last, true
}

// Read parses the health file.
func Read(fs afero.Fs, path string) (models.HealthRecord, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return models.HealthRecord{}, err
	}

	return Parse(string(data))
}

// Parse reads "<exit_code> <message>\n".
func Parse(s string) (models.HealthRecord, error) {
	s = strings.TrimRight(s, "\n")
	code, msg, _ := strings.Cut(s, " ")

	n, err := strconv.Atoi(code)
	if err != nil {
		return models.HealthRecord{}, fmt.Errorf("health record %q has no exit code", s)
	}

	return models.HealthRecord{ExitCode: n, Message: msg}, nil
}

// Check implements the container health check: it returns the exit code and
// the text to print.
func Check(fs afero.Fs, path string) (int, string) {
	rec, err := Read(fs, path)

	switch {
	case os.IsNotExist(err):
		return ExitNotFound, "health file not found"
	case err != nil:
		return 1, err.Error()
	default:
		return rec.ExitCode, rec.Message
	}
}
