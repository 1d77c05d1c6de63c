package profile

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"vrnode/pkg/errors"
	"vrnode/pkg/models"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
)

const hookTimeout = 2 * time.Minute

// WithStartupConfig returns a copy of p whose post-ready hooks replay the
// startup configuration file, if there is one.
func WithStartupConfig(fs afero.Fs, p *models.Profile) (*models.Profile, error) {
	data, err := afero.ReadFile(fs, p.StartupConfigPath)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}

		return nil, fmt.Errorf("reading startup config %s: %w", p.StartupConfigPath, err)
	}

	hooks, err := StartupHooks(p, data)
	if err != nil {
		return nil, err
	}

	out := *p
	out.PostReady = append(append([]models.Step(nil), p.PostReady...), hooks...)

	return &out, nil
}

// StartupHooks turns configuration text into write-after steps wrapped in the
// family's enter and exit lines.
func StartupHooks(p *models.Profile, data []byte) ([]models.Step, error) {
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return nil, errors.UserInputError{Field: "startup-config", Reason: "not a text file"}
	}

	if len(p.Prompts.Ready) == 0 {
		return nil, errors.ProfileInvalidError{Family: p.Family, Reason: "no ready prompt for startup config replay"}
	}

	ready := p.Prompts.Ready[0]

	config := ready
	if len(p.Prompts.Config) > 0 {
		config = p.Prompts.Config[0]
	}

	var lines []string

	for _, line := range strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n") {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "!") {
			continue
		}

		lines = append(lines, line)
	}

	if len(lines) == 0 {
		return nil, nil
	}

	var hooks []models.Step

	prompt := ready

	for _, l := range p.ConfigEnter {
		hooks = append(hooks, models.WriteAfter(prompt, l, hookTimeout))
		prompt = config
	}

	for _, l := range lines {
		hooks = append(hooks, models.WriteAfter(prompt, l, hookTimeout))
		prompt = config
	}

	for _, l := range p.ConfigExit {
		hooks = append(hooks, models.WriteAfter(prompt, l, hookTimeout))
	}

	return append(hooks, models.Expect(hookTimeout, ready)), nil
}

// LoadOptions reads an override file.
func LoadOptions(fs afero.Fs, path string) (models.Options, error) {
	var o models.Options

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return o, fmt.Errorf("reading overrides %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &o); err != nil {
		return o, errors.UserInputError{Field: "overrides", Reason: err.Error()}
	}

	return o, nil
}
