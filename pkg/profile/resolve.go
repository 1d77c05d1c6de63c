package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"vrnode/pkg/errors"
	"vrnode/pkg/models"

	"github.com/spf13/afero"
)

// Resolve selects a family, either by name or by matching the files in
// imageDir, and returns its materialized profile with image paths filled in.
// When several files match an instance, the lexicographically first wins.
func (r *Registry) Resolve(fs afero.Fs, family, imageDir string) (*models.Profile, error) {
	files, err := listFiles(fs, imageDir)
	if err != nil {
		return nil, err
	}

	if family == "" {
		if family, err = r.detect(files, imageDir); err != nil {
			return nil, err
		}
	}

	tmpl, err := r.Lookup(family)
	if err != nil {
		return nil, err
	}

	base := clone(tmpl)

	for i := range base.Instances {
		inst := &base.Instances[i]
		if inst.ImageMatch == "" {
			continue
		}

		re, err := compileMatch(inst.ImageMatch)
		if err != nil {
			return nil, errors.ProfileInvalidError{Family: family, Reason: err.Error()}
		}

		name, ok := firstMatch(re, files)
		if !ok {
			return nil, errors.ImageNotFoundError{Dir: imageDir, Family: family}
		}

		inst.Image = filepath.Join(imageDir, name)

		if base.Version == "" {
			base.Version = version(re, name)
		}
	}

	return materialize(base, models.Options{})
}

// detect finds the single family whose primary image matches a file.
func (r *Registry) detect(files []string, imageDir string) (string, error) {
	var matched []string

	for _, name := range r.Names() {
		primary := r.families[name].Primary()
		if primary == nil || primary.ImageMatch == "" {
			continue
		}

		re, err := compileMatch(primary.ImageMatch)
		if err != nil {
			continue
		}

		if _, ok := firstMatch(re, files); ok {
			matched = append(matched, name)
		}
	}

	switch len(matched) {
	case 0:
		return "", errors.ImageNotFoundError{Dir: imageDir, Family: "any"}
	case 1:
		return matched[0], nil
	default:
		return "", fmt.Errorf("families %v: %w", matched, errors.ErrAmbiguousImage)
	}
}

func listFiles(fs afero.Fs, dir string) ([]string, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading image directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(infos))

	for _, info := range infos {
		if info.Mode().IsRegular() {
			names = append(names, info.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}

func compileMatch(expr string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("^(?:" + expr + ")$")
	if err != nil {
		return nil, fmt.Errorf("image match %q: %w", expr, err)
	}

	return re, nil
}

func firstMatch(re *regexp.Regexp, files []string) (string, bool) {
	for _, name := range files {
		if re.MatchString(name) {
			return name, true
		}
	}

	return "", false
}

func version(re *regexp.Regexp, name string) string {
	i := re.SubexpIndex("version")
	if i < 0 {
		return ""
	}

	m := re.FindStringSubmatch(name)
	if m == nil {
		return ""
	}

	return m[i]
}
