package console

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

const regexPrefix = "re:"

// Pattern is a compiled console prompt: either a literal byte string or a
// regular expression written as "re:<expr>".
type Pattern struct {
	src     string
	literal []byte
	re      *regexp.Regexp
}

// Compile turns a vocabulary entry into a Pattern.
func Compile(s string) (Pattern, error) {
	if strings.HasPrefix(s, regexPrefix) {
		re, err := regexp.Compile(strings.TrimPrefix(s, regexPrefix))
		if err != nil {
			return Pattern{}, fmt.Errorf("compiling pattern %q: %w", s, err)
		}

		return Pattern{src: s, re: re}, nil
	}

	if s == "" {
		return Pattern{}, fmt.Errorf("empty console pattern")
	}

	return Pattern{src: s, literal: []byte(s)}, nil
}

// MustCompile is Compile for patterns known to be valid.
func MustCompile(s string) Pattern {
	p, err := Compile(s)
	if err != nil {
		panic(err)
	}

	return p
}

// CompileAll compiles every entry, failing on the first bad one.
func CompileAll(patterns []string) ([]Pattern, error) {
	out := make([]Pattern, 0, len(patterns))

	for _, s := range patterns {
		p, err := Compile(s)
		if err != nil {
			return nil, err
		}

		out = append(out, p)
	}

	return out, nil
}

// Find returns the byte range of the first occurrence in buf, or -1.
func (p Pattern) Find(buf []byte) (int, int) {
	if p.re != nil {
		loc := p.re.FindIndex(buf)
		if loc == nil {
			return -1, -1
		}

		return loc[0], loc[1]
	}

	i := bytes.Index(buf, p.literal)
	if i < 0 {
		return -1, -1
	}

	return i, i + len(p.literal)
}

func (p Pattern) String() string {
	return p.src
}
