// Package ignore decides which files of a library are skipped by scans,
// using gitignore syntax.
package ignore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"pd-go/internal/pd"
)

// FileName is the per-library ignore file at the library root.
const FileName = ".pdignore"

// DefaultPatterns are always applied regardless of config or .pdignore.
var DefaultPatterns = []string{FileName, "Thumbs.db", "@eaDir/"}

// Matcher checks library-relative paths against gitignore patterns.
// Patterns without '/' match at any depth; patterns with '/' are anchored
// at the library root.
type Matcher struct {
	patterns []string
	compiled *gitignore.GitIgnore
}

var _ pd.Ignorer = (*Matcher)(nil)

// NewMatcher compiles raw pattern strings. Blank lines and lines starting
// with '#' are skipped.
func NewMatcher(rawPatterns []string) *Matcher {
	var patterns []string
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, raw)
	}
	return &Matcher{patterns: patterns, compiled: gitignore.CompileIgnoreLines(patterns...)}
}

// Patterns returns the effective patterns in order.
func (m *Matcher) Patterns() []string { return m.patterns }

// Match reports whether the library-relative path p should be ignored.
func (m *Matcher) Match(p string) bool {
	if len(m.patterns) == 0 {
		return false
	}
	p = strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(p, "\\", "/")), "/")
	if p == "" {
		return false
	}
	return m.compiled.MatchesPath(p)
}

// ParseIgnoreData splits the contents of an ignore file into raw patterns.
func ParseIgnoreData(data []byte) ([]string, error) {
	var patterns []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}

// LoadFromLibrary reads the .pdignore file at the root of fm. It returns
// nil and no error if the file does not exist.
func LoadFromLibrary(fm pd.FileManager) ([]string, error) {
	data, err := fm.ContentsOfFile(FileName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	return ParseIgnoreData(data)
}

// Factory returns a pd.IgnorerFactory combining DefaultPatterns, the
// configured patterns and the library's own .pdignore.
func Factory(configured []string) pd.IgnorerFactory {
	return func(fm pd.FileManager) (pd.Ignorer, error) {
		fromFile, err := LoadFromLibrary(fm)
		if err != nil {
			return nil, err
		}
		all := make([]string, 0, len(DefaultPatterns)+len(configured)+len(fromFile))
		all = append(all, DefaultPatterns...)
		all = append(all, configured...)
		all = append(all, fromFile...)
		return NewMatcher(all), nil
	}
}
