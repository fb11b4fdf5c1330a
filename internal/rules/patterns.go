package rules

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

const (
	patternsDir = "patterns"
	patternGlob = "*.{pgsql,sql}"
	titlePrefix = "--"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}|\[([A-Za-z_][A-Za-z0-9_]*)\]`)

// SQLPatterns loads every pattern file under patterns/<patternType>/. A
// missing directory yields an empty map. A leading "-- Title" line is
// stripped from the body.
func (s *Store) SQLPatterns(patternType string) map[string]string {
	return loadPatterns(s.dir, patternType, s.logger)
}

// PatternTypes lists the pattern type directories present in the corpus.
func (s *Store) PatternTypes() []string {
	entries, err := os.ReadDir(filepath.Join(s.dir, patternsDir))
	if err != nil {
		return nil
	}
	var types []string
	for _, e := range entries {
		if e.IsDir() {
			types = append(types, e.Name())
		}
	}
	return types
}

func loadPatterns(root, patternType string, logger *zap.Logger) map[string]string {
	out := map[string]string{}
	if patternType == "" || strings.ContainsAny(patternType, `/\`) || patternType == ".." {
		logger.Warn("rejected pattern type", zap.String("type", patternType))
		return out
	}

	dir := filepath.Join(root, patternsDir, patternType)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		logger.Debug("no pattern directory", zap.String("type", patternType), zap.String("dir", dir))
		return out
	}

	fsys := os.DirFS(dir)
	matches, err := doublestar.Glob(fsys, patternGlob)
	if err != nil {
		logger.Warn("failed to list patterns", zap.String("dir", dir), zap.Error(err))
		return out
	}
	for _, name := range matches {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			logger.Warn("failed to read pattern", zap.String("file", name), zap.Error(err))
			continue
		}
		key := strings.TrimSuffix(name, path.Ext(name))
		out[key] = stripTitle(string(data))
	}
	return out
}

// stripTitle removes the first line when it is a "--" comment.
func stripTitle(body string) string {
	body = strings.TrimPrefix(body, "\ufeff")
	first, rest, found := strings.Cut(body, "\n")
	if strings.HasPrefix(strings.TrimSpace(first), titlePrefix) {
		if !found {
			return ""
		}
		body = rest
	}
	return strings.TrimSpace(body)
}

// ReplacePlaceholders substitutes {KEY} and [KEY] tokens whose key is in
// replacements. Unknown tokens are left as they are. The input is not
// modified.
//
// Substitution is a single pass over the original text, so values that
// themselves contain placeholders are not expanded again.
func ReplacePlaceholders(patterns map[string]string, replacements map[string]string) map[string]string {
	out := make(map[string]string, len(patterns))
	for name, body := range patterns {
		out[name] = replaceText(body, replacements)
	}
	return out
}

func replaceText(body string, replacements map[string]string) string {
	if len(replacements) == 0 {
		return body
	}
	return placeholderRe.ReplaceAllStringFunc(body, func(tok string) string {
		key := tok[1 : len(tok)-1]
		if v, ok := replacements[key]; ok {
			return v
		}
		return tok
	})
}

// Placeholders returns the distinct placeholder keys found in body.
func Placeholders(body string) []string {
	seen := map[string]bool{}
	var keys []string
	for _, m := range placeholderRe.FindAllStringSubmatch(body, -1) {
		key := m[1]
		if key == "" {
			key = m[2]
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}
