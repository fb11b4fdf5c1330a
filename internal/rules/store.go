package rules

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ziadkadry99/menusql/internal/cache"
	"github.com/ziadkadry99/menusql/internal/category"
)

const (
	schemaFile   = "schema.yaml"
	examplesFile = "examples.yaml"
	rulesFile    = "rules.yaml"

	// DefaultTTL is used when a Store is created with a non-positive TTL.
	DefaultTTL = time.Hour
)

// Store is the single source of truth for category rules. Loaded RuleSets are
// cached for the configured TTL.
type Store struct {
	dir          string
	placeholders map[string]string
	registry     *Registry
	cache        *cache.TTLCache[*RuleSet]
	logger       *zap.Logger
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	placeholders map[string]string
	registry     *Registry
	logger       *zap.Logger
	cacheOpts    []cache.Option
}

// WithPlaceholders sets the default placeholder values applied to patterns,
// rules and examples.
func WithPlaceholders(m map[string]string) Option {
	return func(o *storeOptions) { o.placeholders = m }
}

// WithRegistry sets the category extension registry.
func WithRegistry(r *Registry) Option {
	return func(o *storeOptions) { o.registry = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *storeOptions) { o.logger = l }
}

// WithClock overrides the cache time source.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) { o.cacheOpts = append(o.cacheOpts, cache.WithClock(now)) }
}

// NewStore creates a Store reading the corpus rooted at dir.
func NewStore(dir string, ttl time.Duration, opts ...Option) *Store {
	o := storeOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	placeholders := make(map[string]string, len(o.placeholders))
	for k, v := range o.placeholders {
		placeholders[k] = v
	}
	return &Store{
		dir:          dir,
		placeholders: placeholders,
		registry:     o.registry,
		cache:        cache.New[*RuleSet](ttl, o.cacheOpts...),
		logger:       o.logger.Named("rules"),
	}
}

// Dir returns the corpus root.
func (s *Store) Dir() string { return s.dir }

// GetRules returns the RuleSet for c, loading it when the cached copy is
// missing or expired. The only error is an invalid category; corpus problems
// degrade to empty rules and are logged.
func (s *Store) GetRules(ctx context.Context, c category.Category) (*RuleSet, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", category.ErrInvalid, string(c))
	}
	return s.cache.GetOrBuild(string(c), func() (*RuleSet, error) {
		return s.load(ctx, c), nil
	})
}

// Invalidate drops the cached RuleSet for c.
func (s *Store) Invalidate(c category.Category) {
	s.cache.Invalidate(string(c))
	s.logger.Debug("invalidated rules", zap.String("category", string(c)))
}

// InvalidateAll drops every cached RuleSet.
func (s *Store) InvalidateAll() {
	s.cache.InvalidateAll()
	s.logger.Debug("invalidated all rules")
}

// CacheStats returns GetRules hit and miss counts.
func (s *Store) CacheStats() (hits, misses int64) { return s.cache.Stats() }

func (s *Store) load(ctx context.Context, c category.Category) *RuleSet {
	start := time.Now()
	rs := emptyRuleSet(c)

	if _, err := os.Stat(s.dir); err != nil {
		s.logger.Warn("rules directory unavailable, using empty rules",
			zap.String("dir", s.dir), zap.Error(err))
		rs.Degraded = true
		rs.LoadedAt = time.Now()
		return rs
	}

	if schema, err := readSchema(filepath.Join(s.dir, schemaFile)); err != nil {
		s.logger.Warn("failed to read base schema", zap.Error(err))
		rs.Degraded = true
	} else {
		mergeSchema(rs.Schema, schema)
	}

	if err := s.loadCategoryFiles(rs); err != nil {
		// Keep whatever schema was read and drop the category's own rules.
		s.logger.Error("malformed rules for category, falling back to empty rules",
			zap.String("category", string(c)), zap.Error(err))
		rs.Examples = []Example{}
		rs.Rules = map[string]string{}
		rs.Degraded = true
	}

	patterns := loadPatterns(s.dir, string(c), s.logger)
	replacements := s.placeholders

	// Provider contributions are code, not corpus files, so they are merged
	// even when the category's own files fell back to empty rules.
	if p, ok := s.registry.Lookup(c); ok {
		ext, err := p.Extend(ctx, c)
		if err != nil {
			s.logger.Warn("rules provider failed, using corpus only",
				zap.String("category", string(c)), zap.Error(err))
		} else {
			mergeSchema(rs.Schema, ext.Schema)
			for _, t := range ext.PatternTypes {
				for name, body := range loadPatterns(s.dir, t, s.logger) {
					if _, exists := patterns[name]; !exists {
						patterns[name] = body
					}
				}
			}
			for name, body := range ext.Patterns {
				patterns[name] = body
			}
			for name, text := range ext.Rules {
				if _, exists := rs.Rules[name]; !exists {
					rs.Rules[name] = text
				}
			}
			if len(ext.Replacements) > 0 {
				replacements = overlay(replacements, ext.Replacements)
			}
		}
	}

	rs.Patterns = ReplacePlaceholders(patterns, replacements)
	rs.Rules = ReplacePlaceholders(rs.Rules, replacements)
	for i := range rs.Examples {
		rs.Examples[i].SQL = replaceText(rs.Examples[i].SQL, replacements)
	}
	rs.LoadedAt = time.Now()

	s.logger.Debug("loaded rules",
		zap.String("category", string(c)),
		zap.Int("examples", len(rs.Examples)),
		zap.Int("rules", len(rs.Rules)),
		zap.Int("tables", len(rs.Schema)),
		zap.Int("patterns", len(rs.Patterns)),
		zap.Duration("took", time.Since(start)),
	)
	return rs
}

// loadCategoryFiles reads <dir>/<category>/{examples,rules,schema}.yaml into
// rs. Missing files are fine; unparseable ones are an error.
func (s *Store) loadCategoryFiles(rs *RuleSet) error {
	catDir := filepath.Join(s.dir, string(rs.Category))
	if info, err := os.Stat(catDir); err != nil || !info.IsDir() {
		s.logger.Warn("no rules directory for category", zap.String("category", string(rs.Category)))
		return nil
	}

	var examples []Example
	if err := readYAML(filepath.Join(catDir, examplesFile), &examples); err != nil {
		return err
	}
	for i, ex := range examples {
		if strings.TrimSpace(ex.Query) == "" || strings.TrimSpace(ex.SQL) == "" {
			return fmt.Errorf("%s: example %d is missing query or sql", examplesFile, i+1)
		}
		rs.Examples = append(rs.Examples, Example{Query: strings.TrimSpace(ex.Query), SQL: strings.TrimSpace(ex.SQL)})
	}

	var named map[string]string
	if err := readYAML(filepath.Join(catDir, rulesFile), &named); err != nil {
		return err
	}
	for k, v := range named {
		rs.Rules[k] = strings.TrimSpace(v)
	}

	override, err := readSchema(filepath.Join(catDir, schemaFile))
	if err != nil {
		return err
	}
	mergeSchema(rs.Schema, override)
	return nil
}

func readSchema(path string) (map[string][]string, error) {
	var schema map[string][]string
	if err := readYAML(path, &schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// readYAML decodes path into v. A missing file leaves v untouched.
func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func mergeSchema(dst, src map[string][]string) {
	for table, cols := range src {
		dst[table] = append([]string(nil), cols...)
	}
}

func overlay(base, top map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(top))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range top {
		out[k] = v
	}
	return out
}
