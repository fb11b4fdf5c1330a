package rules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ziadkadry99/menusql/internal/category"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// newCorpus writes a small corpus with an order_history category.
func newCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "schema.yaml"), `
orders:
  - id integer primary key
  - location_id integer
  - created_at timestamptz
  - status text
customers:
  - id integer primary key
  - first_name text
`)
	writeFile(t, filepath.Join(dir, "order_history", "examples.yaml"), `
- query: Who ordered today?
  sql: SELECT c.first_name FROM orders o JOIN customers c ON c.id = o.customer_id WHERE o.location_id = {LOCATION_ID};
- query: How many orders yesterday?
  sql: SELECT count(*) FROM orders WHERE location_id = {LOCATION_ID};
`)
	writeFile(t, filepath.Join(dir, "order_history", "rules.yaml"), `
location_scope: Always filter by location_id = {LOCATION_ID}.
`)
	writeFile(t, filepath.Join(dir, "patterns", "order_history", "orders_by_day.pgsql"),
		"-- Orders by day\nSELECT * FROM orders\nWHERE location_id = {LOCATION_ID} AND created_at::date = '[DAY]';\n")
	return dir
}

func TestGetRulesLoadsCorpus(t *testing.T) {
	dir := newCorpus(t)
	s := NewStore(dir, time.Hour, WithPlaceholders(map[string]string{"LOCATION_ID": "62"}))

	rs, err := s.GetRules(context.Background(), category.OrderHistory)
	if err != nil {
		t.Fatalf("GetRules: %v", err)
	}
	if len(rs.Examples) != 2 {
		t.Fatalf("expected 2 examples, got %d", len(rs.Examples))
	}
	if rs.Examples[0].Query != "Who ordered today?" {
		t.Errorf("examples out of order: %q", rs.Examples[0].Query)
	}
	if want := "WHERE o.location_id = 62;"; !strings.Contains(rs.Examples[0].SQL, want) {
		t.Errorf("expected placeholder replaced in example SQL, got %q", rs.Examples[0].SQL)
	}
	if rs.Rules["location_scope"] != "Always filter by location_id = 62." {
		t.Errorf("unexpected rule text %q", rs.Rules["location_scope"])
	}
	if len(rs.Schema["orders"]) != 4 {
		t.Errorf("expected 4 order columns, got %v", rs.Schema["orders"])
	}
	body, ok := rs.Patterns["orders_by_day"]
	if !ok {
		t.Fatalf("expected pattern orders_by_day, got %v", rs.PatternNames())
	}
	if want := "SELECT * FROM orders\nWHERE location_id = 62 AND created_at::date = '[DAY]';"; body != want {
		t.Errorf("pattern body = %q, want %q", body, want)
	}
	if rs.Degraded {
		t.Error("expected a healthy rule set")
	}
}

func TestGetRulesCachesWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 2, 21, 9, 0, 0, 0, time.UTC)}
	s := NewStore(newCorpus(t), time.Hour, WithClock(clock.Now))
	ctx := context.Background()

	first, _ := s.GetRules(ctx, category.OrderHistory)
	clock.Advance(30 * time.Minute)
	second, _ := s.GetRules(ctx, category.OrderHistory)
	if first != second {
		t.Fatal("expected identical RuleSet within TTL")
	}

	clock.Advance(31 * time.Minute)
	third, _ := s.GetRules(ctx, category.OrderHistory)
	if third == first {
		t.Error("expected a new RuleSet after TTL expiry")
	}

	s.Invalidate(category.OrderHistory)
	fourth, _ := s.GetRules(ctx, category.OrderHistory)
	if fourth == third {
		t.Error("expected a new RuleSet after Invalidate")
	}

	s.InvalidateAll()
	fifth, _ := s.GetRules(ctx, category.OrderHistory)
	if fifth == fourth {
		t.Error("expected a new RuleSet after InvalidateAll")
	}
}

func TestGetRulesConcurrentCallersShareResult(t *testing.T) {
	s := NewStore(newCorpus(t), time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*RuleSet, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rs, err := s.GetRules(ctx, category.OrderHistory)
			if err != nil {
				t.Errorf("GetRules: %v", err)
				return
			}
			results[i] = rs
		}(i)
	}
	wg.Wait()

	for i, rs := range results {
		if rs != results[0] {
			t.Fatalf("caller %d got a different RuleSet", i)
		}
		if len(rs.Examples) != 2 {
			t.Fatalf("caller %d saw a partial RuleSet", i)
		}
	}
}

func TestGetRulesInvalidCategory(t *testing.T) {
	s := NewStore(t.TempDir(), time.Hour)
	for _, c := range []category.Category{"", category.General, "drop_tables"} {
		if _, err := s.GetRules(context.Background(), c); !errors.Is(err, category.ErrInvalid) {
			t.Errorf("category %q: expected ErrInvalid, got %v", c, err)
		}
	}
}

func TestGetRulesMissingDirectory(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope"), time.Hour)
	rs, err := s.GetRules(context.Background(), category.MenuInquiry)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(rs.Examples) != 0 || len(rs.Rules) != 0 || !rs.Degraded {
		t.Errorf("expected empty degraded rules, got %+v", rs)
	}
}

func TestGetRulesMalformedFileKeepsSchema(t *testing.T) {
	dir := newCorpus(t)
	writeFile(t, filepath.Join(dir, "order_history", "examples.yaml"), "- query: [unclosed\n")

	s := NewStore(dir, time.Hour)
	rs, err := s.GetRules(context.Background(), category.OrderHistory)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(rs.Examples) != 0 || len(rs.Rules) != 0 {
		t.Errorf("expected empty examples and rules, got %d / %d", len(rs.Examples), len(rs.Rules))
	}
	if _, ok := rs.Schema["orders"]; !ok {
		t.Error("expected base schema to be retained")
	}
	if !rs.Degraded {
		t.Error("expected Degraded to be set")
	}
}

func TestGetRulesMalformedFileKeepsProviderRules(t *testing.T) {
	dir := newCorpus(t)
	writeFile(t, filepath.Join(dir, "order_history", "rules.yaml"), "location_scope: [unclosed\n")

	s := NewStore(dir, time.Hour, WithRegistry(DefaultRegistry()), WithPlaceholders(map[string]string{"LOCATION_ID": "62"}))
	rs, err := s.GetRules(context.Background(), category.OrderHistory)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !rs.Degraded || len(rs.Examples) != 0 {
		t.Fatalf("expected degraded corpus rules, got %+v", rs)
	}
	if got := rs.Rules["location_scope"]; !strings.Contains(got, "location_id = 62") {
		t.Errorf("expected the provider's location rule to survive, got %q", got)
	}
}

func TestGetRulesExampleMissingSQLIsMalformed(t *testing.T) {
	dir := newCorpus(t)
	writeFile(t, filepath.Join(dir, "order_history", "examples.yaml"), "- query: no sql here\n")

	rs, _ := NewStore(dir, time.Hour).GetRules(context.Background(), category.OrderHistory)
	if len(rs.Examples) != 0 || !rs.Degraded {
		t.Errorf("expected degraded rules, got %+v", rs)
	}
}

func TestGetRulesMergesProvider(t *testing.T) {
	dir := newCorpus(t)
	writeFile(t, filepath.Join(dir, "patterns", "shared", "top_items.sql"), "SELECT name FROM menu_items LIMIT {LIMIT};")

	reg := NewRegistry()
	reg.Register(category.OrderHistory, ProviderFunc(func(_ context.Context, _ category.Category) (Extension, error) {
		return Extension{
			Schema:       map[string][]string{"orders": {"id integer", "total numeric"}},
			PatternTypes: []string{"shared"},
			Patterns:     map[string]string{"extra": "SELECT {LOCATION_ID};"},
			Rules:        map[string]string{"location_scope": "ignored", "new_rule": "use {LOCATION_ID}"},
			Replacements: map[string]string{"LOCATION_ID": "7", "LIMIT": "5"},
		}, nil
	}))

	s := NewStore(dir, time.Hour, WithRegistry(reg), WithPlaceholders(map[string]string{"LOCATION_ID": "62"}))
	rs, err := s.GetRules(context.Background(), category.OrderHistory)
	if err != nil {
		t.Fatalf("GetRules: %v", err)
	}
	if len(rs.Schema["orders"]) != 2 {
		t.Errorf("expected schema override, got %v", rs.Schema["orders"])
	}
	if _, ok := rs.Schema["customers"]; !ok {
		t.Error("expected untouched tables to remain")
	}
	if rs.Patterns["extra"] != "SELECT 7;" {
		t.Errorf("expected extension replacements to win, got %q", rs.Patterns["extra"])
	}
	if rs.Patterns["top_items"] != "SELECT name FROM menu_items LIMIT 5;" {
		t.Errorf("expected extra pattern type to load, got %q", rs.Patterns["top_items"])
	}
	if rs.Rules["location_scope"] != "Always filter by location_id = 7." {
		t.Errorf("corpus rule should win over provider rule, got %q", rs.Rules["location_scope"])
	}
	if rs.Rules["new_rule"] != "use 7" {
		t.Errorf("unexpected new_rule %q", rs.Rules["new_rule"])
	}
}

func TestGetRulesProviderErrorFallsBackToCorpus(t *testing.T) {
	reg := NewRegistry()
	reg.Register(category.OrderHistory, ProviderFunc(func(context.Context, category.Category) (Extension, error) {
		return Extension{}, errors.New("boom")
	}))
	rs, err := NewStore(newCorpus(t), time.Hour, WithRegistry(reg)).GetRules(context.Background(), category.OrderHistory)
	if err != nil {
		t.Fatalf("GetRules: %v", err)
	}
	if len(rs.Examples) != 2 {
		t.Errorf("expected corpus examples, got %d", len(rs.Examples))
	}
}

func TestDefaultRegistryCoversEveryCategory(t *testing.T) {
	reg := DefaultRegistry()
	for _, c := range category.All() {
		p, ok := reg.Lookup(c)
		if !ok {
			t.Errorf("no provider for %s", c)
			continue
		}
		ext, err := p.Extend(context.Background(), c)
		if err != nil {
			t.Errorf("%s: %v", c, err)
		}
		if len(ext.Rules) == 0 {
			t.Errorf("%s: expected built-in rules", c)
		}
	}
}

func TestSQLPatterns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "patterns", "menu", "active.pgsql"), "-- Active items\nSELECT * FROM menu_items WHERE disabled = false;\n")
	writeFile(t, filepath.Join(dir, "patterns", "menu", "plain.sql"), "SELECT 1;\n-- trailing note\n")
	writeFile(t, filepath.Join(dir, "patterns", "menu", "late_title.pgsql"), "\n-- not first\nSELECT 2;")
	writeFile(t, filepath.Join(dir, "patterns", "menu", "readme.txt"), "ignored")

	s := NewStore(dir, time.Hour)
	got := s.SQLPatterns("menu")

	want := map[string]string{
		"active":     "SELECT * FROM menu_items WHERE disabled = false;",
		"plain":      "SELECT 1;\n-- trailing note",
		"late_title": "-- not first\nSELECT 2;",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d patterns, got %v", len(want), got)
	}
	for name, body := range want {
		if got[name] != body {
			t.Errorf("%s: got %q, want %q", name, got[name], body)
		}
	}

	if types := s.PatternTypes(); len(types) != 1 || types[0] != "menu" {
		t.Errorf("unexpected pattern types %v", types)
	}
}

func TestSQLPatternsMissingDirectory(t *testing.T) {
	s := NewStore(t.TempDir(), time.Hour)
	if got := s.SQLPatterns("nothing"); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil map, got %v", got)
	}
	if got := s.SQLPatterns("../escape"); len(got) != 0 {
		t.Errorf("expected rejected pattern type, got %v", got)
	}
}

func TestReplacePlaceholders(t *testing.T) {
	patterns := map[string]string{
		"a": "WHERE location_id = {LOCATION_ID} AND day = '[DAY]' AND x = {UNKNOWN}",
		"b": "{LOCATION_ID}{LOCATION_ID}",
		"c": "no placeholders",
	}
	repl := map[string]string{"LOCATION_ID": "62", "DAY": "2025-02-21"}

	got := ReplacePlaceholders(patterns, repl)
	if got["a"] != "WHERE location_id = 62 AND day = '2025-02-21' AND x = {UNKNOWN}" {
		t.Errorf("a = %q", got["a"])
	}
	if got["b"] != "6262" {
		t.Errorf("b = %q", got["b"])
	}
	if got["c"] != "no placeholders" {
		t.Errorf("c = %q", got["c"])
	}
	if patterns["a"] == got["a"] {
		t.Error("input map must not be modified")
	}

	again := ReplacePlaceholders(got, repl)
	for k := range got {
		if again[k] != got[k] {
			t.Errorf("not idempotent for %s: %q -> %q", k, got[k], again[k])
		}
	}
}

func TestReplacePlaceholdersEmptyReplacements(t *testing.T) {
	got := ReplacePlaceholders(map[string]string{"a": "{X} [Y]"}, nil)
	if got["a"] != "{X} [Y]" {
		t.Errorf("got %q", got["a"])
	}
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("{A} [B] {A} [1bad] {C_2}")
	want := []string{"A", "B", "C_2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestAffected(t *testing.T) {
	tests := []struct {
		rel string
		cat category.Category
		all bool
	}{
		{"schema.yaml", "", true},
		{"patterns/menu/active.pgsql", "", true},
		{"order_history/examples.yaml", category.OrderHistory, false},
		{"menu_inquiry", category.MenuInquiry, false},
		{"README.md", "", false},
		{"general/rules.yaml", "", false},
		{"../outside.yaml", "", false},
	}
	for _, tt := range tests {
		cat, all := affected(tt.rel)
		if cat != tt.cat || all != tt.all {
			t.Errorf("affected(%q) = (%q, %v), want (%q, %v)", tt.rel, cat, all, tt.cat, tt.all)
		}
	}
}

func TestWatchInvalidatesOnChange(t *testing.T) {
	dir := newCorpus(t)
	s := NewStore(dir, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, _ := s.GetRules(ctx, category.OrderHistory)

	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()
	// Give the watcher time to register directories.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, filepath.Join(dir, "order_history", "rules.yaml"), "location_scope: changed\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rs, _ := s.GetRules(ctx, category.OrderHistory)
		if rs != first && rs.Rules["location_scope"] == "changed" {
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch: %v", err)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected rules to reload after the file changed")
}

func TestWatchNewDirLogsFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := NewStore(t.TempDir(), time.Hour, WithLogger(zap.New(core)))

	w, err := fsnotify.NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Close()

	s.watchNewDir(w, t.TempDir())
	if logs.FilterMessage("cannot watch new rules directory").Len() != 1 {
		t.Errorf("expected a warning, got %v", logs.All())
	}
}
