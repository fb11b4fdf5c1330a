// Package prompt assembles the SQL generation prompt from a category's rules,
// the conversation history and the current question.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ziadkadry99/menusql/internal/cache"
	"github.com/ziadkadry99/menusql/internal/category"
	"github.com/ziadkadry99/menusql/internal/conversation"
	"github.com/ziadkadry99/menusql/internal/rules"
)

// Section headings, in prompt order.
const (
	HeadingSchema   = "## Database schema"
	HeadingRules    = "## Business rules (mandatory filters)"
	HeadingPatterns = "## SQL patterns"
	HeadingHistory  = "## Previous conversation"
	HeadingExamples = "## Examples"
	HeadingQuestion = "## Current question"
)

// queryToken stands in for the literal question in cached skeletons.
const queryToken = "\x00CURRENT_QUESTION\x00"

// Defaults used when Options leaves a field at zero.
const (
	DefaultMaxExamples  = 12
	DefaultMaxPatterns  = 10
	DefaultHistoryTurns = 3
	DefaultTTL          = 10 * time.Minute
)

// Options configures an Assembler. A negative HistoryTurns disables the
// previous conversation section.
type Options struct {
	MaxExamples  int
	MaxPatterns  int
	HistoryTurns int
	TTL          time.Duration
	Clock        func() time.Time
}

// Assembler builds prompts and caches their skeletons per category, rules
// generation and history.
type Assembler struct {
	maxExamples  int
	maxPatterns  int
	historyTurns int
	skeletons    *cache.TTLCache[string]
}

// New creates an Assembler.
func New(opts Options) *Assembler {
	if opts.MaxExamples <= 0 {
		opts.MaxExamples = DefaultMaxExamples
	}
	if opts.MaxPatterns <= 0 {
		opts.MaxPatterns = DefaultMaxPatterns
	}
	switch {
	case opts.HistoryTurns == 0:
		opts.HistoryTurns = DefaultHistoryTurns
	case opts.HistoryTurns < 0:
		opts.HistoryTurns = 0
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	var cacheOpts []cache.Option
	if opts.Clock != nil {
		cacheOpts = append(cacheOpts, cache.WithClock(opts.Clock))
	}
	return &Assembler{
		maxExamples:  opts.MaxExamples,
		maxPatterns:  opts.MaxPatterns,
		historyTurns: opts.HistoryTurns,
		skeletons:    cache.New[string](opts.TTL, cacheOpts...),
	}
}

// Build returns the prompt for query. recent is the session history, most
// recent last; only turns that produced SQL are used.
func (a *Assembler) Build(query string, rs *rules.RuleSet, recent []conversation.Turn) string {
	if rs == nil {
		rs = &rules.RuleSet{Category: category.General}
	}
	history := a.history(recent)
	key := cacheKey(rs, history)

	skeleton, _ := a.skeletons.GetOrBuild(key, func() (string, error) {
		return a.skeleton(rs, history), nil
	})
	return fill(skeleton, strings.TrimSpace(query))
}

// Fresh builds the prompt without touching the skeleton cache.
func (a *Assembler) Fresh(query string, rs *rules.RuleSet, recent []conversation.Turn) string {
	if rs == nil {
		rs = &rules.RuleSet{Category: category.General}
	}
	return fill(a.skeleton(rs, a.history(recent)), strings.TrimSpace(query))
}

// CacheStats returns skeleton cache hits and misses.
func (a *Assembler) CacheStats() (hits, misses int64) { return a.skeletons.Stats() }

func (a *Assembler) history(recent []conversation.Turn) []conversation.Turn {
	withSQL := conversation.WithSQL(recent)
	if len(withSQL) > a.historyTurns {
		withSQL = withSQL[len(withSQL)-a.historyTurns:]
	}
	return withSQL
}

func fill(skeleton, query string) string {
	i := strings.LastIndex(skeleton, queryToken)
	if i < 0 {
		return skeleton
	}
	return skeleton[:i] + query + skeleton[i+len(queryToken):]
}

func cacheKey(rs *rules.RuleSet, history []conversation.Turn) string {
	h := sha256.New()
	for _, t := range history {
		h.Write([]byte(t.Utterance))
		h.Write([]byte{0x1f})
		h.Write([]byte(t.SQL))
		h.Write([]byte{0x1e})
	}
	return string(rs.Category) + "|" +
		strconv.FormatInt(rs.LoadedAt.UnixNano(), 10) + "|" +
		hex.EncodeToString(h.Sum(nil))
}

func (a *Assembler) skeleton(rs *rules.RuleSet, history []conversation.Turn) string {
	var b strings.Builder

	b.WriteString("You are a PostgreSQL expert for a restaurant management system. ")
	b.WriteString("Write exactly one SQL statement that answers the manager's question.\n")
	if rs.Category.IsWrite() {
		b.WriteString("This is a data change request: write a single UPDATE statement with a RETURNING clause.\n")
	}
	if d := rs.Category.Description(); d != "" {
		fmt.Fprintf(&b, "Question category: %s. %s\n", rs.Category, d)
	}
	b.WriteString("Return only the SQL inside a ```sql code block.\n")

	if tables := rs.Tables(); len(tables) > 0 {
		b.WriteString("\n" + HeadingSchema + "\n")
		for _, table := range tables {
			fmt.Fprintf(&b, "Table %s:\n", table)
			for _, col := range rs.Schema[table] {
				fmt.Fprintf(&b, "  - %s\n", col)
			}
		}
	}

	if names := rs.RuleNames(); len(names) > 0 {
		b.WriteString("\n" + HeadingRules + "\n")
		b.WriteString("These rules are mandatory and take precedence over the examples below.\n")
		for _, name := range names {
			fmt.Fprintf(&b, "- %s: %s\n", name, rs.Rules[name])
		}
	}

	if names := rs.PatternNames(); len(names) > 0 {
		if len(names) > a.maxPatterns {
			names = names[:a.maxPatterns]
		}
		b.WriteString("\n" + HeadingPatterns + "\n")
		b.WriteString("Reusable query shapes. Placeholders in braces or brackets must be filled from the question.\n")
		for _, name := range names {
			fmt.Fprintf(&b, "### %s\n```sql\n%s\n```\n", name, rs.Patterns[name])
		}
	}

	if len(history) > 0 {
		b.WriteString("\n" + HeadingHistory + "\n")
		b.WriteString("The current question may refer to earlier results (\"those\", \"their\", \"that order\").\n")
		b.WriteString("Copy forward the WHERE-clause filters (date, status, location) from the most recent relevant ")
		b.WriteString("previous SQL unless the current question overrides them.\n")
		for i, t := range history {
			n := i + 1
			fmt.Fprintf(&b, "\nPrevious question %d: %s\n", n, t.Utterance)
			fmt.Fprintf(&b, "Previous SQL %d:\n```sql\n%s\n```\n", n, t.SQL)
		}
	}

	if len(rs.Examples) > 0 {
		examples := rs.Examples
		if len(examples) > a.maxExamples {
			examples = examples[:a.maxExamples]
		}
		b.WriteString("\n" + HeadingExamples + "\n")
		for _, ex := range examples {
			fmt.Fprintf(&b, "Question: %s\nSQL:\n```sql\n%s\n```\n\n", ex.Query, ex.SQL)
		}
	}

	b.WriteString("\n" + HeadingQuestion + "\n")
	b.WriteString(queryToken)
	b.WriteString("\n")
	return b.String()
}
