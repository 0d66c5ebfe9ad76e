// Package wordlist holds the blacklist and slang tables consumed by the chat
// filter and the speech worker. Both tables are immutable once built; a reload
// builds a fresh table and swaps it in whole, so readers never see a partial
// update and never need a lock.
package wordlist

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
)

// Blacklist is an ordered set of lowercase substrings.
type Blacklist struct {
	entries []string
}

// NewBlacklist builds a blacklist from raw entries. Entries are trimmed and
// lowercased; blanks are dropped.
func NewBlacklist(entries []string) *Blacklist {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		out = append(out, e)
	}
	return &Blacklist{entries: out}
}

// ParseBlacklist reads one entry per line.
func ParseBlacklist(r io.Reader) (*Blacklist, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read blacklist: %w", err)
	}
	return NewBlacklist(lines), nil
}

// Blocks reports whether the lowercased text contains any entry.
func (b *Blacklist) Blocks(text string) bool {
	if b == nil || len(b.entries) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, e := range b.entries {
		if strings.Contains(lower, e) {
			return true
		}
	}
	return false
}

// Entries returns a copy of the entries in order.
func (b *Blacklist) Entries() []string {
	if b == nil {
		return nil
	}
	out := make([]string, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of entries.
func (b *Blacklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.entries)
}

// SlangRule replaces every match of Pattern with Replacement.
type SlangRule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// SlangTable is an ordered list of rules.
type SlangTable struct {
	rules []SlangRule
}

// NewSlangTable builds a table from rules already compiled by the caller.
func NewSlangTable(rules []SlangRule) *SlangTable {
	out := make([]SlangRule, len(rules))
	copy(out, rules)
	return &SlangTable{rules: out}
}

// ParseSlang decodes a JSON object of pattern -> replacement, keeping the
// document order of keys. Patterns that do not compile are skipped.
func ParseSlang(r io.Reader) (*SlangTable, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &SlangTable{}, nil
		}
		return nil, fmt.Errorf("read slang table: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("slang table: expected JSON object, got %v", tok)
	}
	t := &SlangTable{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("slang table key: %w", err)
		}
		pattern, _ := keyTok.(string)
		var replacement string
		if err := dec.Decode(&replacement); err != nil {
			return nil, fmt.Errorf("slang table value for %q: %w", pattern, err)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			slog.Warn("skipping malformed slang pattern", slog.String("pattern", pattern), slog.Any("err", err), slog.String("component", "wordlist"))
			continue
		}
		t.rules = append(t.rules, SlangRule{Pattern: re, Replacement: replacement})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("slang table: %w", err)
	}
	return t, nil
}

// Len returns the number of usable rules.
func (t *SlangTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rules)
}

// Expand lowercases text and applies every rule in table order.
func (t *SlangTable) Expand(text string) string {
	out := strings.ToLower(text)
	if t == nil {
		return out
	}
	for _, rule := range t.rules {
		out = applyRule(rule, out)
	}
	return out
}

// applyRule never lets a single bad rule abort the whole expansion.
func applyRule(rule SlangRule, text string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("slang rule failed", slog.String("pattern", rule.Pattern.String()), slog.Any("panic", r))
			out = text
		}
	}()
	return rule.Pattern.ReplaceAllString(text, rule.Replacement)
}
