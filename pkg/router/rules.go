package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Rule categories in priority order. Block always wins, composite defers
// the decision to the classifier, direct answers short-circuit the pipeline.
const (
	CategoryBlock        = "block"
	CategoryComposite    = "composite"
	CategoryDirectAnswer = "direct_answer"
)

// Rule is one entry of the rule file.
type Rule struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Keywords []string `json:"keywords,omitempty"`
	Patterns []string `json:"patterns,omitempty"`
	Response string   `json:"response,omitempty"`
}

type ruleFile struct {
	Rules []Rule `json:"rules"`
}

// compiledRule pairs a rule with its compiled patterns and lowercased
// keywords, ready for matching.
type compiledRule struct {
	rule     Rule
	keywords []string
	patterns []*regexp.Regexp
}

func (c *compiledRule) matches(normalized string) bool {
	for _, k := range c.keywords {
		if strings.Contains(normalized, k) {
			return true
		}
	}
	for _, p := range c.patterns {
		if p.MatchString(normalized) {
			return true
		}
	}
	return false
}

// Snapshot is an immutable compiled rule set, grouped by priority class.
// Readers always see a complete snapshot; reloads swap the whole pointer.
type Snapshot struct {
	Version   int
	blocks    []compiledRule
	composite []compiledRule
	direct    []compiledRule
}

// Match evaluates the three priority classes in order, regardless of the
// order rules appear in the file. Keyword matching is case-insensitive.
func (s *Snapshot) Match(normalized string) (*Rule, bool) {
	normalized = strings.ToLower(normalized)
	for i := range s.blocks {
		if s.blocks[i].matches(normalized) {
			return &s.blocks[i].rule, true
		}
	}
	for i := range s.composite {
		if s.composite[i].matches(normalized) {
			return &s.composite[i].rule, true
		}
	}
	for i := range s.direct {
		if s.direct[i].matches(normalized) {
			return &s.direct[i].rule, true
		}
	}
	return nil, false
}

// RuleStore holds the current rule snapshot and reloads it when the file
// changes on disk. A failed reload keeps the previous snapshot.
type RuleStore struct {
	path     string
	snapshot atomic.Pointer[Snapshot]
	version  atomic.Int64
	logger   *slog.Logger
}

// NewRuleStore loads path and returns the store. An empty path yields a
// store with an empty snapshot, which never matches.
func NewRuleStore(path string) (*RuleStore, error) {
	s := &RuleStore{
		path:   path,
		logger: slog.Default().With("component", "rule_store"),
	}
	if path == "" {
		s.snapshot.Store(&Snapshot{})
		return s, nil
	}
	snap, err := s.load()
	if err != nil {
		return nil, err
	}
	s.snapshot.Store(snap)
	return s, nil
}

// Current returns the active snapshot.
func (s *RuleStore) Current() *Snapshot {
	return s.snapshot.Load()
}

// Watch reloads the rule file on filesystem change events until ctx is
// done. It watches the parent directory so editor rename-and-replace
// writes are picked up too.
func (s *RuleStore) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rule watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("rule watcher add: %w", err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(s.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				snap, err := s.load()
				if err != nil {
					s.logger.Error("rule reload failed, keeping previous rules", "error", err)
					continue
				}
				s.snapshot.Store(snap)
				s.logger.Info("rules reloaded", "version", snap.Version,
					"blocks", len(snap.blocks), "composite", len(snap.composite), "direct", len(snap.direct))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Error("rule watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (s *RuleStore) load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	var file ruleFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", s.path, err)
	}

	snap := &Snapshot{Version: int(s.version.Add(1))}
	for _, rule := range file.Rules {
		compiled, err := compile(rule)
		if err != nil {
			return nil, err
		}
		switch rule.Category {
		case CategoryBlock:
			snap.blocks = append(snap.blocks, compiled)
		case CategoryComposite:
			snap.composite = append(snap.composite, compiled)
		case CategoryDirectAnswer:
			snap.direct = append(snap.direct, compiled)
		default:
			return nil, fmt.Errorf("rule %q: unknown category %q", rule.Name, rule.Category)
		}
	}
	return snap, nil
}

func compile(rule Rule) (compiledRule, error) {
	c := compiledRule{rule: rule}
	for _, k := range rule.Keywords {
		c.keywords = append(c.keywords, strings.ToLower(k))
	}
	for _, p := range rule.Patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return c, fmt.Errorf("rule %q: pattern %q: %w", rule.Name, p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	return c, nil
}
