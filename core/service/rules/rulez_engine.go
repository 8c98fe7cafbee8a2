package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mailrulez/core/domain"
	"mailrulez/pkg/apperr"
	"mailrulez/pkg/fsutil"
)

// Engine owns rules.json: loading, persistence and evaluation. Rules are
// kept sorted by ascending priority.
type Engine struct {
	path  string
	mu    sync.RWMutex
	rules []*domain.Rule
	log   zerolog.Logger
}

// NewEngine loads the rule set from path. A missing file is an empty set.
func NewEngine(path string) (*Engine, error) {
	e := &Engine{
		path: path,
		log:  log.With().Str("component", "rules").Logger(),
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) load() error {
	data, err := os.ReadFile(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			e.rules = nil
			return nil
		}
		return fmt.Errorf("read rules: %w", err)
	}
	var rules []*domain.Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return fmt.Errorf("parse rules.json: %w", err)
	}
	sortByPriority(rules)
	e.rules = rules
	return nil
}

func (e *Engine) save() error {
	data, err := json.MarshalIndent(e.rules, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(e.path, data)
}

func sortByPriority(rules []*domain.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})
}

// All returns every rule sorted by priority.
func (e *Engine) All() []*domain.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*domain.Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Get looks a rule up by id.
func (e *Engine) Get(id string) (*domain.Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, apperr.NotFound("rule " + id)
}

// Add inserts a rule, assigning an id and timestamps, and persists.
func (e *Engine) Add(rule *domain.Rule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return apperr.MissingField("name")
	}
	now := time.Now().UTC()
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.ConditionLogic == "" {
		rule.ConditionLogic = domain.LogicAnd
	}
	rule.CreatedAt = now
	rule.UpdatedAt = now

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.rules {
		if r.ID == rule.ID {
			return apperr.AlreadyExists("rule " + rule.ID)
		}
	}
	e.rules = append(e.rules, rule)
	sortByPriority(e.rules)
	if err := e.save(); err != nil {
		return err
	}
	e.log.Info().Str("rule_id", rule.ID).Str("name", rule.Name).Msg("rule added")
	return nil
}

// Update replaces a rule by id and persists.
func (e *Engine) Update(rule *domain.Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.rules {
		if r.ID == rule.ID {
			rule.CreatedAt = r.CreatedAt
			rule.UpdatedAt = time.Now().UTC()
			e.rules[i] = rule
			sortByPriority(e.rules)
			return e.save()
		}
	}
	return apperr.NotFound("rule " + rule.ID)
}

// Delete removes a rule by id and persists.
func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.rules {
		if r.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return e.save()
		}
	}
	return apperr.NotFound("rule " + id)
}

// ActiveForAccount returns the active rules scoped to an account, sorted
// by priority. An empty account_email on a rule means every account.
func (e *Engine) ActiveForAccount(email string) []*domain.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*domain.Rule
	for _, r := range e.rules {
		if r.AppliesTo(email) {
			out = append(out, r)
		}
	}
	return out
}

// MatchedActions evaluates every in-scope rule against a message and
// returns the actions of matching rules in priority order.
func (e *Engine) MatchedActions(msg *domain.MessageMeta, email string, lists domain.ListMembership) []domain.RuleAction {
	var actions []domain.RuleAction
	for _, rule := range e.ActiveForAccount(email) {
		if rule.Matches(msg, lists) {
			actions = append(actions, rule.Actions...)
		}
	}
	return actions
}

// RetentionBearingRules returns the rules that carry retention settings,
// for auto-policy creation.
func (e *Engine) RetentionBearingRules() []*domain.Rule {
	var out []*domain.Rule
	for _, r := range e.All() {
		if r.GetRetentionSettings() != nil {
			out = append(out, r)
		}
	}
	return out
}
