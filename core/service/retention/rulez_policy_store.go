package retention

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mailrulez/core/domain"
	"mailrulez/pkg/apperr"
	"mailrulez/pkg/fsutil"
)

// PolicyStore owns retention_policies.json: policies, global settings and
// trash folder configuration.
type PolicyStore struct {
	path     string
	mu       sync.RWMutex
	settings *domain.RetentionSettings
	audit    *AuditLogger
	log      zerolog.Logger
}

// NewPolicyStore loads the settings document, seeding defaults when the
// file does not exist yet.
func NewPolicyStore(path string, audit *AuditLogger) (*PolicyStore, error) {
	s := &PolicyStore{
		path:  path,
		audit: audit,
		log:   log.With().Str("component", "retention-policies").Logger(),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PolicyStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			settings := domain.NewRetentionSettings()
			now := time.Now().UTC()
			for _, p := range domain.DefaultFolderPolicies(now) {
				settings.FolderPolicies[p.ID] = p
			}
			s.settings = settings
			s.log.Info().Int("policies", len(settings.FolderPolicies)).Msg("seeded default retention policies")
			return s.save()
		}
		return fmt.Errorf("read retention settings: %w", err)
	}
	settings := domain.NewRetentionSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return fmt.Errorf("parse retention_policies.json: %w", err)
	}
	if settings.FolderPolicies == nil {
		settings.FolderPolicies = make(map[string]*domain.RetentionPolicy)
	}
	if settings.RulePolicies == nil {
		settings.RulePolicies = make(map[string]*domain.RetentionPolicy)
	}
	s.settings = settings
	return nil
}

func (s *PolicyStore) save() error {
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(s.path, data)
}

// Global returns the global settings snapshot.
func (s *PolicyStore) Global() domain.GlobalRetentionSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.GlobalSettings
}

// UpdateGlobal replaces the global settings.
func (s *PolicyStore) UpdateGlobal(g domain.GlobalRetentionSettings) error {
	if g.SchedulerHour < 0 || g.SchedulerHour > 23 {
		return apperr.InvalidInput("scheduler_hour", "must be between 0 and 23")
	}
	if g.MinRetentionDays < 1 {
		return apperr.InvalidInput("min_retention_days", "must be at least 1")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.GlobalSettings = g
	return s.save()
}

// TrashFolders returns the configured trash folder patterns.
func (s *PolicyStore) TrashFolders() domain.TrashFolderConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.TrashFolders
}

// AllPolicies returns every policy sorted by id.
func (s *PolicyStore) AllPolicies() []*domain.RetentionPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.settings.AllPolicies()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PolicyByID returns a policy or a PolicyNotFound error.
func (s *PolicyStore) PolicyByID(id string) (*domain.RetentionPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p := s.settings.PolicyByID(id); p != nil {
		return p, nil
	}
	return nil, apperr.PolicyNotFound(id)
}

// PolicyByRuleID returns the policy bound to a rule, or nil.
func (s *PolicyStore) PolicyByRuleID(ruleID string) *domain.RetentionPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.PolicyByRuleID(ruleID)
}

func (s *PolicyStore) validate(p *domain.RetentionPolicy) error {
	if errs := p.Validate(); len(errs) > 0 {
		return apperr.PolicyValidation(p.ID, errs)
	}
	min := s.settings.GlobalSettings.MinRetentionDays
	if p.RetentionDays < min {
		return apperr.InvalidRetentionPeriod(p.RetentionDays, min)
	}
	return nil
}

// CreateFolderPolicy creates and persists a folder-pattern policy.
func (s *PolicyStore) CreateFolderPolicy(name, pattern, description string, retentionDays, trashDays int) (*domain.RetentionPolicy, error) {
	now := time.Now().UTC()
	policy := &domain.RetentionPolicy{
		ID:                 fmt.Sprintf("folder-%s-%d", sanitizeID(pattern), now.Unix()),
		Name:               name,
		Description:        description,
		FolderPattern:      pattern,
		RetentionDays:      retentionDays,
		TrashRetentionDays: trashDays,
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validate(policy); err != nil {
		return nil, err
	}
	s.settings.FolderPolicies[policy.ID] = policy
	if err := s.save(); err != nil {
		return nil, err
	}
	s.audit.LogPolicyChange("create", policy, nil)
	return policy, nil
}

// CreateRulePolicy creates and persists a rule-bound policy.
func (s *PolicyStore) CreateRulePolicy(name, ruleID, description string, retentionDays, trashDays int, skipTrash bool) (*domain.RetentionPolicy, error) {
	now := time.Now().UTC()
	policy := &domain.RetentionPolicy{
		ID:                 fmt.Sprintf("rule-%s-%d", sanitizeID(ruleID), now.Unix()),
		Name:               name,
		Description:        description,
		RuleID:             ruleID,
		RetentionDays:      retentionDays,
		TrashRetentionDays: trashDays,
		SkipTrash:          skipTrash,
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validate(policy); err != nil {
		return nil, err
	}
	s.settings.RulePolicies[policy.ID] = policy
	if err := s.save(); err != nil {
		return nil, err
	}
	s.audit.LogPolicyChange("create", policy, nil)
	return policy, nil
}

// UpdatePolicy replaces a policy by id, auditing the old version.
func (s *PolicyStore) UpdatePolicy(policy *domain.RetentionPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.settings.PolicyByID(policy.ID)
	if old == nil {
		return apperr.PolicyNotFound(policy.ID)
	}
	if err := s.validate(policy); err != nil {
		return err
	}
	oldCopy := *old
	policy.CreatedAt = old.CreatedAt
	policy.UpdatedAt = time.Now().UTC()
	if policy.RuleID != "" {
		delete(s.settings.FolderPolicies, policy.ID)
		s.settings.RulePolicies[policy.ID] = policy
	} else {
		delete(s.settings.RulePolicies, policy.ID)
		s.settings.FolderPolicies[policy.ID] = policy
	}
	if err := s.save(); err != nil {
		return err
	}
	s.audit.LogPolicyChange("update", policy, &oldCopy)
	return nil
}

// DeletePolicy removes a policy by id.
func (s *PolicyStore) DeletePolicy(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.settings.PolicyByID(id)
	if old == nil {
		return apperr.PolicyNotFound(id)
	}
	delete(s.settings.FolderPolicies, id)
	delete(s.settings.RulePolicies, id)
	if err := s.save(); err != nil {
		return err
	}
	s.audit.LogPolicyChange("delete", nil, old)
	return nil
}

// ApplicableFolderPolicies returns the active folder policies whose
// pattern is contained in or a suffix of the folder name, in stable order.
func (s *PolicyStore) ApplicableFolderPolicies(folder string) []*domain.RetentionPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lowered := strings.ToLower(folder)
	var out []*domain.RetentionPolicy
	for _, p := range s.settings.FolderPolicies {
		if !p.Active || p.FolderPattern == "" {
			continue
		}
		pattern := strings.ToLower(p.FolderPattern)
		if strings.Contains(lowered, pattern) || strings.HasSuffix(lowered, pattern) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveFolderPolicies returns every active folder policy in stable order.
func (s *PolicyStore) ActiveFolderPolicies() []*domain.RetentionPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.RetentionPolicy
	for _, p := range s.settings.FolderPolicies {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarkApplied bumps a policy's moved counter and stamps last_applied.
func (s *PolicyStore) MarkApplied(id string, moved int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.settings.PolicyByID(id)
	if p == nil {
		return apperr.PolicyNotFound(id)
	}
	now := time.Now().UTC()
	p.EmailsMovedToTrash += moved
	p.LastApplied = &now
	return s.save()
}

// EnsureRulePolicies creates policies for retention-bearing rules that do
// not have one yet. Idempotent by rule id.
func (s *PolicyStore) EnsureRulePolicies(rules []*domain.Rule) (int, error) {
	created := 0
	for _, rule := range rules {
		ret := rule.GetRetentionSettings()
		if ret == nil || ret.RetentionDays < 1 {
			continue
		}
		if s.PolicyByRuleID(rule.ID) != nil {
			continue
		}
		_, err := s.CreateRulePolicy(
			"Auto: "+rule.Name,
			rule.ID,
			"Automatically created from rule retention settings",
			ret.RetentionDays,
			ret.TrashRetentionDays,
			ret.SkipTrash,
		)
		if err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// MigrateLegacy imports the old {folder_type: days} map as folder
// policies, skipping ids that already exist.
func (s *PolicyStore) MigrateLegacy(legacy map[string]int, folders map[string]string) (int, error) {
	policies := domain.MigrateLegacyRetention(legacy, folders, time.Now().UTC())
	s.mu.Lock()
	defer s.mu.Unlock()
	migrated := 0
	for _, p := range policies {
		if s.settings.PolicyByID(p.ID) != nil {
			continue
		}
		s.settings.FolderPolicies[p.ID] = p
		migrated++
	}
	if migrated == 0 {
		return 0, nil
	}
	return migrated, s.save()
}

func sanitizeID(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "/", "-")
	return s
}
