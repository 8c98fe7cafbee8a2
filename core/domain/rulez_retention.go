package domain

import (
	"fmt"
	"time"
)

// =============================================================================
// Retention policy
// =============================================================================

// RetentionStage identifies a lifecycle stage in audit records.
type RetentionStage string

const (
	StageMoveToTrash     RetentionStage = "move_to_trash"
	StagePermanentDelete RetentionStage = "permanent_delete"
)

// RetentionPolicy describes the two-stage lifecycle for a folder or a rule:
// messages older than RetentionDays move to trash, then messages that have
// sat in trash for TrashRetentionDays are deleted for good.
type RetentionPolicy struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Description        string     `json:"description,omitempty"`
	FolderPattern      string     `json:"folder_pattern,omitempty"`
	RuleID             string     `json:"rule_id,omitempty"`
	RetentionDays      int        `json:"retention_days"`
	TrashRetentionDays int        `json:"trash_retention_days"`
	SkipTrash          bool       `json:"skip_trash,omitempty"`
	Active             bool       `json:"active"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	EmailsMovedToTrash int        `json:"emails_moved_to_trash"`
	LastApplied        *time.Time `json:"last_applied,omitempty"`
}

// Validate enforces the policy invariants: both periods at least one day
// and exactly one of FolderPattern or RuleID set.
func (p *RetentionPolicy) Validate() []string {
	var errs []string
	if p.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("retention_days must be at least 1, got %d", p.RetentionDays))
	}
	if p.TrashRetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("trash_retention_days must be at least 1, got %d", p.TrashRetentionDays))
	}
	hasFolder := p.FolderPattern != ""
	hasRule := p.RuleID != ""
	if hasFolder == hasRule {
		errs = append(errs, "exactly one of folder_pattern or rule_id must be set")
	}
	return errs
}

// TotalLifecycleDays is the full span from arrival to permanent deletion.
// Skip-trash policies delete immediately, so the trash window contributes
// nothing.
func (p *RetentionPolicy) TotalLifecycleDays() int {
	if p.SkipTrash {
		return p.RetentionDays
	}
	return p.RetentionDays + p.TrashRetentionDays
}

// PolicyType returns "folder" or "rule".
func (p *RetentionPolicy) PolicyType() string {
	if p.RuleID != "" {
		return "rule"
	}
	return "folder"
}

// =============================================================================
// Settings
// =============================================================================

// GlobalRetentionSettings are the engine-wide knobs.
type GlobalRetentionSettings struct {
	MinRetentionDays          int  `json:"min_retention_days"`
	MaxEmailsPerOperation     int  `json:"max_emails_per_operation"`
	DefaultTrashRetentionDays int  `json:"default_trash_retention_days"`
	SchedulerEnabled          bool `json:"scheduler_enabled"`
	SchedulerHour             int  `json:"scheduler_hour"`
	AuditRetentionDays        int  `json:"audit_retention_days"`
}

// DefaultGlobalRetentionSettings returns the documented defaults.
func DefaultGlobalRetentionSettings() GlobalRetentionSettings {
	return GlobalRetentionSettings{
		MinRetentionDays:          1,
		MaxEmailsPerOperation:     1000,
		DefaultTrashRetentionDays: 7,
		SchedulerEnabled:          true,
		SchedulerHour:             2,
		AuditRetentionDays:        365,
	}
}

// TrashFolderConfig holds the configured trash folder patterns per provider.
type TrashFolderConfig struct {
	Default        string `json:"default"`
	GmailPattern   string `json:"gmail_pattern"`
	OutlookPattern string `json:"outlook_pattern"`
	ICloudPattern  string `json:"icloud_pattern"`
}

// DefaultTrashFolderConfig mirrors the shipped configuration.
func DefaultTrashFolderConfig() TrashFolderConfig {
	return TrashFolderConfig{
		Default:        "INBOX.Trash",
		GmailPattern:   "[Gmail]/Trash",
		OutlookPattern: "Deleted Items",
		ICloudPattern:  "INBOX.Trash",
	}
}

// RetentionSettings is the persisted retention_policies.json document.
type RetentionSettings struct {
	FolderPolicies map[string]*RetentionPolicy `json:"folder_policies"`
	RulePolicies   map[string]*RetentionPolicy `json:"rule_policies"`
	GlobalSettings GlobalRetentionSettings     `json:"global_settings"`
	TrashFolders   TrashFolderConfig           `json:"trash_folders"`
}

// NewRetentionSettings returns empty settings with defaults filled in.
func NewRetentionSettings() *RetentionSettings {
	return &RetentionSettings{
		FolderPolicies: make(map[string]*RetentionPolicy),
		RulePolicies:   make(map[string]*RetentionPolicy),
		GlobalSettings: DefaultGlobalRetentionSettings(),
		TrashFolders:   DefaultTrashFolderConfig(),
	}
}

// PolicyByID scans both policy maps.
func (s *RetentionSettings) PolicyByID(id string) *RetentionPolicy {
	if p, ok := s.FolderPolicies[id]; ok {
		return p
	}
	if p, ok := s.RulePolicies[id]; ok {
		return p
	}
	return nil
}

// PolicyByRuleID finds the rule policy bound to a rule, if any.
func (s *RetentionSettings) PolicyByRuleID(ruleID string) *RetentionPolicy {
	for _, p := range s.RulePolicies {
		if p.RuleID == ruleID {
			return p
		}
	}
	return nil
}

// AllPolicies returns every policy from both maps.
func (s *RetentionSettings) AllPolicies() []*RetentionPolicy {
	out := make([]*RetentionPolicy, 0, len(s.FolderPolicies)+len(s.RulePolicies))
	for _, p := range s.FolderPolicies {
		out = append(out, p)
	}
	for _, p := range s.RulePolicies {
		out = append(out, p)
	}
	return out
}

// DefaultFolderPolicies returns the three policies seeded on first run.
func DefaultFolderPolicies(now time.Time) []*RetentionPolicy {
	mk := func(id, name, pattern string, days int) *RetentionPolicy {
		return &RetentionPolicy{
			ID:                 id,
			Name:               name,
			FolderPattern:      pattern,
			RetentionDays:      days,
			TrashRetentionDays: 7,
			Active:             true,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
	}
	return []*RetentionPolicy{
		mk("default-approved-ads", "Approved Ads Cleanup", "INBOX.Approved_Ads", 30),
		mk("default-junk", "Junk Cleanup", "INBOX.Junk", 7),
		mk("default-processed", "Processed Mail Cleanup", "INBOX.Processed", 90),
	}
}

// MigrateLegacyRetention converts the old {folder_type: days} map into
// folder policies with ids "migrated-{type}" and a 7 day trash window.
func MigrateLegacyRetention(legacy map[string]int, folders map[string]string, now time.Time) []*RetentionPolicy {
	out := make([]*RetentionPolicy, 0, len(legacy))
	for folderType, days := range legacy {
		if days < 1 {
			continue
		}
		pattern := folders[folderType]
		if pattern == "" {
			pattern = DefaultFolders()[folderType]
		}
		if pattern == "" {
			continue
		}
		out = append(out, &RetentionPolicy{
			ID:                 "migrated-" + folderType,
			Name:               "Migrated " + folderType + " retention",
			FolderPattern:      pattern,
			RetentionDays:      days,
			TrashRetentionDays: 7,
			Active:             true,
			CreatedAt:          now,
			UpdatedAt:          now,
		})
	}
	return out
}

// =============================================================================
// Results
// =============================================================================

// RetentionResult is the outcome of one retention stage run.
type RetentionResult struct {
	Success              bool           `json:"success"`
	Stage                RetentionStage `json:"stage"`
	PolicyID             string         `json:"policy_id"`
	Folder               string         `json:"folder"`
	EmailsProcessed      int            `json:"emails_processed"`
	EmailsAffected       int            `json:"emails_affected"`
	ErrorMessage         string         `json:"error_message,omitempty"`
	ExecutionTimeSeconds float64        `json:"execution_time_seconds"`
	DryRun               bool           `json:"dry_run"`
}

// TrashItem describes one message sitting in the trash folder.
type TrashItem struct {
	UID            uint32    `json:"uid"`
	Sender         string    `json:"sender"`
	Subject        string    `json:"subject"`
	MovedAt        time.Time `json:"moved_at"`
	OriginalFolder string    `json:"original_folder,omitempty"`
	PolicyID       string    `json:"policy_id,omitempty"`
	RetentionDays  int       `json:"retention_days"`
}

// DaysInTrash is the whole days elapsed since the move.
func (t *TrashItem) DaysInTrash(now time.Time) int {
	if t.MovedAt.IsZero() {
		return 0
	}
	return int(now.Sub(t.MovedAt).Hours() / 24)
}

// DaysUntilDeletion is the remaining recovery window, never negative.
func (t *TrashItem) DaysUntilDeletion(now time.Time) int {
	remaining := t.RetentionDays - t.DaysInTrash(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsScheduledForDeletion reports whether the recovery window has lapsed.
func (t *TrashItem) IsScheduledForDeletion(now time.Time) bool {
	return t.DaysInTrash(now) >= t.RetentionDays
}
