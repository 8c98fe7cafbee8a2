package retention

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mailrulez/core/domain"
	"mailrulez/pkg/fsutil"
)

// Audit operation types.
const (
	OpRetentionExecution = "retention_execution"
	OpPolicyChange       = "policy_change"
	OpTrashOperation     = "trash_operation"
	OpAuditCleanup       = "audit_cleanup"
	OpScheduledSummary   = "scheduled_execution_summary"
)

// AuditEntry is one JSON line in the retention audit log.
type AuditEntry struct {
	Timestamp            time.Time      `json:"timestamp"`
	AuditID              string         `json:"audit_id"`
	OperationType        string         `json:"operation_type"`
	Stage                string         `json:"stage,omitempty"`
	PolicyID             string         `json:"policy_id,omitempty"`
	PolicyName           string         `json:"policy_name,omitempty"`
	PolicyType           string         `json:"policy_type,omitempty"`
	Folder               string         `json:"folder,omitempty"`
	AccountEmail         string         `json:"account_email,omitempty"`
	MessagesAffected     int            `json:"messages_affected"`
	Success              bool           `json:"success"`
	ErrorMessage         string         `json:"error_message,omitempty"`
	ExecutionTimeSeconds float64        `json:"execution_time_seconds,omitempty"`
	DryRun               bool           `json:"dry_run,omitempty"`
	RecoveryWindowDays   int            `json:"recovery_window_days,omitempty"`
	TotalLifecycleDays   int            `json:"total_lifecycle_days,omitempty"`
	Details              map[string]any `json:"details,omitempty"`
}

// AuditFilter narrows Query results. Zero values mean no filter.
type AuditFilter struct {
	AccountEmail  string
	PolicyID      string
	OperationType string
	Since         time.Time
	Limit         int
}

// AuditLogger is an append-only JSON-lines audit trail.
type AuditLogger struct {
	path string
	mu   sync.Mutex
	log  zerolog.Logger
}

// NewAuditLogger creates the logger over the given file path.
func NewAuditLogger(path string) *AuditLogger {
	return &AuditLogger{
		path: path,
		log:  log.With().Str("component", "retention-audit").Logger(),
	}
}

func shortPolicyID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (a *AuditLogger) append(entry *AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

// LogRetention records one retention stage execution.
func (a *AuditLogger) LogRetention(policy *domain.RetentionPolicy, result *domain.RetentionResult, account string) {
	entry := &AuditEntry{
		AuditID:              fmt.Sprintf("ret_%d_%s", time.Now().Unix(), shortPolicyID(policy.ID)),
		OperationType:        OpRetentionExecution,
		Stage:                string(result.Stage),
		PolicyID:             policy.ID,
		PolicyName:           policy.Name,
		PolicyType:           policy.PolicyType(),
		Folder:               result.Folder,
		AccountEmail:         account,
		MessagesAffected:     result.EmailsAffected,
		Success:              result.Success,
		ErrorMessage:         result.ErrorMessage,
		ExecutionTimeSeconds: result.ExecutionTimeSeconds,
		DryRun:               result.DryRun,
		RecoveryWindowDays:   policy.TrashRetentionDays,
		TotalLifecycleDays:   policy.TotalLifecycleDays(),
	}
	if err := a.append(entry); err != nil {
		a.log.Error().Err(err).Msg("failed to append retention audit entry")
	}
}

// LogPolicyChange records a create/update/delete of a policy.
func (a *AuditLogger) LogPolicyChange(operation string, newPolicy, oldPolicy *domain.RetentionPolicy) {
	ref := newPolicy
	if ref == nil {
		ref = oldPolicy
	}
	if ref == nil {
		return
	}
	details := map[string]any{"operation": operation}
	if newPolicy != nil {
		details["new_policy"] = newPolicy
	}
	if oldPolicy != nil {
		details["old_policy"] = oldPolicy
	}
	entry := &AuditEntry{
		AuditID:       fmt.Sprintf("pol_%d_%s", time.Now().Unix(), shortPolicyID(ref.ID)),
		OperationType: OpPolicyChange,
		PolicyID:      ref.ID,
		PolicyName:    ref.Name,
		PolicyType:    ref.PolicyType(),
		Success:       true,
		Details:       details,
	}
	if err := a.append(entry); err != nil {
		a.log.Error().Err(err).Msg("failed to append policy change entry")
	}
}

// LogTrashOperation records a trash move/restore/delete with at most the
// first 10 UIDs for traceability.
func (a *AuditLogger) LogTrashOperation(operation, account, folder string, uids []uint32, success bool, errMsg string) {
	sample := uids
	if len(sample) > 10 {
		sample = sample[:10]
	}
	entry := &AuditEntry{
		AuditID:          fmt.Sprintf("trash_%d", time.Now().Unix()),
		OperationType:    OpTrashOperation,
		Folder:           folder,
		AccountEmail:     account,
		MessagesAffected: len(uids),
		Success:          success,
		ErrorMessage:     errMsg,
		Details: map[string]any{
			"operation":     operation,
			"message_count": len(uids),
			"message_uids":  sample,
		},
	}
	if err := a.append(entry); err != nil {
		a.log.Error().Err(err).Msg("failed to append trash operation entry")
	}
}

// LogEvent records a free-form engine event such as the scheduled run
// summary.
func (a *AuditLogger) LogEvent(operationType string, success bool, details map[string]any) {
	entry := &AuditEntry{
		AuditID:       fmt.Sprintf("ret_%d_event", time.Now().Unix()),
		OperationType: operationType,
		Success:       success,
		Details:       details,
	}
	if err := a.append(entry); err != nil {
		a.log.Error().Err(err).Msg("failed to append audit event")
	}
}

// Query scans the log applying filters and returns entries newest first.
// Malformed lines are skipped, never fatal.
func (a *AuditLogger) Query(filter AuditFilter) ([]*AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []*AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if filter.AccountEmail != "" && !strings.EqualFold(entry.AccountEmail, filter.AccountEmail) {
			continue
		}
		if filter.PolicyID != "" && entry.PolicyID != filter.PolicyID {
			continue
		}
		if filter.OperationType != "" && entry.OperationType != filter.OperationType {
			continue
		}
		if !filter.Since.IsZero() && entry.Timestamp.Before(filter.Since) {
			continue
		}
		entries = append(entries, &entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// Newest first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

// AuditReport aggregates audit entries over a window.
type AuditReport struct {
	PeriodDays      int            `json:"period_days"`
	TotalOperations int            `json:"total_operations"`
	TotalAffected   int            `json:"total_affected"`
	ByStage         map[string]int `json:"by_stage"`
	ByPolicy        map[string]int `json:"by_policy"`
	ByAccount       map[string]int `json:"by_account"`
	Errors          []*AuditEntry  `json:"errors,omitempty"`
}

// Report summarizes retention executions over the last daysBack days.
func (a *AuditLogger) Report(daysBack int) (*AuditReport, error) {
	since := time.Now().UTC().AddDate(0, 0, -daysBack)
	entries, err := a.Query(AuditFilter{Since: since})
	if err != nil {
		return nil, err
	}
	report := &AuditReport{
		PeriodDays: daysBack,
		ByStage:    map[string]int{},
		ByPolicy:   map[string]int{},
		ByAccount:  map[string]int{},
	}
	for _, e := range entries {
		if e.OperationType != OpRetentionExecution {
			continue
		}
		report.TotalOperations++
		report.TotalAffected += e.MessagesAffected
		if e.Stage != "" {
			report.ByStage[e.Stage] += e.MessagesAffected
		}
		if e.PolicyID != "" {
			report.ByPolicy[e.PolicyID] += e.MessagesAffected
		}
		if e.AccountEmail != "" {
			report.ByAccount[e.AccountEmail] += e.MessagesAffected
		}
		if !e.Success {
			report.Errors = append(report.Errors, e)
		}
	}
	return report, nil
}

// Cleanup rewrites the log keeping entries within retentionDays. Lines
// that do not parse are preserved verbatim. The rewrite itself is audited.
func (a *AuditLogger) Cleanup(retentionDays int) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	a.mu.Lock()
	data, err := os.ReadFile(a.path)
	if err != nil {
		a.mu.Unlock()
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var kept []string
	total := 0
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		total++
		var entry AuditEntry
		if err := json.Unmarshal([]byte(trimmed), &entry); err != nil {
			// Keep anything we cannot parse rather than lose evidence.
			kept = append(kept, trimmed)
			continue
		}
		if !entry.Timestamp.Before(cutoff) {
			kept = append(kept, trimmed)
		}
	}

	out := strings.Join(kept, "\n")
	if out != "" {
		out += "\n"
	}
	err = fsutil.WriteFileAtomic(a.path, []byte(out))
	a.mu.Unlock()
	if err != nil {
		return err
	}

	entry := &AuditEntry{
		AuditID:       fmt.Sprintf("cleanup_%d", time.Now().Unix()),
		OperationType: OpAuditCleanup,
		Success:       true,
		Details: map[string]any{
			"entries_kept":    len(kept),
			"entries_removed": total - len(kept),
			"cutoff_date":     cutoff.Format(time.RFC3339),
		},
	}
	return a.append(entry)
}
