package domain

import (
	"regexp"
	"strings"
	"time"
)

// =============================================================================
// Rule condition / action types
// =============================================================================

// ConditionType represents what part of a message a condition inspects.
// Tag strings are stable; they are the on-disk rules.json vocabulary.
type ConditionType string

const (
	ConditionSenderContains  ConditionType = "sender_contains"
	ConditionSenderDomain    ConditionType = "sender_domain"
	ConditionSenderExact     ConditionType = "sender_exact"
	ConditionSubjectContains ConditionType = "subject_contains"
	ConditionSubjectExact    ConditionType = "subject_exact"
	ConditionSubjectRegex    ConditionType = "subject_regex"
	ConditionContentContains ConditionType = "content_contains"
	ConditionSenderInList    ConditionType = "sender_in_list"
)

// ActionType represents what a matched rule does.
type ActionType string

const (
	ActionMoveToFolder ActionType = "move_to_folder"
	ActionAddToList    ActionType = "add_to_list"
	ActionCreateList   ActionType = "create_list"
	ActionMarkRead     ActionType = "mark_read"
	ActionSetRetention ActionType = "set_retention"
)

// ConditionLogic combines multiple conditions.
type ConditionLogic string

const (
	LogicAnd ConditionLogic = "AND"
	LogicOr  ConditionLogic = "OR"
)

// =============================================================================
// Rule model
// =============================================================================

// RuleCondition is a single predicate over message metadata. Matching is
// case-insensitive unless CaseSensitive is set.
type RuleCondition struct {
	Type          ConditionType `json:"type"`
	Value         string        `json:"value"`
	CaseSensitive bool          `json:"case_sensitive,omitempty"`
}

// RuleAction is a single effect applied when a rule matches.
type RuleAction struct {
	Type               ActionType `json:"type"`
	TargetFolder       string     `json:"target_folder,omitempty"`
	ListName           string     `json:"list_name,omitempty"`
	RetentionDays      int        `json:"retention_days,omitempty"`
	TrashRetentionDays int        `json:"trash_retention_days,omitempty"`
	SkipTrash          bool       `json:"skip_trash,omitempty"`
}

// HasRetentionSettings reports whether the action carries retention data.
func (a *RuleAction) HasRetentionSettings() bool {
	return a.Type == ActionSetRetention || a.RetentionDays > 0 || a.TrashRetentionDays > 0
}

// Rule is a user-defined classification rule. An empty AccountEmail applies
// the rule to every account.
type Rule struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	AccountEmail   string          `json:"account_email,omitempty"`
	Conditions     []RuleCondition `json:"conditions"`
	Actions        []RuleAction    `json:"actions"`
	ConditionLogic ConditionLogic  `json:"condition_logic,omitempty"`
	Priority       int             `json:"priority"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ListMembership answers sender-in-list conditions without coupling the
// domain to the list store.
type ListMembership interface {
	Contains(listName, address string) bool
}

// fold lowercases unless the condition is case sensitive.
func (c *RuleCondition) fold(s string) string {
	if c.CaseSensitive {
		return s
	}
	return strings.ToLower(s)
}

// Matches evaluates a single condition against message metadata. A regex
// that fails to compile never matches.
func (c *RuleCondition) Matches(msg *MessageMeta, lists ListMembership) bool {
	switch c.Type {
	case ConditionSenderContains:
		return strings.Contains(c.fold(msg.Sender), c.fold(c.Value))
	case ConditionSenderDomain:
		// Domains are case-insensitive regardless of the flag.
		return AddressDomain(msg.Sender) == strings.ToLower(strings.TrimSpace(c.Value))
	case ConditionSenderExact:
		if c.CaseSensitive {
			return strings.TrimSpace(msg.Sender) == strings.TrimSpace(c.Value)
		}
		return msg.SenderAddress() == NormalizeAddress(c.Value)
	case ConditionSubjectContains:
		return strings.Contains(c.fold(msg.Subject), c.fold(c.Value))
	case ConditionSubjectExact:
		return c.fold(strings.TrimSpace(msg.Subject)) == c.fold(strings.TrimSpace(c.Value))
	case ConditionSubjectRegex:
		pattern := c.Value
		if !c.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(msg.Subject)
	case ConditionContentContains:
		// Headers-only fetches carry no body. Subject is the only content
		// available at classification time.
		return strings.Contains(c.fold(msg.Subject), c.fold(c.Value))
	case ConditionSenderInList:
		if lists == nil {
			return false
		}
		return lists.Contains(c.Value, msg.SenderAddress())
	default:
		return false
	}
}

// Matches evaluates the whole rule. Inactive rules and rules without
// conditions never match.
func (r *Rule) Matches(msg *MessageMeta, lists ListMembership) bool {
	if !r.Active || len(r.Conditions) == 0 {
		return false
	}
	// Unknown logic values fall back to AND, and legacy lowercase tokens
	// are accepted.
	orLogic := strings.EqualFold(string(r.ConditionLogic), string(LogicOr))
	for _, cond := range r.Conditions {
		matched := cond.Matches(msg, lists)
		if !orLogic && !matched {
			return false
		}
		if orLogic && matched {
			return true
		}
	}
	return !orLogic
}

// RuleRetention is the retention intent extracted from a rule's actions.
type RuleRetention struct {
	RetentionDays      int
	TrashRetentionDays int
	SkipTrash          bool
	TargetFolder       string
}

// GetRetentionSettings returns the first retention-bearing action's
// settings, or nil when the rule has none. Trash retention defaults to 7
// days. TargetFolder is filled from the rule's move action when present.
func (r *Rule) GetRetentionSettings() *RuleRetention {
	for _, action := range r.Actions {
		if !action.HasRetentionSettings() {
			continue
		}
		ret := &RuleRetention{
			RetentionDays:      action.RetentionDays,
			TrashRetentionDays: action.TrashRetentionDays,
			SkipTrash:          action.SkipTrash,
		}
		if ret.TrashRetentionDays == 0 {
			ret.TrashRetentionDays = 7
		}
		if action.Type == ActionMoveToFolder && action.TargetFolder != "" {
			ret.TargetFolder = action.TargetFolder
		} else {
			for _, a := range r.Actions {
				if a.Type == ActionMoveToFolder && a.TargetFolder != "" {
					ret.TargetFolder = a.TargetFolder
					break
				}
			}
		}
		return ret
	}
	return nil
}

// AppliesTo reports whether the rule is in scope for an account.
func (r *Rule) AppliesTo(email string) bool {
	return r.Active && (r.AccountEmail == "" || strings.EqualFold(r.AccountEmail, email))
}
