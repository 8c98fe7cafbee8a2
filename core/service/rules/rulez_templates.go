package rules

import (
	"mailrulez/core/domain"
	"mailrulez/pkg/apperr"
)

// Built-in rule templates. Keys are stable API identifiers.
var ruleTemplates = map[string]domain.Rule{
	"package_delivery": {
		Name:        "Package Delivery",
		Description: "Automatically organize package delivery notifications with 90-day retention",
		Conditions: []domain.RuleCondition{
			{Type: domain.ConditionSenderDomain, Value: "fedex.com"},
			{Type: domain.ConditionSenderDomain, Value: "ups.com"},
			{Type: domain.ConditionSenderDomain, Value: "usps.com"},
			{Type: domain.ConditionSenderDomain, Value: "amazon.com"},
			{Type: domain.ConditionSenderDomain, Value: "dhl.com"},
		},
		Actions: []domain.RuleAction{
			{Type: domain.ActionMoveToFolder, TargetFolder: "INBOX.Packages", RetentionDays: 90, TrashRetentionDays: 14},
			{Type: domain.ActionAddToList, ListName: "packages"},
		},
		ConditionLogic: domain.LogicOr,
		Priority:       50,
	},
	"receipts_invoices": {
		Name:        "Receipts & Invoices",
		Description: "Organize financial documents and receipts",
		Conditions: []domain.RuleCondition{
			{Type: domain.ConditionSubjectContains, Value: "invoice"},
			{Type: domain.ConditionSubjectContains, Value: "receipt"},
			{Type: domain.ConditionSubjectContains, Value: "bill"},
			{Type: domain.ConditionSubjectContains, Value: "statement"},
			{Type: domain.ConditionSubjectContains, Value: "payment"},
		},
		Actions: []domain.RuleAction{
			{Type: domain.ActionMoveToFolder, TargetFolder: "INBOX.Receipts"},
			{Type: domain.ActionAddToList, ListName: "receipts"},
		},
		ConditionLogic: domain.LogicOr,
		Priority:       60,
	},
	"linkedin": {
		Name:        "LinkedIn Notifications",
		Description: "Organize LinkedIn professional networking emails with 30-day retention",
		Conditions: []domain.RuleCondition{
			{Type: domain.ConditionSenderDomain, Value: "linkedin.com"},
		},
		Actions: []domain.RuleAction{
			{Type: domain.ActionMoveToFolder, TargetFolder: "INBOX.LinkedIn", RetentionDays: 30, TrashRetentionDays: 7},
			{Type: domain.ActionAddToList, ListName: "linkedin"},
		},
		ConditionLogic: domain.LogicAnd,
		Priority:       70,
	},
	"head_hunter": {
		Name:        "Head Hunter Recruiters - Training Only",
		Description: "Training folder rule for headhunter emails. Adds sender to head list and moves to HeadHunt folder.",
		Conditions:  nil,
		Actions: []domain.RuleAction{
			{Type: domain.ActionAddToList, ListName: "head"},
			{Type: domain.ActionMoveToFolder, TargetFolder: "INBOX.HeadHunt"},
		},
		ConditionLogic: domain.LogicAnd,
		Priority:       80,
	},
	"newsletters_retention": {
		Name:        "Newsletter Auto-Cleanup",
		Description: "Automatically clean up newsletter emails after 14 days",
		Conditions: []domain.RuleCondition{
			{Type: domain.ConditionSubjectContains, Value: "newsletter"},
			{Type: domain.ConditionSubjectContains, Value: "unsubscribe"},
			{Type: domain.ConditionSubjectContains, Value: "promotional"},
		},
		Actions: []domain.RuleAction{
			{Type: domain.ActionMoveToFolder, TargetFolder: "INBOX.Newsletters", RetentionDays: 14, TrashRetentionDays: 7},
			{Type: domain.ActionAddToList, ListName: "newsletters"},
		},
		ConditionLogic: domain.LogicOr,
		Priority:       40,
	},
	"social_media_retention": {
		Name:        "Social Media Notifications Cleanup",
		Description: "Clean up social media notifications after 7 days",
		Conditions: []domain.RuleCondition{
			{Type: domain.ConditionSenderDomain, Value: "facebook.com"},
			{Type: domain.ConditionSenderDomain, Value: "twitter.com"},
			{Type: domain.ConditionSenderDomain, Value: "instagram.com"},
		},
		Actions: []domain.RuleAction{
			{Type: domain.ActionMoveToFolder, TargetFolder: "INBOX.Social", RetentionDays: 7, TrashRetentionDays: 3},
		},
		ConditionLogic: domain.LogicOr,
		Priority:       30,
	},
}

// TemplateNames lists the available template identifiers.
func TemplateNames() []string {
	names := make([]string, 0, len(ruleTemplates))
	for name := range ruleTemplates {
		names = append(names, name)
	}
	return names
}

// RuleFromTemplate instantiates a template as a new active rule.
func RuleFromTemplate(templateName string) (*domain.Rule, error) {
	tmpl, ok := ruleTemplates[templateName]
	if !ok {
		return nil, apperr.NotFound("rule template " + templateName)
	}
	rule := tmpl
	rule.Conditions = append([]domain.RuleCondition(nil), tmpl.Conditions...)
	rule.Actions = append([]domain.RuleAction(nil), tmpl.Actions...)
	rule.Active = true
	return &rule, nil
}
