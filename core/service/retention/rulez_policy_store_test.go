package retention

import (
	"path/filepath"
	"testing"

	"mailrulez/core/domain"
	"mailrulez/pkg/apperr"
)

func testPolicyStore(t *testing.T) *PolicyStore {
	t.Helper()
	dir := t.TempDir()
	audit := NewAuditLogger(filepath.Join(dir, "audit.log"))
	store, err := NewPolicyStore(filepath.Join(dir, "retention_policies.json"), audit)
	if err != nil {
		t.Fatalf("NewPolicyStore failed: %v", err)
	}
	return store
}

// TestPolicyStoreSeedsDefaults tests first-run seeding of the three
// default policies and the global settings.
func TestPolicyStoreSeedsDefaults(t *testing.T) {
	store := testPolicyStore(t)

	policies := store.AllPolicies()
	if len(policies) != 3 {
		t.Fatalf("got %d seeded policies, want 3", len(policies))
	}
	for _, id := range []string{"default-approved-ads", "default-junk", "default-processed"} {
		if _, err := store.PolicyByID(id); err != nil {
			t.Errorf("seeded policy %s missing: %v", id, err)
		}
	}
	if g := store.Global(); g.MaxEmailsPerOperation != 1000 {
		t.Errorf("global MaxEmailsPerOperation = %d, want 1000", g.MaxEmailsPerOperation)
	}
	if tf := store.TrashFolders(); tf.Default != "INBOX.Trash" {
		t.Errorf("default trash pattern = %q", tf.Default)
	}
}

// TestPolicyStorePersistence tests that a second store sees the first's
// writes.
func TestPolicyStorePersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "retention_policies.json")
	audit := NewAuditLogger(filepath.Join(dir, "audit.log"))

	store, err := NewPolicyStore(path, audit)
	if err != nil {
		t.Fatal(err)
	}
	created, err := store.CreateFolderPolicy("Newsletters", "INBOX.Newsletters", "", 14, 7)
	if err != nil {
		t.Fatalf("CreateFolderPolicy failed: %v", err)
	}

	reopened, err := NewPolicyStore(path, audit)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.PolicyByID(created.ID)
	if err != nil {
		t.Fatalf("policy lost across reload: %v", err)
	}
	if got.FolderPattern != "INBOX.Newsletters" || got.RetentionDays != 14 {
		t.Errorf("reloaded policy = %+v", got)
	}
}

// TestCreatePolicyValidation tests rejection of invalid policies.
func TestCreatePolicyValidation(t *testing.T) {
	store := testPolicyStore(t)

	if _, err := store.CreateFolderPolicy("bad", "INBOX.X", "", 0, 7); err == nil {
		t.Error("expected error for zero retention days")
	}
	if _, err := store.CreateFolderPolicy("bad", "", "", 7, 7); err == nil {
		t.Error("expected error for empty folder pattern")
	}
	if _, err := store.CreateRulePolicy("bad", "", "", 7, 7, false); err == nil {
		t.Error("expected error for empty rule id")
	}
}

// TestUpdateGlobalValidation tests the global settings guards.
func TestUpdateGlobalValidation(t *testing.T) {
	store := testPolicyStore(t)

	g := store.Global()
	g.SchedulerHour = 24
	if err := store.UpdateGlobal(g); err == nil {
		t.Error("expected error for hour 24")
	}
	g.SchedulerHour = 3
	g.MinRetentionDays = 0
	if err := store.UpdateGlobal(g); err == nil {
		t.Error("expected error for zero min retention")
	}
	g.MinRetentionDays = 2
	if err := store.UpdateGlobal(g); err != nil {
		t.Fatalf("UpdateGlobal failed: %v", err)
	}
	if got := store.Global(); got.SchedulerHour != 3 || got.MinRetentionDays != 2 {
		t.Errorf("global not updated: %+v", got)
	}

	// Raised minimum now rejects short policies.
	if _, err := store.CreateFolderPolicy("short", "INBOX.X", "", 1, 7); err == nil {
		t.Error("expected error below the raised minimum")
	}
}

// TestUpdateAndDeletePolicy tests update re-homing and deletion.
func TestUpdateAndDeletePolicy(t *testing.T) {
	store := testPolicyStore(t)

	p, err := store.CreateFolderPolicy("Social", "INBOX.Social", "", 7, 3)
	if err != nil {
		t.Fatal(err)
	}

	upd := *p
	upd.RetentionDays = 10
	if err := store.UpdatePolicy(&upd); err != nil {
		t.Fatalf("UpdatePolicy failed: %v", err)
	}
	got, _ := store.PolicyByID(p.ID)
	if got.RetentionDays != 10 {
		t.Errorf("RetentionDays = %d after update, want 10", got.RetentionDays)
	}
	if !got.CreatedAt.Equal(p.CreatedAt) {
		t.Error("update must preserve CreatedAt")
	}

	if err := store.UpdatePolicy(&domain.RetentionPolicy{ID: "missing", FolderPattern: "x", RetentionDays: 7, TrashRetentionDays: 7}); !apperr.IsAppError(err) {
		t.Errorf("update of unknown policy = %v, want AppError", err)
	}

	if err := store.DeletePolicy(p.ID); err != nil {
		t.Fatalf("DeletePolicy failed: %v", err)
	}
	if _, err := store.PolicyByID(p.ID); err == nil {
		t.Error("policy still found after delete")
	}
	if err := store.DeletePolicy(p.ID); err == nil {
		t.Error("double delete must error")
	}
}

// TestApplicableFolderPolicies tests pattern matching against folder names.
func TestApplicableFolderPolicies(t *testing.T) {
	store := testPolicyStore(t)

	junk := store.ApplicableFolderPolicies("INBOX.Junk")
	if len(junk) != 1 || junk[0].ID != "default-junk" {
		t.Errorf("INBOX.Junk matched %v", junk)
	}

	// Case-insensitive containment.
	junk = store.ApplicableFolderPolicies("inbox.junk")
	if len(junk) != 1 {
		t.Errorf("lowercased folder matched %d policies, want 1", len(junk))
	}

	if got := store.ApplicableFolderPolicies("INBOX.Receipts"); len(got) != 0 {
		t.Errorf("INBOX.Receipts matched %v, want none", got)
	}

	// Inactive policies never apply.
	p, _ := store.PolicyByID("default-junk")
	upd := *p
	upd.Active = false
	if err := store.UpdatePolicy(&upd); err != nil {
		t.Fatal(err)
	}
	if got := store.ApplicableFolderPolicies("INBOX.Junk"); len(got) != 0 {
		t.Errorf("inactive policy still applies: %v", got)
	}
	if got := store.ActiveFolderPolicies(); len(got) != 2 {
		t.Errorf("ActiveFolderPolicies = %d, want 2", len(got))
	}
}

// TestMarkApplied tests the counters stamped after a live stage 1 run.
func TestMarkApplied(t *testing.T) {
	store := testPolicyStore(t)

	if err := store.MarkApplied("default-junk", 12); err != nil {
		t.Fatalf("MarkApplied failed: %v", err)
	}
	if err := store.MarkApplied("default-junk", 5); err != nil {
		t.Fatal(err)
	}
	p, _ := store.PolicyByID("default-junk")
	if p.EmailsMovedToTrash != 17 {
		t.Errorf("EmailsMovedToTrash = %d, want 17", p.EmailsMovedToTrash)
	}
	if p.LastApplied == nil {
		t.Error("LastApplied not stamped")
	}
	if err := store.MarkApplied("missing", 1); err == nil {
		t.Error("MarkApplied of unknown policy must error")
	}
}

// TestEnsureRulePolicies tests idempotent auto-policy creation from rules.
func TestEnsureRulePolicies(t *testing.T) {
	store := testPolicyStore(t)

	rules := []*domain.Rule{
		{
			ID: "rule-packages", Name: "Packages", Active: true,
			Actions: []domain.RuleAction{
				{Type: domain.ActionMoveToFolder, TargetFolder: "INBOX.Packages", RetentionDays: 90, TrashRetentionDays: 14},
			},
		},
		{
			ID: "rule-plain", Name: "Plain move", Active: true,
			Actions: []domain.RuleAction{{Type: domain.ActionMoveToFolder, TargetFolder: "INBOX.Foo"}},
		},
	}

	created, err := store.EnsureRulePolicies(rules)
	if err != nil {
		t.Fatalf("EnsureRulePolicies failed: %v", err)
	}
	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
	p := store.PolicyByRuleID("rule-packages")
	if p == nil {
		t.Fatal("rule policy not created")
	}
	if p.Name != "Auto: Packages" || p.RetentionDays != 90 || p.TrashRetentionDays != 14 {
		t.Errorf("rule policy = %+v", p)
	}

	// Second pass creates nothing.
	created, err = store.EnsureRulePolicies(rules)
	if err != nil || created != 0 {
		t.Errorf("repeat EnsureRulePolicies = %d/%v, want 0/nil", created, err)
	}
}

// TestMigrateLegacyPolicies tests one-shot legacy map import.
func TestMigrateLegacyPolicies(t *testing.T) {
	store := testPolicyStore(t)

	legacy := map[string]int{"junk": 7, "processed": 90}
	migrated, err := store.MigrateLegacy(legacy, domain.DefaultFolders())
	if err != nil {
		t.Fatalf("MigrateLegacy failed: %v", err)
	}
	if migrated != 2 {
		t.Errorf("migrated = %d, want 2", migrated)
	}
	if _, err := store.PolicyByID("migrated-junk"); err != nil {
		t.Errorf("migrated-junk missing: %v", err)
	}

	// Idempotent on re-run.
	migrated, err = store.MigrateLegacy(legacy, domain.DefaultFolders())
	if err != nil || migrated != 0 {
		t.Errorf("repeat MigrateLegacy = %d/%v, want 0/nil", migrated, err)
	}
}
