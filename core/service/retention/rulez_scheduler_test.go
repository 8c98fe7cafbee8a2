package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mailrulez/config"
	"mailrulez/core/domain"
)

func testScheduler(t *testing.T, mbox *fakeMailbox, accounts ...*domain.Account) (*Scheduler, *PolicyStore) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		DataDir:    dir,
		ListsDir:   filepath.Join(dir, "lists"),
		ConfigDir:  filepath.Join(dir, "config"),
		BackupsDir: filepath.Join(dir, "backups"),
		Accounts:   accounts,
	}
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	audit := NewAuditLogger(filepath.Join(dir, "audit.log"))
	store, err := NewPolicyStore(filepath.Join(dir, "retention_policies.json"), audit)
	if err != nil {
		t.Fatal(err)
	}
	trash := NewTrashManager(store, audit, newFakeMetaStore())
	executor := NewExecutor(store, trash, audit, &fakeDialer{mbox: mbox})
	return NewScheduler(cfg, store, executor, audit), store
}

// TestSchedulerShouldRun tests the hour gate and the once-a-day guard.
func TestSchedulerShouldRun(t *testing.T) {
	s, store := testScheduler(t, newFakeMailbox())

	hour := store.Global().SchedulerHour
	atHour := time.Date(2026, 8, 26, hour, 15, 0, 0, time.UTC)
	offHour := time.Date(2026, 8, 26, (hour+5)%24, 0, 0, 0, time.UTC)

	if !s.shouldRun(atHour) {
		t.Error("expected run at the configured hour")
	}
	if s.shouldRun(offHour) {
		t.Error("ran outside the configured hour")
	}

	// Already ran today.
	earlier := atHour.Add(-10 * time.Minute)
	s.lastExecution = &earlier
	if s.shouldRun(atHour) {
		t.Error("ran twice in one day")
	}

	// A run yesterday does not block today.
	yesterday := atHour.AddDate(0, 0, -1)
	s.lastExecution = &yesterday
	if !s.shouldRun(atHour) {
		t.Error("yesterday's run blocked today")
	}

	// Disabled scheduler never runs.
	if err := s.UpdateSchedule(hour, false); err != nil {
		t.Fatal(err)
	}
	s.lastExecution = nil
	if s.shouldRun(atHour) {
		t.Error("disabled scheduler still runs")
	}
}

// TestSchedulerEstimateNext tests the next-run estimate.
func TestSchedulerEstimateNext(t *testing.T) {
	s, _ := testScheduler(t, newFakeMailbox())

	now := time.Date(2026, 8, 26, 1, 0, 0, 0, time.UTC)
	next := s.estimateNext(now, 2)
	if next.Day() != 26 || next.Hour() != 2 {
		t.Errorf("next = %v, want today at 02:00", next)
	}

	// Past the hour rolls to tomorrow.
	later := time.Date(2026, 8, 26, 3, 0, 0, 0, time.UTC)
	next = s.estimateNext(later, 2)
	if next.Day() != 27 {
		t.Errorf("next = %v, want tomorrow", next)
	}

	// Already ran today rolls to tomorrow even before the hour.
	ran := time.Date(2026, 8, 26, 2, 1, 0, 0, time.UTC)
	s.lastExecution = &ran
	next = s.estimateNext(now, 2)
	if next.Day() != 27 {
		t.Errorf("next after today's run = %v, want tomorrow", next)
	}
}

// TestRunScheduledSkipsEnvAccount tests that the transient env account is
// excluded and stats accumulate.
func TestRunScheduledSkipsEnvAccount(t *testing.T) {
	mbox := newFakeMailbox("INBOX.Trash")
	mbox.put("INBOX.Junk", msgAged(1, 10))
	accounts := []*domain.Account{
		{Name: "personal", Email: "a@company.com", Server: "imap.company.com"},
		{Name: domain.EnvAccountName, Email: "env@company.com", Server: "imap.company.com"},
	}
	s, _ := testScheduler(t, mbox, accounts...)

	if err := s.runScheduled(); err != nil {
		t.Fatalf("runScheduled failed: %v", err)
	}

	status := s.Status()
	if status.Stats.TotalExecutions != 1 {
		t.Errorf("TotalExecutions = %d, want 1", status.Stats.TotalExecutions)
	}
	if status.Stats.SuccessfulExecutions != 1 {
		t.Errorf("SuccessfulExecutions = %d, want 1 (env account skipped)", status.Stats.SuccessfulExecutions)
	}
	if status.Stats.EmailsMovedToTrash != 1 {
		t.Errorf("EmailsMovedToTrash = %d, want 1", status.Stats.EmailsMovedToTrash)
	}
	if status.LastExecution == nil {
		t.Error("LastExecution not stamped")
	}

	entries, err := s.audit.Query(AuditFilter{OperationType: OpScheduledSummary})
	if err != nil || len(entries) != 1 {
		t.Fatalf("summary entries = %d/%v, want 1", len(entries), err)
	}
}

// TestRunManual tests the manual trigger with and without policy scoping.
func TestRunManual(t *testing.T) {
	mbox := newFakeMailbox("INBOX.Trash")
	mbox.put("INBOX.Junk", msgAged(1, 10))
	account := &domain.Account{Name: "personal", Email: "a@company.com", Server: "imap.company.com"}
	s, store := testScheduler(t, mbox, account)
	ctx := context.Background()

	if _, err := s.RunManual(ctx, "missing@x.com", "", false); err == nil {
		t.Error("expected error for unknown account")
	}
	if _, err := s.RunManual(ctx, "a@company.com", "no-such-policy", false); err == nil {
		t.Error("expected error for unknown policy")
	}

	// Scoped dry run: one stage 1 result plus the trash stage.
	results, err := s.RunManual(ctx, "a@company.com", "default-junk", true)
	if err != nil {
		t.Fatalf("scoped RunManual failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Stage != domain.StageMoveToTrash || results[0].EmailsAffected != 1 {
		t.Errorf("stage 1 result = %+v", results[0])
	}
	if len(mbox.folders["INBOX.Junk"]) != 1 {
		t.Error("dry run moved messages")
	}

	// Unscoped live run covers every active policy.
	results, err = s.RunManual(ctx, "a@company.com", "", false)
	if err != nil {
		t.Fatalf("unscoped RunManual failed: %v", err)
	}
	if len(results) != len(store.ActiveFolderPolicies())+1 {
		t.Errorf("got %d results, want %d", len(results), len(store.ActiveFolderPolicies())+1)
	}
	if len(mbox.folders["INBOX.Junk"]) != 0 {
		t.Error("live run left expired messages")
	}
}

// TestUpdateSchedule tests hour validation and persistence.
func TestUpdateSchedule(t *testing.T) {
	s, store := testScheduler(t, newFakeMailbox())

	if err := s.UpdateSchedule(24, true); err == nil {
		t.Error("expected error for hour 24")
	}
	if err := s.UpdateSchedule(-1, true); err == nil {
		t.Error("expected error for hour -1")
	}
	if err := s.UpdateSchedule(5, false); err != nil {
		t.Fatalf("UpdateSchedule failed: %v", err)
	}
	g := store.Global()
	if g.SchedulerHour != 5 || g.SchedulerEnabled {
		t.Errorf("global = %+v", g)
	}
	status := s.Status()
	if status.Enabled || status.ExecutionHour != 5 {
		t.Errorf("status = %+v", status)
	}
	if status.NextExecution != nil {
		t.Error("disabled scheduler still estimates a next run")
	}
}

// TestSchedulerStartStop tests idempotent lifecycle.
func TestSchedulerStartStop(t *testing.T) {
	s, store := testScheduler(t, newFakeMailbox())
	// Park the execution hour away from now so the loop stays idle.
	g := store.Global()
	g.SchedulerHour = (time.Now().Hour() + 12) % 24
	if err := store.UpdateGlobal(g); err != nil {
		t.Fatal(err)
	}

	s.Start()
	s.Start()
	if !s.Status().Running {
		t.Error("scheduler not running after Start")
	}
	s.Stop()
	s.Stop()
	if s.Status().Running {
		t.Error("scheduler running after Stop")
	}
}
