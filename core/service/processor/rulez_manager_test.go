package processor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"mailrulez/core/domain"
)

func testManager(t *testing.T, dialer *procDialer, accounts ...*domain.Account) *Manager {
	t.Helper()
	cfg, pipe, _ := testPipeline(t, accounts...)
	return NewManager(cfg, dialer, pipe)
}

func acct(email string) *domain.Account {
	return &domain.Account{Name: email, Email: email, Server: "imap.company.com"}
}

// TestManagerLoadAccounts tests registry population from config.
func TestManagerLoadAccounts(t *testing.T) {
	dialer := &procDialer{mbox: newProcMailbox()}
	m := testManager(t, dialer, acct("a@company.com"), acct("b@company.com"))

	if m.Initialized() {
		t.Error("initialized before loading")
	}
	m.LoadAccountsFromConfig()
	if !m.Initialized() {
		t.Error("not initialized after loading")
	}

	// Lookup is case insensitive.
	status, err := m.AccountStatus("A@Company.COM")
	if err != nil {
		t.Fatalf("AccountStatus failed: %v", err)
	}
	if status.State != domain.StateStopped || status.Mode != domain.ModeStartup {
		t.Errorf("status = %+v", status)
	}

	if _, err := m.AccountStatus("missing@company.com"); err == nil {
		t.Error("expected error for unknown account")
	}

	var added int
	for _, event := range m.History(0) {
		if event.Event == EventAccountAdded {
			added++
		}
	}
	if added != 2 {
		t.Errorf("account_added events = %d, want 2", added)
	}
}

// TestManagerAddRemove tests explicit registration and removal.
func TestManagerAddRemove(t *testing.T) {
	dialer := &procDialer{mbox: newProcMailbox()}
	m := testManager(t, dialer)

	m.AddAccount(acct("a@company.com"))
	m.AddAccount(acct("A@COMPANY.COM"))
	m.mu.RLock()
	count := len(m.processors)
	m.mu.RUnlock()
	if count != 1 {
		t.Errorf("registered %d processors, want 1 for the same address", count)
	}

	m.RemoveAccount("a@company.com")
	m.mu.RLock()
	count = len(m.processors)
	m.mu.RUnlock()
	if count != 0 {
		t.Error("account not removed")
	}

	// Removing an unknown account records nothing.
	events := len(m.History(0))
	m.RemoveAccount("ghost@company.com")
	if len(m.History(0)) != events {
		t.Error("ghost removal recorded an event")
	}
}

// TestManagerRefreshAccounts tests reconciliation against the config.
func TestManagerRefreshAccounts(t *testing.T) {
	dialer := &procDialer{mbox: newProcMailbox()}
	m := testManager(t, dialer, acct("a@company.com"))
	m.LoadAccountsFromConfig()

	// Config change behind the manager's back.
	m.cfg.Accounts = []*domain.Account{acct("b@company.com")}
	result := m.RefreshAccountsFromConfig()
	if result.Before != 1 || result.After != 1 || result.Added != 1 || result.Removed != 1 {
		t.Errorf("refresh result = %+v, want one added and one removed", result)
	}

	if _, err := m.AccountStatus("b@company.com"); err != nil {
		t.Errorf("new account not picked up: %v", err)
	}
	m.mu.RLock()
	_, stale := m.processors["a@company.com"]
	m.mu.RUnlock()
	if stale {
		t.Error("vanished account still registered")
	}
}

// TestManagerStartStopAll tests the fleet lifecycle operations.
func TestManagerStartStopAll(t *testing.T) {
	dialer := &procDialer{mbox: newProcMailbox()}
	m := testManager(t, dialer, acct("a@company.com"), acct("b@company.com"))
	m.LoadAccountsFromConfig()

	results := m.StartAll(context.Background(), "")
	if len(results) != 2 {
		t.Fatalf("StartAll results = %v", results)
	}
	for email, outcome := range results {
		if outcome != "started" {
			t.Errorf("%s = %q, want started", email, outcome)
		}
	}

	statuses, mgr := m.StatusAll()
	if mgr.TotalAccounts != 2 || mgr.RunningAccounts != 2 || mgr.ErrorAccounts != 0 {
		t.Errorf("manager status = %+v", mgr)
	}
	if len(statuses) != 2 {
		t.Errorf("statuses = %v", statuses)
	}

	results = m.StopAll()
	for email, outcome := range results {
		if outcome != "stopped" {
			t.Errorf("%s = %q, want stopped", email, outcome)
		}
	}
	_, mgr = m.StatusAll()
	if mgr.RunningAccounts != 0 {
		t.Errorf("RunningAccounts = %d after StopAll", mgr.RunningAccounts)
	}
}

// TestManagerStartAccountFailure tests that a dial failure surfaces per
// account and counts as an error account.
func TestManagerStartAccountFailure(t *testing.T) {
	dialer := &procDialer{err: fmt.Errorf("connection refused")}
	m := testManager(t, dialer, acct("a@company.com"))
	m.LoadAccountsFromConfig()

	if err := m.StartAccount(context.Background(), "a@company.com", ""); err == nil {
		t.Fatal("StartAccount succeeded despite dial failure")
	}
	_, mgr := m.StatusAll()
	if mgr.ErrorAccounts != 1 {
		t.Errorf("ErrorAccounts = %d, want 1", mgr.ErrorAccounts)
	}

	results := m.StartAll(context.Background(), "")
	if results["a@company.com"] == "started" {
		t.Error("StartAll reported success for a failing account")
	}
}

// TestManagerAggregate tests fleet statistics before and after
// initialization.
func TestManagerAggregate(t *testing.T) {
	dialer := &procDialer{mbox: newProcMailbox()}
	m := testManager(t, dialer, acct("a@company.com"), acct("b@company.com"))

	m.AddAccount(acct("a@company.com"))
	agg := m.Aggregate()
	if agg.TotalAccounts != 1 {
		t.Errorf("TotalAccounts = %d, want 1", agg.TotalAccounts)
	}
	if agg.EmailsProcessed != 0 || agg.ErrorRate != 0 {
		t.Errorf("uninitialized aggregate = %+v, want zeros", agg)
	}

	m.LoadAccountsFromConfig()
	m.mu.RLock()
	pa := m.processors["a@company.com"]
	pb := m.processors["b@company.com"]
	m.mu.RUnlock()
	pa.stats = domain.ProcessorStats{EmailsProcessed: 80, EmailsPending: 5, Errors: 2, AvgProcessingTime: 2}
	pb.stats = domain.ProcessorStats{EmailsProcessed: 20, EmailsPending: 15, Errors: 3, AvgProcessingTime: 4}

	agg = m.Aggregate()
	if agg.TotalAccounts != 2 || agg.EmailsProcessed != 100 || agg.EmailsPending != 20 {
		t.Errorf("aggregate = %+v", agg)
	}
	if agg.TotalErrors != 5 || agg.ErrorRate != 0.05 {
		t.Errorf("errors = %d rate = %f, want 5 at 0.05", agg.TotalErrors, agg.ErrorRate)
	}
	if agg.AvgProcessingTime != 3 {
		t.Errorf("AvgProcessingTime = %f, want 3", agg.AvgProcessingTime)
	}
}

// TestManagerModeSwitch tests SwitchMode routing and history.
func TestManagerModeSwitch(t *testing.T) {
	dialer := &procDialer{mbox: newProcMailbox()}
	m := testManager(t, dialer, acct("a@company.com"))
	m.LoadAccountsFromConfig()

	if err := m.SwitchMode("a@company.com", domain.ModeMaintenance); err != nil {
		t.Fatalf("SwitchMode failed: %v", err)
	}
	status, _ := m.AccountStatus("a@company.com")
	if status.Mode != domain.ModeMaintenance {
		t.Errorf("mode = %s, want maintenance", status.Mode)
	}

	history := m.History(0)
	last := history[len(history)-1]
	if last.Event != EventModeSwitched || last.Details != string(domain.ModeMaintenance) {
		t.Errorf("last event = %+v", last)
	}

	if err := m.SwitchMode("missing@company.com", domain.ModeStartup); err == nil {
		t.Error("expected error for unknown account")
	}
}

// TestManagerAutoTransition tests the hourly check switching an eligible
// startup processor to maintenance.
func TestManagerAutoTransition(t *testing.T) {
	dialer := &procDialer{mbox: newProcMailbox()}
	m := testManager(t, dialer, acct("a@company.com"))
	m.LoadAccountsFromConfig()

	if err := m.StartAccount(context.Background(), "a@company.com", ""); err != nil {
		t.Fatalf("StartAccount failed: %v", err)
	}
	defer m.StopAll()

	m.mu.RLock()
	p := m.processors["a@company.com"]
	m.mu.RUnlock()
	p.mu.Lock()
	p.stats.EmailsProcessed = 1000
	p.stats.EmailsPending = 10
	p.stats.ModeStartTime = time.Now().UTC().Add(-15 * 24 * time.Hour)
	p.mu.Unlock()

	m.checkAutoTransitions()

	if p.State() != domain.StateRunningMaintenance {
		t.Errorf("state = %s, want running_maintenance", p.State())
	}
	history := m.History(0)
	last := history[len(history)-1]
	if last.Event != EventAutoTransition {
		t.Errorf("last event = %+v, want auto_transition", last)
	}
	_, mgr := m.StatusAll()
	if mgr.LastTransitionCheck == nil {
		t.Error("LastTransitionCheck not stamped")
	}
}

// TestManagerStartWithMode tests that a start request carrying a mode
// switches the processor before starting it.
func TestManagerStartWithMode(t *testing.T) {
	dialer := &procDialer{mbox: newProcMailbox()}
	m := testManager(t, dialer, acct("a@company.com"), acct("b@company.com"))
	m.LoadAccountsFromConfig()

	if err := m.StartAccount(context.Background(), "a@company.com", domain.ModeMaintenance); err != nil {
		t.Fatalf("StartAccount failed: %v", err)
	}
	defer m.StopAll()

	status, _ := m.AccountStatus("a@company.com")
	if status.Mode != domain.ModeMaintenance || status.State != domain.StateRunningMaintenance {
		t.Errorf("status = %s/%s, want maintenance running", status.Mode, status.State)
	}

	results := m.StartAll(context.Background(), domain.ModeMaintenance)
	if results["b@company.com"] != "started" {
		t.Errorf("StartAll = %v", results)
	}
	status, _ = m.AccountStatus("b@company.com")
	if status.Mode != domain.ModeMaintenance {
		t.Errorf("mode = %s, want maintenance after start-all", status.Mode)
	}
}

// TestManagerFolderOperations tests the per-account folder and inbox
// passthroughs.
func TestManagerFolderOperations(t *testing.T) {
	mbox := newProcMailbox()
	mbox.folders["INBOX.Pending"] = nil
	mbox.put("INBOX", procMsg(1, "a@x.com"))
	dialer := &procDialer{mbox: mbox}
	m := testManager(t, dialer, acct("a@company.com"))
	m.LoadAccountsFromConfig()

	status, err := m.FolderStatus(context.Background(), "a@company.com")
	if err != nil {
		t.Fatalf("FolderStatus failed: %v", err)
	}
	if len(status.Missing) == 0 {
		t.Error("expected missing folders on a fresh server")
	}

	created, err := m.CreateFolders(context.Background(), "a@company.com")
	if err != nil {
		t.Fatalf("CreateFolders failed: %v", err)
	}
	if len(created) == 0 {
		t.Error("no folders created")
	}

	count, err := m.InboxCount(context.Background(), "a@company.com")
	if err != nil {
		t.Fatalf("InboxCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("InboxCount = %d, want 1", count)
	}

	if _, err := m.FolderStatus(context.Background(), "missing@company.com"); err == nil {
		t.Error("expected error for unknown account")
	}
}

// TestManagerHistoryBounded tests the task history ring.
func TestManagerHistoryBounded(t *testing.T) {
	dialer := &procDialer{mbox: newProcMailbox()}
	m := testManager(t, dialer)

	for i := 0; i < maxTaskHistory+25; i++ {
		m.record("a@company.com", EventServiceStarted, fmt.Sprintf("%d", i))
	}
	history := m.History(0)
	if len(history) != maxTaskHistory {
		t.Fatalf("history length = %d, want %d", len(history), maxTaskHistory)
	}
	if history[0].Details != "25" {
		t.Errorf("oldest entry = %q, want 25", history[0].Details)
	}

	// A limit keeps only the newest entries.
	tail := m.History(10)
	if len(tail) != 10 {
		t.Fatalf("limited history length = %d, want 10", len(tail))
	}
	if tail[9].Details != history[len(history)-1].Details {
		t.Errorf("limited history tail = %q, want newest entry", tail[9].Details)
	}
}

// TestManagerShutdown tests that shutdown stops the loop and the fleet.
func TestManagerShutdown(t *testing.T) {
	dialer := &procDialer{mbox: newProcMailbox()}
	m := testManager(t, dialer, acct("a@company.com"))
	m.LoadAccountsFromConfig()
	m.Run()

	if err := m.StartAccount(context.Background(), "a@company.com", ""); err != nil {
		t.Fatalf("StartAccount failed: %v", err)
	}
	m.Shutdown()

	status, err := m.AccountStatus("a@company.com")
	if err != nil {
		t.Fatal(err)
	}
	if status.State != domain.StateStopped {
		t.Errorf("state after shutdown = %s, want stopped", status.State)
	}
}
