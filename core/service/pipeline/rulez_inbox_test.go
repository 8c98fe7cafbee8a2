package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"mailrulez/config"
	"mailrulez/core/domain"
	"mailrulez/core/port/out"
	"mailrulez/core/service/lists"
	"mailrulez/core/service/retention"
	"mailrulez/core/service/rules"
)

// memMailbox is an in-memory out.Mailbox for pipeline tests.
type memMailbox struct {
	folders map[string][]domain.MessageMeta
	read    map[uint32]bool
	moves   int
	deletes int
}

func newMemMailbox() *memMailbox {
	return &memMailbox{
		folders: make(map[string][]domain.MessageMeta),
		read:    make(map[uint32]bool),
	}
}

func (m *memMailbox) put(folder string, msgs ...domain.MessageMeta) {
	m.folders[folder] = append(m.folders[folder], msgs...)
}

func (m *memMailbox) SelectFolder(ctx context.Context, folder string) (int, error) {
	return len(m.folders[folder]), nil
}

func (m *memMailbox) ListFolders(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(m.folders))
	for name := range m.folders {
		names = append(names, name)
	}
	return names, nil
}

func (m *memMailbox) FetchHeaders(ctx context.Context, folder string, limit int) ([]domain.MessageMeta, error) {
	msgs := m.folders[folder]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]domain.MessageMeta, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *memMailbox) FetchOlderThan(ctx context.Context, folder string, cutoff time.Time, max int) ([]domain.MessageMeta, error) {
	var out []domain.MessageMeta
	for _, msg := range m.folders[folder] {
		if msg.Date.Before(cutoff) {
			out = append(out, msg)
		}
		if max > 0 && len(out) == max {
			break
		}
	}
	return out, nil
}

func (m *memMailbox) remove(folder string, uids []uint32) []domain.MessageMeta {
	drop := make(map[uint32]bool, len(uids))
	for _, uid := range uids {
		drop[uid] = true
	}
	var removed []domain.MessageMeta
	kept := m.folders[folder][:0]
	for _, msg := range m.folders[folder] {
		if drop[msg.UID] {
			removed = append(removed, msg)
		} else {
			kept = append(kept, msg)
		}
	}
	m.folders[folder] = kept
	return removed
}

func (m *memMailbox) Move(ctx context.Context, folder string, uids []uint32, dest string) error {
	m.moves++
	m.folders[dest] = append(m.folders[dest], m.remove(folder, uids)...)
	return nil
}

func (m *memMailbox) MoveWithLabels(ctx context.Context, folder string, uids []uint32, dest string) (*out.MoveResult, error) {
	if err := m.Move(ctx, folder, uids, dest); err != nil {
		return nil, err
	}
	return &out.MoveResult{Moved: len(uids)}, nil
}

func (m *memMailbox) Delete(ctx context.Context, folder string, uids []uint32) error {
	m.deletes++
	m.remove(folder, uids)
	return nil
}

func (m *memMailbox) MarkRead(ctx context.Context, folder string, uids []uint32) error {
	for _, uid := range uids {
		m.read[uid] = true
	}
	return nil
}

func (m *memMailbox) EnsureFolder(ctx context.Context, folder string) error { return nil }

func (m *memMailbox) CountMessages(ctx context.Context, folder string) (int, error) {
	return len(m.folders[folder]), nil
}

func (m *memMailbox) Close() error { return nil }

func testService(t *testing.T) (*Service, *lists.Store, *rules.Engine, *retention.PolicyStore) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		DataDir:    dir,
		ListsDir:   filepath.Join(dir, "lists"),
		ConfigDir:  filepath.Join(dir, "config"),
		BackupsDir: filepath.Join(dir, "backups"),
	}
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	listStore := lists.NewStore(cfg)
	ruleEngine, err := rules.NewEngine(cfg.RulesPath())
	if err != nil {
		t.Fatal(err)
	}
	audit := retention.NewAuditLogger(cfg.AuditLogPath())
	policies, err := retention.NewPolicyStore(cfg.RetentionPoliciesPath(), audit)
	if err != nil {
		t.Fatal(err)
	}
	return NewService(cfg, listStore, ruleEngine, policies), listStore, ruleEngine, policies
}

func inboxMsg(uid uint32, sender string) domain.MessageMeta {
	return domain.MessageMeta{
		UID:     uid,
		Sender:  sender,
		Subject: fmt.Sprintf("message %d", uid),
		Date:    time.Now().UTC(),
		Folder:  "INBOX",
	}
}

// TestProcessInboxStartup tests list dispatch in startup mode.
func TestProcessInboxStartup(t *testing.T) {
	svc, listStore, _, _ := testService(t)
	account := &domain.Account{Email: "a@company.com"}
	ctx := context.Background()

	for list, addr := range map[string]string{
		"white":  "friend@x.com",
		"black":  "spammer@x.com",
		"vendor": "ads@shop.com",
	} {
		if err := listStore.Add(list, addr); err != nil {
			t.Fatal(err)
		}
	}

	mbox := newMemMailbox()
	mbox.put("INBOX",
		inboxMsg(1, "Friend <friend@x.com>"),
		inboxMsg(2, "spammer@x.com"),
		inboxMsg(3, "ads@shop.com"),
		inboxMsg(4, "stranger@x.com"),
	)

	result, err := svc.ProcessInbox(ctx, mbox, account, 0, false)
	if err != nil {
		t.Fatalf("ProcessInbox failed: %v", err)
	}
	if !result.Success {
		t.Errorf("result not successful: %+v", result)
	}
	if result.EmailsProcessed != 4 {
		t.Errorf("EmailsProcessed = %d, want 4", result.EmailsProcessed)
	}

	checks := map[string]uint32{
		"INBOX.Processed":    1,
		"INBOX.Junk":         2,
		"INBOX.Approved_Ads": 3,
		"INBOX.Pending":      4,
	}
	for folder, uid := range checks {
		msgs := mbox.folders[folder]
		if len(msgs) != 1 || msgs[0].UID != uid {
			t.Errorf("%s = %v, want uid %d", folder, msgs, uid)
		}
	}
	if len(mbox.folders["INBOX"]) != 0 {
		t.Errorf("INBOX still holds %d messages", len(mbox.folders["INBOX"]))
	}
	if result.InboxRemaining != 0 || result.HasMore {
		t.Errorf("remaining/hasMore = %d/%v", result.InboxRemaining, result.HasMore)
	}
	if result.Categories["whitelisted"] != 1 || result.Categories["pending"] != 1 {
		t.Errorf("categories = %v", result.Categories)
	}
}

// TestProcessInboxMaintenanceKeepsWhitelisted tests that whitelisted mail
// stays in the inbox during maintenance.
func TestProcessInboxMaintenanceKeepsWhitelisted(t *testing.T) {
	svc, listStore, _, _ := testService(t)
	account := &domain.Account{Email: "a@company.com"}
	if err := listStore.Add("white", "friend@x.com"); err != nil {
		t.Fatal(err)
	}

	mbox := newMemMailbox()
	mbox.put("INBOX", inboxMsg(1, "friend@x.com"), inboxMsg(2, "stranger@x.com"))

	result, err := svc.ProcessInbox(context.Background(), mbox, account, 0, true)
	if err != nil {
		t.Fatalf("ProcessInbox failed: %v", err)
	}
	if len(mbox.folders["INBOX"]) != 1 || mbox.folders["INBOX"][0].UID != 1 {
		t.Errorf("INBOX = %v, want only the whitelisted message", mbox.folders["INBOX"])
	}
	if len(mbox.folders["INBOX.Pending"]) != 1 {
		t.Error("unknown sender not routed to pending")
	}
	if result.Categories["whitelisted"] != 1 {
		t.Errorf("categories = %v", result.Categories)
	}
	if result.InboxRemaining != 1 || !result.HasMore {
		t.Errorf("remaining/hasMore = %d/%v", result.InboxRemaining, result.HasMore)
	}
}

// TestProcessInboxRulesBeforeLists tests that rule-handled messages skip
// list dispatch and that list/mark-read actions fire.
func TestProcessInboxRulesBeforeLists(t *testing.T) {
	svc, listStore, ruleEngine, policies := testService(t)
	account := &domain.Account{Email: "a@company.com"}
	ctx := context.Background()

	// The sender is whitelisted AND matched by a rule; the rule wins.
	if err := listStore.Add("white", "jobs@linkedin.com"); err != nil {
		t.Fatal(err)
	}
	if err := ruleEngine.Add(&domain.Rule{
		Name:       "LinkedIn",
		Active:     true,
		Priority:   10,
		Conditions: []domain.RuleCondition{{Type: domain.ConditionSenderDomain, Value: "linkedin.com"}},
		Actions: []domain.RuleAction{
			{Type: domain.ActionMoveToFolder, TargetFolder: "INBOX.LinkedIn", RetentionDays: 30, TrashRetentionDays: 7},
			{Type: domain.ActionAddToList, ListName: "white"},
			{Type: domain.ActionMarkRead},
		},
	}); err != nil {
		t.Fatal(err)
	}

	mbox := newMemMailbox()
	mbox.put("INBOX", inboxMsg(1, "jobs@linkedin.com"), inboxMsg(2, "stranger@x.com"))

	result, err := svc.ProcessInbox(ctx, mbox, account, 0, false)
	if err != nil {
		t.Fatalf("ProcessInbox failed: %v", err)
	}
	if len(mbox.folders["INBOX.LinkedIn"]) != 1 {
		t.Error("rule move did not happen")
	}
	if len(mbox.folders["INBOX.Processed"]) != 0 {
		t.Error("rule-handled message was also list-dispatched")
	}
	if !mbox.read[1] {
		t.Error("mark_read action did not fire")
	}
	if result.Categories["rules"] != 1 {
		t.Errorf("categories = %v", result.Categories)
	}

	// The retention-bearing rule got its policy auto-created.
	rule := ruleEngine.All()[0]
	if policies.PolicyByRuleID(rule.ID) == nil {
		t.Error("rule retention policy not ensured")
	}
}

// TestProcessInboxLegacyVendorPurge tests that old approved ads are purged
// in startup mode only.
func TestProcessInboxLegacyVendorPurge(t *testing.T) {
	svc, listStore, _, _ := testService(t)
	account := &domain.Account{Email: "a@company.com"}
	if err := listStore.Add("vendor", "ads@shop.com"); err != nil {
		t.Fatal(err)
	}

	old := inboxMsg(99, "ads@shop.com")
	old.Date = time.Now().UTC().AddDate(0, 0, -60)

	mbox := newMemMailbox()
	mbox.put("INBOX.Approved_Ads", old)
	mbox.put("INBOX", inboxMsg(1, "ads@shop.com"))

	if _, err := svc.ProcessInbox(context.Background(), mbox, account, 0, false); err != nil {
		t.Fatal(err)
	}
	for _, msg := range mbox.folders["INBOX.Approved_Ads"] {
		if msg.UID == 99 {
			t.Error("60 day old ad survived the 30 day legacy purge")
		}
	}
	if len(mbox.folders["INBOX.Approved_Ads"]) != 1 {
		t.Errorf("approved ads = %v", mbox.folders["INBOX.Approved_Ads"])
	}

	// Maintenance passes never purge.
	mbox2 := newMemMailbox()
	old2 := inboxMsg(98, "ads@shop.com")
	old2.Date = time.Now().UTC().AddDate(0, 0, -60)
	mbox2.put("INBOX.Approved_Ads", old2)
	if _, err := svc.ProcessInbox(context.Background(), mbox2, account, 0, true); err != nil {
		t.Fatal(err)
	}
	if len(mbox2.folders["INBOX.Approved_Ads"]) != 1 {
		t.Error("maintenance pass ran the legacy purge")
	}
}

// TestProcessInboxBatch tests the before/after arithmetic of the manual
// batch.
func TestProcessInboxBatch(t *testing.T) {
	svc, _, _, _ := testService(t)
	account := &domain.Account{Email: "a@company.com"}

	mbox := newMemMailbox()
	for uid := uint32(1); uid <= 5; uid++ {
		mbox.put("INBOX", inboxMsg(uid, fmt.Sprintf("s%d@x.com", uid)))
	}

	result, err := svc.ProcessInboxBatch(context.Background(), mbox, account, 3)
	if err != nil {
		t.Fatalf("ProcessInboxBatch failed: %v", err)
	}
	if result.EmailsProcessed != 3 {
		t.Errorf("EmailsProcessed = %d, want 3", result.EmailsProcessed)
	}
	if result.InboxRemaining != 2 || !result.HasMore {
		t.Errorf("remaining/hasMore = %d/%v", result.InboxRemaining, result.HasMore)
	}
}

// TestProcessTrainingFolders tests list learning and drain per training
// folder.
func TestProcessTrainingFolders(t *testing.T) {
	svc, listStore, _, _ := testService(t)
	account := &domain.Account{Email: "a@company.com"}
	ctx := context.Background()

	// One sender is already known; only the new one counts as added.
	if err := listStore.Add("white", "known@x.com"); err != nil {
		t.Fatal(err)
	}

	mbox := newMemMailbox()
	mbox.put("INBOX._whitelist", inboxMsg(1, "known@x.com"), inboxMsg(2, "new@x.com"))
	mbox.put("INBOX._blacklist", inboxMsg(3, "bad@x.com"))
	mbox.put("INBOX._vendor", inboxMsg(4, "ads@shop.com"))

	results := svc.ProcessTrainingFolders(ctx, mbox, account, false)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	byList := make(map[string]TrainingResult)
	for _, r := range results {
		byList[r.List] = r
	}

	if r := byList["white"]; r.SendersAdded != 1 || r.EmailsMoved != 2 {
		t.Errorf("white = %+v, want 1 added / 2 moved", r)
	}
	if r := byList["black"]; r.SendersAdded != 1 || r.EmailsMoved != 1 {
		t.Errorf("black = %+v", r)
	}
	if r := byList["vendor"]; r.SendersAdded != 1 || r.EmailsMoved != 1 {
		t.Errorf("vendor = %+v", r)
	}

	// Destinations: whitelist drains to the inbox, blacklist to junk,
	// vendor to approved ads.
	if len(mbox.folders["INBOX"]) != 2 {
		t.Errorf("INBOX = %v", mbox.folders["INBOX"])
	}
	if len(mbox.folders["INBOX.Junk"]) != 1 {
		t.Errorf("Junk = %v", mbox.folders["INBOX.Junk"])
	}
	if len(mbox.folders["INBOX.Approved_Ads"]) != 1 {
		t.Errorf("Approved_Ads = %v", mbox.folders["INBOX.Approved_Ads"])
	}
	for _, folder := range []string{"INBOX._whitelist", "INBOX._blacklist", "INBOX._vendor"} {
		if len(mbox.folders[folder]) != 0 {
			t.Errorf("%s not drained", folder)
		}
	}

	if !listStore.Contains("black", "bad@x.com") {
		t.Error("blacklist training did not learn the sender")
	}

	// Empty folders are quiet no-ops.
	again := svc.ProcessTrainingFolders(ctx, mbox, account, false)
	for _, r := range again {
		if r.Error != "" || r.EmailsMoved != 0 {
			t.Errorf("repeat pass = %+v", r)
		}
	}
}

// TestProcessTrainingFoldersManual tests that a manual batch files trained
// whitelist mail into the processed folder instead of the inbox.
func TestProcessTrainingFoldersManual(t *testing.T) {
	svc, _, _, _ := testService(t)
	account := &domain.Account{Email: "a@company.com"}

	mbox := newMemMailbox()
	mbox.put("INBOX._whitelist", inboxMsg(1, "friend@x.com"))
	mbox.put("INBOX._blacklist", inboxMsg(2, "bad@x.com"))

	results := svc.ProcessTrainingFolders(context.Background(), mbox, account, true)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	if len(mbox.folders["INBOX"]) != 0 {
		t.Errorf("INBOX = %v, want whitelist mail filed elsewhere", mbox.folders["INBOX"])
	}
	if len(mbox.folders["INBOX.Processed"]) != 1 {
		t.Errorf("Processed = %v, want the trained whitelist message", mbox.folders["INBOX.Processed"])
	}
	if len(mbox.folders["INBOX.Junk"]) != 1 {
		t.Errorf("Junk = %v, want the blacklist message", mbox.folders["INBOX.Junk"])
	}
}
