package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"botflow/internal/domain"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), slog.Default())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testUser(identity string) *domain.User {
	return &domain.User{
		Identity:    identity,
		UserID:      "42",
		Service:     domain.ServiceTelegram,
		ViaInstance: "tg-main",
		FirstName:   "Ada",
		Language:    "en",
		Type:        domain.AccountCommon,
		Permission:  domain.PermissionDefault,
		States:      []string{"ENDState"},
		Context:     map[string]any{},
		Answers:     map[string]any{},
		Files:       map[string]any{},
	}
}

func TestUserRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u := testUser("id-1")
	u.States = []string{"StartState", "QAState"}
	u.Answers["mood"] = "fine"
	u.Context["qa_position"] = "m7"

	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetUser(ctx, "id-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("user not found after create")
	}
	if got.FirstName != "Ada" || got.Service != domain.ServiceTelegram {
		t.Fatalf("profile mismatch: %+v", got)
	}
	if len(got.States) != 2 || got.States[1] != "QAState" {
		t.Fatalf("states mismatch: %v", got.States)
	}
	if got.Answers["mood"] != "fine" {
		t.Fatalf("answers mismatch: %v", got.Answers)
	}
	if got.Context["qa_position"] != "m7" {
		t.Fatalf("context mismatch: %v", got.Context)
	}
}

func TestGetUserMissing(t *testing.T) {
	s := testStore(t)
	got, err := s.GetUser(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown identity, got %+v", got)
	}
}

func TestCommitUpdatesRecord(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u := testUser("id-2")
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	u.Language = "ru"
	u.Permission = domain.PermissionBroadcaster
	u.States = append(u.States, "QAState")
	if err := s.CommitUser(ctx, u); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := s.GetUser(ctx, "id-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Language != "ru" || got.Permission != domain.PermissionBroadcaster {
		t.Fatalf("commit lost changes: %+v", got)
	}
	if got.LastState() != "QAState" {
		t.Fatalf("states not committed: %v", got.States)
	}
}

func TestAppendUserState(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u := testUser("id-3")
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.AppendUserState(ctx, "id-3", "CheckBackState"); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, _ := s.GetUser(ctx, "id-3")
	if got.LastState() != "CheckBackState" {
		t.Fatalf("appended state missing: %v", got.States)
	}
}

func TestMatchUsers(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	en := testUser("id-en")
	ru := testUser("id-ru")
	ru.Language = "ru"
	fb := testUser("id-fb")
	fb.Service = domain.ServiceFacebook
	for _, u := range []*domain.User{en, ru, fb} {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, err := s.MatchUsers(ctx, []domain.UserCond{{Field: "language", Op: "=", Value: "ru"}})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(got) != 1 || got[0].Identity != "id-ru" {
		t.Fatalf("language match: %+v", got)
	}

	got, err = s.MatchUsers(ctx, []domain.UserCond{{Field: "language", Op: "=", Value: "ru", Invert: true}})
	if err != nil {
		t.Fatalf("match invert: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("inverted match should find 2 users, got %d", len(got))
	}

	got, err = s.MatchUsers(ctx, []domain.UserCond{{Field: "service", Op: "{", Value: []any{domain.ServiceFacebook, domain.ServiceWebsite}}})
	if err != nil {
		t.Fatalf("match in: %v", err)
	}
	if len(got) != 1 || got[0].Identity != "id-fb" {
		t.Fatalf("in-list match: %+v", got)
	}

	if _, err := s.MatchUsers(ctx, []domain.UserCond{{Field: "states", Op: "=", Value: "x"}}); err == nil {
		t.Fatal("non-whitelisted field must be rejected")
	}
}

func TestCheckbackLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Now().Add(time.Hour).Truncate(time.Second)
	cb := &domain.CheckBack{
		Identity: "id-1",
		Context: &domain.Request{
			ServiceIn:   domain.ServiceTelegram,
			ViaInstance: "tg-main",
			User:        domain.UserInfo{UserID: "42"},
			Chat:        domain.Chat{ChatID: "c1"},
			Message:     domain.Message{Text: domain.PlainText("how are you feeling?")},
		},
		SendAt: base,
	}
	if err := s.CreateCheckback(ctx, cb); err != nil {
		t.Fatalf("create: %v", err)
	}
	if cb.ID == 0 {
		t.Fatal("created checkback has no id")
	}

	count, due, err := s.CheckbacksInRange(ctx, base.Add(-time.Minute), base.Add(time.Minute))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 due checkback, got %d", count)
	}
	if got := due[0].Context.Message.Text.String(); got != "how are you feeling?" {
		t.Fatalf("payload round trip: %q", got)
	}

	if count, _, _ := s.CheckbacksInRange(ctx, base.Add(time.Minute), base.Add(2*time.Minute)); count != 0 {
		t.Fatalf("out-of-range query found %d", count)
	}

	if err := s.RemoveCheckback(ctx, cb.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if count, _, _ := s.CheckbacksInRange(ctx, base.Add(-time.Minute), base.Add(time.Minute)); count != 0 {
		t.Fatalf("removed checkback still due: %d", count)
	}
}

func TestBroadcastLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	payload := &domain.Request{
		ServiceIn:   domain.ServiceTelegram,
		ViaInstance: "tg-main",
		User:        domain.UserInfo{UserID: "42"},
		Chat:        domain.Chat{ChatID: "c1"},
		Message:     domain.Message{Text: domain.PlainText("maintenance tonight")},
	}
	if err := s.CreateBroadcast(ctx, payload); err != nil {
		t.Fatalf("create: %v", err)
	}

	count, pending, err := s.PendingBroadcasts(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 pending broadcast, got %d", count)
	}
	if got := pending[0].Context.Message.Text.String(); got != "maintenance tonight" {
		t.Fatalf("payload round trip: %q", got)
	}

	if err := s.RemoveBroadcast(ctx, pending[0].ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if count, _, _ := s.PendingBroadcasts(ctx); count != 0 {
		t.Fatalf("removed broadcast still pending: %d", count)
	}
}

func TestSessions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	session := &domain.ChannelSession{
		Name:      "tg-main",
		Token:     "tok",
		URL:       "https://frontend.example/api",
		Broadcast: "chan-1",
	}
	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetSession(ctx, "tg-main")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.URL != session.URL || got.Broadcast != "chan-1" {
		t.Fatalf("session mismatch: %+v", got)
	}

	all, err := s.ChannelSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 session, got %d", len(all))
	}

	if missing, _ := s.GetSession(ctx, "nope"); missing != nil {
		t.Fatalf("expected nil for unknown session, got %+v", missing)
	}
}

func TestTranslations(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	items := []*domain.Translation{
		{Language: "ru", StringKey: "welcome", ContentHash: "h1", Text: "привет"},
		{Language: "ru", StringKey: "thanks", ContentHash: "h2", Text: "спасибо"},
	}
	if err := s.SaveTranslations(ctx, items); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.QueryTranslations(ctx, "ru", []string{"welcome", "missing"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].Text != "привет" {
		t.Fatalf("query result: %+v", got)
	}

	// Upsert replaces on conflicting key.
	items[0].Text = "здравствуйте"
	items[0].ContentHash = "h3"
	if err := s.SaveTranslations(ctx, items[:1]); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = s.QueryTranslations(ctx, "ru", []string{"welcome"})
	if len(got) != 1 || got[0].Text != "здравствуйте" || got[0].ContentHash != "h3" {
		t.Fatalf("upsert result: %+v", got)
	}
}

func TestWebToken(t *testing.T) {
	s := testStore(t)
	token, err := s.CreateWebToken(context.Background(), "id-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(token) != 40 {
		t.Fatalf("token length: %d", len(token))
	}
}
