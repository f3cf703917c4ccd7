package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "panel.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func mustUpsert(t *testing.T, st *Store, name string, status Status) {
	t.Helper()
	if err := st.UpsertSession(context.Background(), name, status); err != nil {
		t.Fatalf("upsert %q: %v", name, err)
	}
}

func TestUpsertSessionLastWriteWins(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	mustUpsert(t, st, "alpha", StatusDisconnected)
	first, err := st.GetSession(ctx, "alpha")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}

	mustUpsert(t, st, "alpha", StatusQRPending)
	mustUpsert(t, st, "alpha", StatusConnected)

	got, err := st.GetSession(ctx, "alpha")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != StatusConnected {
		t.Errorf("status = %q, want %q", got.Status, StatusConnected)
	}
	if got.ID != first.ID {
		t.Errorf("id changed across upserts: %d != %d", got.ID, first.ID)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed across upserts: %v != %v", got.CreatedAt, first.CreatedAt)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	st := openTestStore(t)

	_, err := st.GetSession(context.Background(), "ghost")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	mustUpsert(t, st, "one", StatusDisconnected)
	mustUpsert(t, st, "two", StatusDisconnected)
	mustUpsert(t, st, "three", StatusConnected)

	sessions, err := st.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("len = %d, want 3", len(sessions))
	}
	if sessions[0].Name != "three" || sessions[2].Name != "one" {
		t.Errorf("unexpected order: %q, %q, %q", sessions[0].Name, sessions[1].Name, sessions[2].Name)
	}
}

func TestAppendAndListMessages(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	mustUpsert(t, st, "alpha", StatusConnected)

	first, err := st.AppendMessage(ctx, "alpha", "6281234567890", "hello", MessageSent)
	if err != nil {
		t.Fatalf("append message: %v", err)
	}
	if first.ID == 0 || first.SessionID == 0 {
		t.Errorf("expected ids to be assigned, got %+v", first)
	}
	if _, err := st.AppendMessage(ctx, "alpha", "6281234567890", "again", MessageFailed); err != nil {
		t.Fatalf("append message: %v", err)
	}

	messages, err := st.ListMessages(ctx, "alpha")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("len = %d, want 2", len(messages))
	}
	if messages[0].Message != "again" || messages[0].Status != MessageFailed {
		t.Errorf("newest first expected, got %+v", messages[0])
	}

	count, err := st.CountMessages(ctx, "alpha")
	if err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestAppendMessageUnknownSession(t *testing.T) {
	st := openTestStore(t)

	_, err := st.AppendMessage(context.Background(), "ghost", "62812", "hello", MessageSent)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestMessagesKeepDurableSessionID(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	mustUpsert(t, st, "alpha", StatusConnected)
	sess, err := st.GetSession(ctx, "alpha")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if _, err := st.AppendMessage(ctx, "alpha", "62812", "hello", MessageSent); err != nil {
		t.Fatalf("append message: %v", err)
	}

	// A later status change must not re-key the message log.
	mustUpsert(t, st, "alpha", StatusDisconnected)
	messages, err := st.ListMessages(ctx, "alpha")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 1 || messages[0].SessionID != sess.ID {
		t.Fatalf("message log lost its session link: %+v", messages)
	}
}

func TestDeleteSessionKeepsMessages(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	mustUpsert(t, st, "alpha", StatusConnected)
	if _, err := st.AppendMessage(ctx, "alpha", "62812", "hello", MessageSent); err != nil {
		t.Fatalf("append message: %v", err)
	}

	if err := st.DeleteSession(ctx, "alpha"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, err := st.GetSession(ctx, "alpha"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session still present after delete: %v", err)
	}

	all, err := st.ListAllMessages(ctx)
	if err != nil {
		t.Fatalf("list all messages: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("message log should survive session deletion, got %d records", len(all))
	}

	if err := st.DeleteSession(ctx, "alpha"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second delete err = %v, want ErrSessionNotFound", err)
	}
}

func TestRoutingRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.SaveRouting(ctx, "alpha", "6281234567890.0:1@s.whatsapp.net"); err != nil {
		t.Fatalf("save routing: %v", err)
	}
	jid, ok, err := st.GetRouting(ctx, "alpha")
	if err != nil || !ok {
		t.Fatalf("get routing: ok=%v err=%v", ok, err)
	}
	if jid != "6281234567890.0:1@s.whatsapp.net" {
		t.Errorf("jid = %q", jid)
	}

	// Relinking overwrites the stored device.
	if err := st.SaveRouting(ctx, "alpha", "628999.0:2@s.whatsapp.net"); err != nil {
		t.Fatalf("save routing: %v", err)
	}
	routings, err := st.ListRoutings(ctx)
	if err != nil {
		t.Fatalf("list routings: %v", err)
	}
	if len(routings) != 1 || routings["alpha"] != "628999.0:2@s.whatsapp.net" {
		t.Errorf("routings = %v", routings)
	}

	if err := st.DeleteRouting(ctx, "alpha"); err != nil {
		t.Fatalf("delete routing: %v", err)
	}
	if _, ok, _ := st.GetRouting(ctx, "alpha"); ok {
		t.Error("routing still present after delete")
	}
}

func TestListSessionsOrdersSubSecondTimestamps(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	mustUpsert(t, st, "earlier", StatusDisconnected)
	mustUpsert(t, st, "later", StatusDisconnected)

	// 100ms vs 120ms within the same second; a variable-width fractional
	// format would sort these backwards.
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	stamps := map[string]time.Time{
		"earlier": base.Add(100 * time.Millisecond),
		"later":   base.Add(120 * time.Millisecond),
	}
	for name, ts := range stamps {
		if _, err := st.db.ExecContext(ctx, `UPDATE sessions SET created_at = ? WHERE name = ?`, formatTime(ts), name); err != nil {
			t.Fatalf("set created_at for %q: %v", name, err)
		}
	}

	sessions, err := st.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len = %d, want 2", len(sessions))
	}
	if sessions[0].Name != "later" || sessions[1].Name != "earlier" {
		t.Errorf("order = [%q, %q], want newest first", sessions[0].Name, sessions[1].Name)
	}
	if !sessions[0].CreatedAt.Equal(stamps["later"]) {
		t.Errorf("created_at round trip = %v, want %v", sessions[0].CreatedAt, stamps["later"])
	}
}
