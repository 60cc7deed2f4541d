package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bulpan/YEO.PE-sub001/idcode"
	"github.com/bulpan/YEO.PE-sub001/server/user"
)

func issuerUnderTest(t *testing.T) (*Issuer, *MemoryStore, *user.MemoryStore, user.User) {
	t.Helper()
	users := user.NewMemoryStore()
	u, err := users.AddNew("alice")
	if err != nil {
		t.Fatalf("AddNew: %v", err)
	}
	store := NewMemoryStore()
	iss := NewIssuer(store, users, 24*time.Hour, time.Hour)
	return iss, store, users, u
}

func TestIssueMintsValidCode(t *testing.T) {
	iss, store, _, u := issuerUnderTest(t)
	ctx := context.Background()

	id, err := iss.IssueOrRefresh(ctx, u.ID)
	if err != nil {
		t.Fatalf("IssueOrRefresh: %v", err)
	}
	if !idcode.Valid(id.Code) {
		t.Errorf("minted code %q is not well formed", id.Code)
	}
	if id.UserID != u.ID {
		t.Errorf("identity bound to %q, want %q", id.UserID, u.ID)
	}
	if got := id.ExpiresAt.Sub(id.IssuedAt); got != 24*time.Hour {
		t.Errorf("lifetime = %s, want 24h", got)
	}

	resolved, ok, err := store.Resolve(ctx, id.Code)
	if err != nil || !ok {
		t.Fatalf("fresh code must resolve, ok=%v err=%v", ok, err)
	}
	if resolved.UserID != u.ID {
		t.Errorf("resolved to %q", resolved.UserID)
	}
}

func TestIssueIsStableWhileValid(t *testing.T) {
	iss, _, _, u := issuerUnderTest(t)
	ctx := context.Background()

	first, err := iss.IssueOrRefresh(ctx, u.ID)
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	second, err := iss.IssueOrRefresh(ctx, u.ID)
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}
	if first.Code != second.Code {
		t.Errorf("repeat fetch minted a new code: %q then %q", first.Code, second.Code)
	}
}

func TestIssueRefreshesNearExpiry(t *testing.T) {
	iss, store, _, u := issuerUnderTest(t)
	ctx := context.Background()

	first, err := iss.IssueOrRefresh(ctx, u.ID)
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}

	// 30 minutes before expiry: inside the refresh-ahead window.
	later := first.ExpiresAt.Add(-30 * time.Minute)
	iss.SetClock(func() time.Time { return later })
	store.SetClock(func() time.Time { return later })

	second, err := iss.IssueOrRefresh(ctx, u.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.Code == first.Code {
		t.Fatal("near-expiry fetch must mint a new code")
	}

	// Single active code per user: the superseded one stops resolving.
	if _, ok, _ := store.Resolve(ctx, first.Code); ok {
		t.Error("superseded code still resolves")
	}
	if _, ok, _ := store.Resolve(ctx, second.Code); !ok {
		t.Error("fresh code does not resolve")
	}
}

func TestRotateInvalidatesImmediately(t *testing.T) {
	iss, store, _, u := issuerUnderTest(t)
	ctx := context.Background()

	first, err := iss.IssueOrRefresh(ctx, u.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	rotated, err := iss.Rotate(ctx, u.ID)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.Code == first.Code {
		t.Fatal("rotate must always mint")
	}
	if _, ok, _ := store.Resolve(ctx, first.Code); ok {
		t.Error("rotated-away code still resolves")
	}
}

func TestExpiredCodeStopsResolving(t *testing.T) {
	iss, store, _, u := issuerUnderTest(t)
	ctx := context.Background()

	id, err := iss.IssueOrRefresh(ctx, u.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	after := id.ExpiresAt.Add(time.Minute)
	store.SetClock(func() time.Time { return after })

	if _, ok, _ := store.Resolve(ctx, id.Code); ok {
		t.Error("expired code still resolves")
	}
	if _, ok, _ := store.ActiveForUser(ctx, u.ID); ok {
		t.Error("expired identity still reported active")
	}
}

func TestIssueUnknownUser(t *testing.T) {
	iss, _, _, _ := issuerUnderTest(t)
	if _, err := iss.IssueOrRefresh(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIssueSuspendedUser(t *testing.T) {
	iss, _, users, u := issuerUnderTest(t)
	users.SetSuspended(u.ID, true)

	if _, err := iss.IssueOrRefresh(context.Background(), u.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := iss.Rotate(context.Background(), u.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("rotate: expected ErrForbidden, got %v", err)
	}
}
