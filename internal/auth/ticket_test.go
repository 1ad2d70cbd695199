package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTicketStore(t *testing.T, ttl time.Duration) (*TicketStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewTicketStore("redis://"+s.Addr(), ttl)
	if err != nil {
		t.Fatalf("failed to create ticket store: %v", err)
	}
	return store, s
}

func TestIssueAndRedeem(t *testing.T) {
	store, s := setupTicketStore(t, time.Minute)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	identity := Identity{UserID: "user-1", UserName: "Avery", UserEmail: "avery@example.com"}

	ticket, err := store.Issue(ctx, identity)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if ticket == "" {
		t.Fatal("expected a non-empty ticket")
	}

	redeemed, err := store.Redeem(ctx, ticket)
	if err != nil {
		t.Fatalf("Redeem failed: %v", err)
	}
	if redeemed != identity {
		t.Errorf("expected %+v, got %+v", identity, redeemed)
	}
}

func TestRedeemIsOneTime(t *testing.T) {
	store, s := setupTicketStore(t, time.Minute)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	ticket, err := store.Issue(ctx, Identity{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if _, err := store.Redeem(ctx, ticket); err != nil {
		t.Fatalf("first redeem failed: %v", err)
	}
	if _, err := store.Redeem(ctx, ticket); !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("second redeem must fail with ErrInvalidTicket, got %v", err)
	}
}

func TestRedeemExpiredTicket(t *testing.T) {
	store, s := setupTicketStore(t, time.Second)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	ticket, err := store.Issue(ctx, Identity{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	s.FastForward(2 * time.Second)

	if _, err := store.Redeem(ctx, ticket); !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("expected ErrInvalidTicket for an expired ticket, got %v", err)
	}
}

func TestRedeemUnknownTicket(t *testing.T) {
	store, s := setupTicketStore(t, time.Minute)
	defer store.Close()
	defer s.Close()

	if _, err := store.Redeem(context.Background(), "fdt_nope"); !errors.Is(err, ErrInvalidTicket) {
		t.Errorf("expected ErrInvalidTicket, got %v", err)
	}
}

func TestIssueRequiresUserID(t *testing.T) {
	store, s := setupTicketStore(t, time.Minute)
	defer store.Close()
	defer s.Close()

	if _, err := store.Issue(context.Background(), Identity{UserName: "nobody"}); err == nil {
		t.Error("expected an error for an identity without a user id")
	}
}
