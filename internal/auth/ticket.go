// Package auth issues and redeems the one-time connect tickets that gate
// realtime connections.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Identity is the authenticated user a ticket resolves to.
type Identity struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserEmail string `json:"userEmail"`
}

var ErrInvalidTicket = errors.New("invalid or expired ticket")

// TicketStore holds short-lived connect tickets in Redis. A ticket is minted
// by the REST surface for an already-authenticated user and redeemed exactly
// once when the realtime connection is established.
type TicketStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewTicketStore(redisURL string, ttl time.Duration) (*TicketStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewTicketStoreWithClient(client, ttl), nil
}

// NewTicketStoreWithClient creates a store from an existing Redis client.
func NewTicketStoreWithClient(client *redis.Client, ttl time.Duration) *TicketStore {
	return &TicketStore{
		client: client,
		prefix: "ticket:",
		ttl:    ttl,
	}
}

func (s *TicketStore) key(ticketHash string) string {
	return s.prefix + ticketHash
}

// Issue mints a new one-time ticket for the identity. Only the SHA-256 hash
// of the ticket is stored.
func (s *TicketStore) Issue(ctx context.Context, identity Identity) (string, error) {
	if identity.UserID == "" {
		return "", fmt.Errorf("identity requires a user id")
	}

	payload, err := json.Marshal(identity)
	if err != nil {
		return "", fmt.Errorf("marshal identity: %w", err)
	}

	ticket := newTicket()
	key := s.key(hashTicket(ticket))
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("save ticket: %w", err)
	}
	return ticket, nil
}

// Redeem resolves a ticket to its identity and consumes it; a second redeem
// of the same ticket fails.
func (s *TicketStore) Redeem(ctx context.Context, ticket string) (Identity, error) {
	key := s.key(hashTicket(ticket))
	payload, err := s.client.GetDel(ctx, key).Result()
	if err == redis.Nil {
		return Identity{}, ErrInvalidTicket
	}
	if err != nil {
		return Identity{}, fmt.Errorf("redeem ticket: %w", err)
	}

	var identity Identity
	if err := json.Unmarshal([]byte(payload), &identity); err != nil {
		return Identity{}, fmt.Errorf("unmarshal identity: %w", err)
	}
	return identity, nil
}

func (s *TicketStore) Close() error {
	return s.client.Close()
}

func (s *TicketStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func hashTicket(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func newTicket() string {
	bytes := make([]byte, 24)
	_, _ = rand.Read(bytes)
	return "fdt_" + hex.EncodeToString(bytes)
}
