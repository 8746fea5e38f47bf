package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultProposalTTL is how long an unresolved proposal stays answerable.
const DefaultProposalTTL = 7 * 24 * time.Hour

// Tracker holds proposals until they are resolved or expire. Take removes
// atomically, so each proposal resolves at most once.
type Tracker interface {
	Put(ctx context.Context, p *Proposal, ttl time.Duration) error
	// Get reads without consuming; nil, nil when unknown or expired.
	Get(ctx context.Context, id string) (*Proposal, error)
	// Take returns nil, nil when the proposal is unknown, expired or already taken.
	Take(ctx context.Context, id string) (*Proposal, error)
}

const proposalKeyPrefix = "trust:proposal:"

// RedisTracker keeps proposals as JSON strings with a TTL.
type RedisTracker struct {
	client *redis.Client
}

// NewRedisTracker creates a RedisTracker.
func NewRedisTracker(client *redis.Client) *RedisTracker {
	return &RedisTracker{client: client}
}

func (t *RedisTracker) Put(ctx context.Context, p *Proposal, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("put proposal %s: %w", p.ID, err)
	}
	if err := t.client.Set(ctx, proposalKeyPrefix+p.ID, raw, ttl).Err(); err != nil {
		return fmt.Errorf("put proposal %s: %w", p.ID, err)
	}
	return nil
}

func (t *RedisTracker) Get(ctx context.Context, id string) (*Proposal, error) {
	p, err := decodeProposal(t.client.Get(ctx, proposalKeyPrefix+id).Bytes())
	if err != nil {
		return nil, fmt.Errorf("get proposal %s: %w", id, err)
	}
	return p, nil
}

func (t *RedisTracker) Take(ctx context.Context, id string) (*Proposal, error) {
	p, err := decodeProposal(t.client.GetDel(ctx, proposalKeyPrefix+id).Bytes())
	if err != nil {
		return nil, fmt.Errorf("take proposal %s: %w", id, err)
	}
	return p, nil
}

func decodeProposal(raw []byte, err error) (*Proposal, error) {
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p Proposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// MemoryTracker is the in-process Tracker used without Redis.
type MemoryTracker struct {
	mu    sync.Mutex
	items map[string]memoryProposal
	now   func() time.Time
}

type memoryProposal struct {
	p       Proposal
	expires time.Time
}

// NewMemoryTracker creates an empty MemoryTracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{items: make(map[string]memoryProposal), now: time.Now}
}

func (t *MemoryTracker) Put(_ context.Context, p *Proposal, ttl time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for id, item := range t.items {
		if now.After(item.expires) {
			delete(t.items, id)
		}
	}
	t.items[p.ID] = memoryProposal{p: *p, expires: now.Add(ttl)}
	return nil
}

func (t *MemoryTracker) Get(_ context.Context, id string) (*Proposal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[id]
	if !ok || t.now().After(item.expires) {
		return nil, nil
	}
	p := item.p
	return &p, nil
}

func (t *MemoryTracker) Take(_ context.Context, id string) (*Proposal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[id]
	if !ok {
		return nil, nil
	}
	delete(t.items, id)
	if t.now().After(item.expires) {
		return nil, nil
	}
	p := item.p
	return &p, nil
}
