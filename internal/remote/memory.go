package remote

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/playperu/checkin/internal/checkin"
)

// ErrUnavailable is what MemoryStore returns while it simulates an outage.
var ErrUnavailable = errors.New("remote store unavailable")

// MemoryStore keeps groups in process. It backs the demo mode and tests, and
// can simulate outages.
type MemoryStore struct {
	mu       sync.Mutex
	groups   map[string]checkin.GuestGroup
	offline  bool
	failNext map[string]int
	writes   int
}

func NewMemoryStore(groups ...checkin.GuestGroup) *MemoryStore {
	m := &MemoryStore{
		groups:   make(map[string]checkin.GuestGroup),
		failNext: make(map[string]int),
	}
	for _, g := range groups {
		m.groups[g.ID] = g.Clone()
	}
	return m
}

// SetOffline makes every call fail with ErrUnavailable until cleared.
func (m *MemoryStore) SetOffline(offline bool) {
	m.mu.Lock()
	m.offline = offline
	m.mu.Unlock()
}

// FailNext makes the next n calls of op fail. op is one of "list", "get",
// "redeem", "ping".
func (m *MemoryStore) FailNext(op string, n int) {
	m.mu.Lock()
	m.failNext[op] += n
	m.mu.Unlock()
}

// Writes counts applied redemptions.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MemoryStore) fail(op string) error {
	if m.offline {
		return ErrUnavailable
	}
	if m.failNext[op] > 0 {
		m.failNext[op]--
		return ErrUnavailable
	}
	return nil
}

func (m *MemoryStore) ListGroups(ctx context.Context) ([]checkin.GuestGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("list"); err != nil {
		return nil, err
	}

	out := make([]checkin.GuestGroup, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetGroup(ctx context.Context, id string) (checkin.GuestGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("get"); err != nil {
		return checkin.GuestGroup{}, err
	}

	g, ok := m.groups[id]
	if !ok {
		return checkin.GuestGroup{}, checkin.ErrNotFound
	}
	return g.Clone(), nil
}

func (m *MemoryStore) RedeemTicket(ctx context.Context, groupID, code string, at time.Time, by string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("redeem"); err != nil {
		return false, err
	}

	g, ok := m.groups[groupID]
	if !ok {
		return false, checkin.ErrNotFound
	}
	i := g.TicketByCode(code)
	if i < 0 {
		return false, checkin.ErrNotFound
	}
	g = g.Clone()
	if !g.Tickets[i].Redeem(at, by) {
		return false, nil
	}
	m.groups[groupID] = g
	m.writes++
	return true, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fail("ping")
}

func (m *MemoryStore) PutGroup(ctx context.Context, g checkin.GuestGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.ID] = g.Clone()
	return nil
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Seeder = (*MemoryStore)(nil)
)
