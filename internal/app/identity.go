package app

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/tablesession/internal/domain"
)

// Participant is a read-only view of one identity entry.
type Participant struct {
	Conn domain.ConnectionID `json:"conn"`
	Seat domain.SeatID       `json:"seat"`
	Name string              `json:"name"`
	Self bool                `json:"self,omitempty"`
}

type identityEntry struct {
	seat domain.SeatID
	data domain.ClientData
}

// IdentityMap associates connections with seats. At most one connection holds
// a seat; announcing a second one for the same seat evicts the first.
type IdentityMap struct {
	mu     sync.RWMutex
	byConn map[domain.ConnectionID]identityEntry
	bySeat map[domain.SeatID]domain.ConnectionID

	self    domain.ConnectionID
	hasSelf bool
	seats   int
}

func NewIdentityMap() *IdentityMap {
	return &IdentityMap{
		byConn: make(map[domain.ConnectionID]identityEntry),
		bySeat: make(map[domain.SeatID]domain.ConnectionID),
	}
}

func (m *IdentityMap) SetSelf(cid domain.ConnectionID, seat domain.SeatID, seats int, data domain.ClientData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.self, m.hasSelf, m.seats = cid, true, seats
	m.putLocked(cid, seat, data)
	log.Info().Str("module", "app.identity").Int("conn", int(cid)).Int("seat", int(seat)).Int("seats", seats).Msg("own identity")
}

func (m *IdentityMap) Self() (domain.ConnectionID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.self, m.hasSelf
}

func (m *IdentityMap) Seats() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seats
}

func (m *IdentityMap) Put(cid domain.ConnectionID, seat domain.SeatID, data domain.ClientData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(cid, seat, data)
	log.Info().Str("module", "app.identity").Int("conn", int(cid)).Int("seat", int(seat)).Str("name", data.Name).Msg("participant mapped")
}

func (m *IdentityMap) putLocked(cid domain.ConnectionID, seat domain.SeatID, data domain.ClientData) {
	if prev, ok := m.byConn[cid]; ok && prev.seat != seat {
		delete(m.bySeat, prev.seat)
	}
	if holder, ok := m.bySeat[seat]; ok && holder != cid {
		delete(m.byConn, holder)
		log.Warn().Str("module", "app.identity").Int("seat", int(seat)).Int("evicted", int(holder)).Int("conn", int(cid)).Msg("seat taken over")
	}
	m.byConn[cid] = identityEntry{seat: seat, data: data}
	m.bySeat[seat] = cid
}

// Remove reports whether cid was mapped.
func (m *IdentityMap) Remove(cid domain.ConnectionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byConn[cid]
	if !ok {
		return false
	}
	delete(m.byConn, cid)
	if m.bySeat[e.seat] == cid {
		delete(m.bySeat, e.seat)
	}
	log.Info().Str("module", "app.identity").Int("conn", int(cid)).Msg("participant removed")
	return true
}

func (m *IdentityMap) Has(cid domain.ConnectionID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byConn[cid]
	return ok
}

func (m *IdentityMap) SeatOf(cid domain.ConnectionID) (domain.SeatID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byConn[cid]
	return e.seat, ok
}

// ConnAt returns the connection on seat; false means the seat is vacant.
func (m *IdentityMap) ConnAt(seat domain.SeatID) (domain.ConnectionID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cid, ok := m.bySeat[seat]
	return cid, ok
}

func (m *IdentityMap) Name(cid domain.ConnectionID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byConn[cid]
	return e.data.Name, ok
}

func (m *IdentityMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn)
}

// Snapshot lists all participants ordered by seat.
func (m *IdentityMap) Snapshot() []Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Participant, 0, len(m.byConn))
	for cid, e := range m.byConn {
		out = append(out, Participant{
			Conn: cid,
			Seat: e.seat,
			Name: e.data.Name,
			Self: m.hasSelf && cid == m.self,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seat < out[j].Seat })
	return out
}
