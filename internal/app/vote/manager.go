// Package vote tracks the open table vote: who may vote, who has voted and
// the per-option tally shown to the player.
package vote

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/tablesession/internal/core"
	"github.com/dkeye/tablesession/internal/domain"
)

// Tally is one option's line in the vote display.
type Tally struct {
	Option string `json:"option"`
	Count  int    `json:"count"`
	Total  int    `json:"total"`
}

// View is a point-in-time copy of the vote state.
type View struct {
	Open    bool            `json:"open"`
	Kind    domain.VoteKind `json:"kind,omitempty"`
	Tallies []Tally         `json:"tallies,omitempty"`
	Voted   bool            `json:"voted"`
}

// Display renders the vote. Calls arrive outside the manager's lock.
type Display interface {
	ShowVote(kind domain.VoteKind, tallies []Tally)
	HideVote()
}

// Sender transmits our own cast.
type Sender interface {
	SendVote(option int) error
}

type ballot struct {
	kind      domain.VoteKind
	options   []string
	counts    []int
	total     int
	casts     map[domain.ConnectionID]int
	ownCast   bool
	ownOption int
}

type Manager struct {
	mu       sync.Mutex
	out      Sender
	displays []Display

	self    domain.ConnectionID
	hasSelf bool
	members map[domain.ConnectionID]struct{}

	open *ballot
}

func NewManager(out Sender, displays ...Display) *Manager {
	return &Manager{
		out:      out,
		displays: displays,
		members:  make(map[domain.ConnectionID]struct{}),
	}
}

func (m *Manager) OnInit(self domain.ConnectionID, _ domain.SeatID, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.self, m.hasSelf = self, true
	delete(m.members, self)
	if b := m.open; b != nil && b.ownCast {
		b.casts[self] = b.ownOption
	}
}

func (m *Manager) OnClient(_ domain.ClientData, cid domain.ConnectionID, _ domain.SeatID) {
	m.mu.Lock()
	if m.hasSelf && cid == m.self {
		m.mu.Unlock()
		return
	}
	if _, ok := m.members[cid]; ok {
		m.mu.Unlock()
		return
	}
	m.members[cid] = struct{}{}
	if m.open == nil {
		m.mu.Unlock()
		return
	}
	m.open.total++
	m.publishLocked()
}

func (m *Manager) OnClientLeave(cid domain.ConnectionID) {
	m.mu.Lock()
	if _, ok := m.members[cid]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.members, cid)
	b := m.open
	if b == nil {
		m.mu.Unlock()
		return
	}
	b.total--
	if opt, voted := b.casts[cid]; voted {
		b.counts[opt]--
		delete(b.casts, cid)
	}
	m.publishLocked()
}

func (m *Manager) OnNewVote(kind domain.VoteKind) {
	m.mu.Lock()
	options := domain.OptionsFor(kind)
	m.open = &ballot{
		kind:    kind,
		options: options,
		counts:  make([]int, len(options)),
		total:   len(m.members) + 1,
		casts:   make(map[domain.ConnectionID]int),
	}
	log.Info().Str("module", "app.vote").Str("kind", kind.String()).Int("total", m.open.total).Msg("vote opened")
	m.publishLocked()
}

// OnVote counts a cast from a known member or from us. A connection is
// counted at most once per vote, which also absorbs the server echoing our
// own cast back.
func (m *Manager) OnVote(option int, cid domain.ConnectionID) {
	m.mu.Lock()
	b := m.open
	if b == nil {
		m.mu.Unlock()
		log.Debug().Str("module", "app.vote").Int("conn", int(cid)).Msg("cast without open vote ignored")
		return
	}
	own := m.hasSelf && cid == m.self
	if _, member := m.members[cid]; !member && !own {
		m.mu.Unlock()
		log.Debug().Str("module", "app.vote").Int("conn", int(cid)).Msg("cast from unknown connection ignored")
		return
	}
	if option < 0 || option >= len(b.options) {
		m.mu.Unlock()
		log.Warn().Str("module", "app.vote").Int("conn", int(cid)).Int("option", option).Msg("cast for unknown option ignored")
		return
	}
	if _, dup := b.casts[cid]; dup {
		m.mu.Unlock()
		return
	}
	b.casts[cid] = option
	b.counts[option]++
	if own {
		b.ownCast, b.ownOption = true, option
	}
	m.publishLocked()
}

func (m *Manager) OnVoteQuit() {
	m.mu.Lock()
	if m.open == nil {
		m.mu.Unlock()
		return
	}
	m.open = nil
	log.Info().Str("module", "app.vote").Msg("vote closed")
	m.mu.Unlock()
	for _, d := range m.displays {
		d.HideVote()
	}
}

// CastOwn sends our choice and counts it locally without waiting for the
// echo. Only the first successful call per vote has an effect.
func (m *Manager) CastOwn(option int) error {
	m.mu.Lock()
	b := m.open
	switch {
	case b == nil:
		m.mu.Unlock()
		return domain.ErrVoteClosed
	case b.ownCast:
		m.mu.Unlock()
		return domain.ErrAlreadyVoted
	case option < 0 || option >= len(b.options):
		m.mu.Unlock()
		return domain.ErrBadOption
	}
	if err := m.out.SendVote(option); err != nil {
		m.mu.Unlock()
		return err
	}
	b.ownCast, b.ownOption = true, option
	b.counts[option]++
	if m.hasSelf {
		b.casts[m.self] = option
	}
	m.publishLocked()
	return nil
}

func (m *Manager) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open == nil {
		return View{}
	}
	return View{Open: true, Kind: m.open.kind, Tallies: m.talliesLocked(), Voted: m.open.ownCast}
}

func (m *Manager) talliesLocked() []Tally {
	b := m.open
	out := make([]Tally, len(b.options))
	for i, name := range b.options {
		out[i] = Tally{Option: name, Count: b.counts[i], Total: b.total}
	}
	return out
}

// publishLocked releases m.mu before calling displays.
func (m *Manager) publishLocked() {
	kind := m.open.kind
	tallies := m.talliesLocked()
	m.mu.Unlock()
	for _, d := range m.displays {
		d.ShowVote(kind, tallies)
	}
}

var (
	_ core.InitHook        = (*Manager)(nil)
	_ core.ClientHook      = (*Manager)(nil)
	_ core.ClientLeaveHook = (*Manager)(nil)
	_ core.VoteHook        = (*Manager)(nil)
	_ core.NewVoteHook     = (*Manager)(nil)
	_ core.VoteQuitHook    = (*Manager)(nil)
)
