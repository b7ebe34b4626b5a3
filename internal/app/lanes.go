package app

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/tablesession/internal/domain"
)

// lanes runs signaling work off the read loop. Tasks for one connection run
// one at a time in submission order; different connections run concurrently.
type lanes struct {
	mu     sync.Mutex
	wg     conc.WaitGroup
	byConn map[domain.ConnectionID]*lane
	closed bool
}

type lane struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

func newLanes() *lanes {
	return &lanes{byConn: make(map[domain.ConnectionID]*lane)}
}

// Do queues task on cid's lane. It never blocks on the task itself.
func (l *lanes) Do(cid domain.ConnectionID, task func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		log.Debug().Str("module", "app.session").Int("conn", int(cid)).Msg("lanes closed, task dropped")
		return
	}
	ln, ok := l.byConn[cid]
	if !ok {
		ln = &lane{}
		l.byConn[cid] = ln
	}

	ln.mu.Lock()
	ln.pending = append(ln.pending, task)
	start := !ln.running
	ln.running = true
	ln.mu.Unlock()

	if start {
		l.wg.Go(ln.drain)
	}
}

func (ln *lane) drain() {
	for {
		ln.mu.Lock()
		if len(ln.pending) == 0 {
			ln.running = false
			ln.mu.Unlock()
			return
		}
		task := ln.pending[0]
		ln.pending = ln.pending[1:]
		ln.mu.Unlock()
		task()
	}
}

// Release forgets cid's lane. Already queued tasks still run; they must
// re-resolve any per-connection state they touch.
func (l *lanes) Release(cid domain.ConnectionID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byConn, cid)
}

// Close stops accepting tasks and waits for the queued ones.
func (l *lanes) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	if r := l.wg.WaitAndRecover(); r != nil {
		log.Error().Str("module", "app.session").Str("panic", r.String()).Msg("signaling task panicked")
	}
}
