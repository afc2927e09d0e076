package knowledge

import "sync/atomic"

// atomicSnapshot publishes index snapshots with an atomic pointer swap so a
// rebuild never blocks or tears concurrent searches.
type atomicSnapshot struct {
	p atomic.Pointer[snapshot]
}

func (a *atomicSnapshot) load() *snapshot   { return a.p.Load() }
func (a *atomicSnapshot) store(s *snapshot) { a.p.Store(s) }
