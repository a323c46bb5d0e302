package index

import (
	"github.com/poiesic/tenantrag/core"
)

// snapshot is an immutable view of one tenant index. Slots whose entry is
// removed stay in place as tombstones until compaction.
type snapshot struct {
	tenant    core.TenantID
	dimension int
	entries   []core.IndexEntry
	norms     []float32
	live      []bool
	slots     map[core.ID]int // chunk ID -> slot of its live entry
	removed   int
}

func emptySnapshot(tenant core.TenantID, dimension int) *snapshot {
	return &snapshot{
		tenant:    tenant,
		dimension: dimension,
		slots:     map[core.ID]int{},
	}
}

func fromPersisted(p *core.IndexSnapshot) *snapshot {
	s := emptySnapshot(p.TenantID, p.Dimension)
	s.entries = make([]core.IndexEntry, 0, len(p.Entries))
	for _, e := range p.Entries {
		s.append(e)
	}
	return s
}

func (s *snapshot) persisted() *core.IndexSnapshot {
	out := &core.IndexSnapshot{
		TenantID:  s.tenant,
		Dimension: s.dimension,
		Entries:   make([]core.IndexEntry, 0, len(s.slots)),
	}
	for i, e := range s.entries {
		if s.live[i] {
			out.Entries = append(out.Entries, e)
		}
	}
	return out
}

// clone returns a mutable copy. Vectors are shared; they are never modified.
func (s *snapshot) clone() *snapshot {
	c := &snapshot{
		tenant:    s.tenant,
		dimension: s.dimension,
		entries:   make([]core.IndexEntry, len(s.entries), len(s.entries)+8),
		norms:     make([]float32, len(s.norms), len(s.entries)+8),
		live:      make([]bool, len(s.live), len(s.entries)+8),
		slots:     make(map[core.ID]int, len(s.slots)),
		removed:   s.removed,
	}
	copy(c.entries, s.entries)
	copy(c.norms, s.norms)
	copy(c.live, s.live)
	for id, slot := range s.slots {
		c.slots[id] = slot
	}
	return c
}

func (s *snapshot) append(e core.IndexEntry) {
	s.slots[e.ChunkID] = len(s.entries)
	s.entries = append(s.entries, e)
	s.norms = append(s.norms, norm(e.Vector))
	s.live = append(s.live, true)
}

// put adds e, replacing any live entry with the same chunk ID in place.
func (s *snapshot) put(e core.IndexEntry) {
	if slot, ok := s.slots[e.ChunkID]; ok {
		s.entries[slot] = e
		s.norms[slot] = norm(e.Vector)
		return
	}
	s.append(e)
}

// tombstone marks id removed and reports whether it was live.
func (s *snapshot) tombstone(id core.ID) bool {
	slot, ok := s.slots[id]
	if !ok {
		return false
	}
	delete(s.slots, id)
	s.live[slot] = false
	s.removed++
	return true
}

func (s *snapshot) tombstoneRatio() float64 {
	if len(s.entries) == 0 {
		return 0
	}
	return float64(s.removed) / float64(len(s.entries))
}

// compacted returns a copy without tombstoned slots.
func (s *snapshot) compacted() *snapshot {
	c := emptySnapshot(s.tenant, s.dimension)
	c.entries = make([]core.IndexEntry, 0, len(s.slots))
	for i, e := range s.entries {
		if s.live[i] {
			c.append(e)
		}
	}
	return c
}

// cost approximates the memory held by the snapshot in bytes.
func (s *snapshot) cost() int64 {
	const perEntry = 64
	return int64(len(s.entries)) * int64(s.dimension*4+perEntry)
}
