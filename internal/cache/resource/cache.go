package resource

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"owconsole/internal/live"
)

// Fidelity records how complete a cached entity is.
type Fidelity int

const (
	// Partial entities come from list endpoints and may omit heavy fields.
	Partial Fidelity = iota
	// Full entities come from single-item fetches or mutation responses.
	Full
)

func (f Fidelity) String() string {
	switch f {
	case Partial:
		return "partial"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("fidelity(%d)", int(f))
	}
}

// MaxFidelity returns the more complete of a and b.
func MaxFidelity(a, b Fidelity) Fidelity {
	if a > b {
		return a
	}
	return b
}

// Config describes how a Cache reads and merges one resource type.
type Config[T any] struct {
	// Name is used in log lines only.
	Name string
	// ID returns the stable identifier of v.
	ID func(v T) string
	// UpdatedAt orders the aggregate list, most recent first.
	UpdatedAt func(v T) time.Time
	// Merge copies the fields present in src onto dst. Nil means replace.
	Merge func(dst *T, src T)
}

type slot[T any] struct {
	seq      uint64
	fidelity Fidelity
	value    *live.Value[T]
}

// Cache is the per-resource-type store of entities known to one client
// instance. Each id owns one live handle for its whole lifetime in the cache;
// upserts merge into it instead of replacing it.
type Cache[T any] struct {
	name      string
	id        func(T) string
	updatedAt func(T) time.Time
	merge     func(*T, T)

	mu        sync.RWMutex
	slots     map[string]*slot[T]
	seq       uint64
	populated bool

	all *live.Value[[]T]
}

func New[T any](cfg Config[T]) *Cache[T] {
	if cfg.ID == nil {
		panic("resource cache: ID func is required")
	}
	merge := cfg.Merge
	if merge == nil {
		merge = func(dst *T, src T) { *dst = src }
	}
	updatedAt := cfg.UpdatedAt
	if updatedAt == nil {
		updatedAt = func(T) time.Time { return time.Time{} }
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "resource"
	}
	return &Cache[T]{
		name:      name,
		id:        cfg.ID,
		updatedAt: updatedAt,
		merge:     merge,
		slots:     make(map[string]*slot[T]),
		all:       live.New[[]T](nil),
	}
}

// Upsert stores v at fidelity f and returns the id's live handle. A known id
// is merged in place and keeps the higher of the two fidelities. The handle
// re-emits its value in both cases.
func (c *Cache[T]) Upsert(v T, f Fidelity) *live.Value[T] {
	id := c.id(v)
	if strings.TrimSpace(id) == "" {
		panic(fmt.Sprintf("resource cache %s: upsert without id", c.name))
	}

	c.mu.Lock()
	s, hit := c.slots[id]
	if hit {
		s.fidelity = MaxFidelity(s.fidelity, f)
	} else {
		c.seq++
		s = &slot[T]{seq: c.seq, fidelity: f, value: live.New(v)}
		c.slots[id] = s
	}
	size := len(c.slots)
	c.mu.Unlock()

	if hit {
		glog.V(2).Infof("%s cache: hit id=%s size=%d", c.name, id, size)
		s.value.Update(func(cur *T) { c.merge(cur, v) })
	} else {
		glog.V(2).Infof("%s cache: begin id=%s size=%d", c.name, id, size)
		s.value.Emit()
	}
	return s.value
}

// Get returns the handle for id only when it is cached at Full fidelity.
func (c *Cache[T]) Get(id string) (*live.Value[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.slots[id]
	if !ok || s.fidelity != Full {
		return nil, false
	}
	return s.value, true
}

// Lookup returns the handle for id at any fidelity.
func (c *Cache[T]) Lookup(id string) (*live.Value[T], Fidelity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.slots[id]
	if !ok {
		return nil, Partial, false
	}
	return s.value, s.fidelity, true
}

// Fidelity reports the cached fidelity of id.
func (c *Cache[T]) Fidelity(id string) (Fidelity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.slots[id]
	if !ok {
		return Partial, false
	}
	return s.fidelity, true
}

// Remove deletes id. Handles already given out stop receiving updates.
func (c *Cache[T]) Remove(id string) bool {
	c.mu.Lock()
	s, ok := c.slots[id]
	if ok {
		delete(c.slots, id)
	}
	c.mu.Unlock()
	if ok {
		s.value.Close()
	}
	return ok
}

func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.slots)
}

// MarkPopulated records that a full list fetch has happened and publishes
// the aggregate view.
func (c *Cache[T]) MarkPopulated() {
	c.mu.Lock()
	c.populated = true
	c.mu.Unlock()
	c.Refresh()
}

func (c *Cache[T]) Populated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.populated
}

// Refresh recomputes the aggregate view when the list is known to be complete.
func (c *Cache[T]) Refresh() {
	list, ok := c.ListSnapshot()
	if !ok {
		return
	}
	c.all.Set(list)
}

// List is the live aggregate view. It only changes once the cache is populated.
func (c *Cache[T]) List() *live.Value[[]T] {
	return c.all
}

// ListSnapshot returns every entity, most recently updated first, ties kept
// in insertion order. ok is false until the cache has been populated.
func (c *Cache[T]) ListSnapshot() ([]T, bool) {
	c.mu.RLock()
	if !c.populated {
		c.mu.RUnlock()
		return nil, false
	}
	slots := make([]*slot[T], 0, len(c.slots))
	for _, s := range c.slots {
		slots = append(slots, s)
	}
	c.mu.RUnlock()

	type row struct {
		seq     uint64
		updated time.Time
		value   T
	}
	rows := make([]row, 0, len(slots))
	for _, s := range slots {
		v := s.value.Get()
		rows = append(rows, row{seq: s.seq, updated: c.updatedAt(v), value: v})
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].updated.Equal(rows[j].updated) {
			return rows[i].updated.After(rows[j].updated)
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.value)
	}
	return out, true
}
