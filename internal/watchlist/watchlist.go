// Package watchlist holds the set of coin ids the user follows.
package watchlist

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"cryptodash/logger"
)

// Registry is safe for concurrent use. Ids are normalized to trimmed lower
// case, matching CoinGecko's identifiers.
type Registry struct {
	log *logger.Log

	mu  sync.RWMutex
	ids map[string]struct{}
}

func New(defaults []string, log *logger.Log) *Registry {
	if log == nil {
		log = logger.GetLogger()
	}
	r := &Registry{log: log, ids: make(map[string]struct{}, len(defaults))}
	for _, id := range defaults {
		if id = Normalize(id); id != "" {
			r.ids[id] = struct{}{}
		}
	}
	log.WithComponent("watchlist").WithFields(logger.Fields{"count": len(r.ids)}).Debug("watchlist initialized")
	return r
}

// Normalize converts user input such as " Bitcoin " to "bitcoin".
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Add reports whether id is a valid identifier; adding an existing id is a no-op.
func (r *Registry) Add(id string) bool {
	id = Normalize(id)
	if id == "" {
		return false
	}
	r.mu.Lock()
	r.ids[id] = struct{}{}
	r.mu.Unlock()
	return true
}

// Remove reports whether id was present.
func (r *Registry) Remove(id string) bool {
	id = Normalize(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; !ok {
		return false
	}
	delete(r.ids, id)
	return true
}

// Toggle flips membership and returns the new state.
func (r *Registry) Toggle(id string) bool {
	id = Normalize(id)
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; ok {
		delete(r.ids, id)
		return false
	}
	r.ids[id] = struct{}{}
	return true
}

func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	_, ok := r.ids[Normalize(id)]
	r.mu.RUnlock()
	return ok
}

// All returns the members in ascending order.
func (r *Registry) All() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

func (r *Registry) Clear() {
	r.mu.Lock()
	r.ids = make(map[string]struct{})
	r.mu.Unlock()
	r.log.WithComponent("watchlist").Info("watchlist cleared")
}

// Import replaces the whole set.
func (r *Registry) Import(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = Normalize(id); id != "" {
			next[id] = struct{}{}
		}
	}
	r.mu.Lock()
	r.ids = next
	r.mu.Unlock()
	r.log.WithComponent("watchlist").WithFields(logger.Fields{"count": len(next)}).Info("watchlist imported")
}

// ImportJSON replaces the set with a JSON array of ids.
func (r *Registry) ImportJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	r.Import(ids)
	return nil
}

// ExportJSON renders the members as an indented JSON array.
func (r *Registry) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(r.All(), "", "  ")
}

// Set returns a point-in-time copy of the membership, for filter passes that
// should not hold the registry lock.
func (r *Registry) Set() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]struct{}, len(r.ids))
	for id := range r.ids {
		out[id] = struct{}{}
	}
	return out
}
