package registry

import (
	"sync"

	"github.com/vote-relay/internal/domain"
)

type entryKey struct {
	role    domain.Role
	address string
}

// Registry maps user addresses to their live channel, per role.
// The last registration for an (address, role) pair wins.
type Registry struct {
	mu        sync.RWMutex
	byAddress map[entryKey]string
	byChannel map[string]map[entryKey]struct{}
}

func New() *Registry {
	return &Registry{
		byAddress: make(map[entryKey]string),
		byChannel: make(map[string]map[entryKey]struct{}),
	}
}

// Register points address at channelID for role. Empty inputs are ignored.
func (r *Registry) Register(address, channelID string, role domain.Role) {
	address = domain.NormalizeAddress(address)
	if address == "" || channelID == "" {
		return
	}
	k := entryKey{role: role, address: address}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byAddress[k]; ok && prev != channelID {
		r.dropReverse(prev, k)
	}
	r.byAddress[k] = channelID
	keys, ok := r.byChannel[channelID]
	if !ok {
		keys = make(map[entryKey]struct{})
		r.byChannel[channelID] = keys
	}
	keys[k] = struct{}{}
}

func (r *Registry) Lookup(address string, role domain.Role) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.byAddress[entryKey{role: role, address: domain.NormalizeAddress(address)}]
	return ch, ok
}

// UnregisterByChannel removes every entry that points at channelID and
// returns how many were removed.
func (r *Registry) UnregisterByChannel(channelID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.byChannel[channelID]
	for k := range keys {
		if r.byAddress[k] == channelID {
			delete(r.byAddress, k)
		}
	}
	delete(r.byChannel, channelID)
	return len(keys)
}

// Len is the number of entries registered under role.
func (r *Registry) Len(role domain.Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for k := range r.byAddress {
		if k.role == role {
			n++
		}
	}
	return n
}

func (r *Registry) dropReverse(channelID string, k entryKey) {
	keys := r.byChannel[channelID]
	delete(keys, k)
	if len(keys) == 0 {
		delete(r.byChannel, channelID)
	}
}
