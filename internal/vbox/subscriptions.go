package vbox

import (
	"cmp"
	"slices"
	"sync"
)

// SubscriptionID identifies a registered EventHandler.
type SubscriptionID uint64

// EventHandler receives events published by the Controller. Handlers run on
// the Controller's response worker and should return quickly.
type EventHandler func(Event)

// SubscriptionFilter selects the events a handler receives.
// The zero filter matches every published event.
type SubscriptionFilter struct {
	// DeviceID restricts delivery to one device, e.g. "N005-2" or "A003".
	// Connection events have no device and never match a DeviceID filter.
	DeviceID string

	// Kinds restricts delivery to the listed kinds.
	Kinds []EventKind
}

// Matches reports whether ev passes the filter.
func (f SubscriptionFilter) Matches(ev Event) bool {
	if f.DeviceID != "" && ev.DeviceID() != f.DeviceID {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, ev.Kind) {
		return false
	}
	return true
}

type subscription struct {
	id      SubscriptionID
	filter  SubscriptionFilter
	handler EventHandler
}

// subscriptions is the Controller's registry of handlers.
type subscriptions struct {
	mu   sync.RWMutex
	next SubscriptionID
	subs map[SubscriptionID]subscription
}

func (s *subscriptions) add(filter SubscriptionFilter, handler EventHandler) SubscriptionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[SubscriptionID]subscription)
	}
	s.next++
	s.subs[s.next] = subscription{id: s.next, filter: filter, handler: handler}
	return s.next
}

func (s *subscriptions) remove(id SubscriptionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return false
	}
	delete(s.subs, id)
	return true
}

// matching returns the handlers for ev in subscription order.
func (s *subscriptions) matching(ev Event) []subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []subscription
	for _, sub := range s.subs {
		if sub.filter.Matches(ev) {
			out = append(out, sub)
		}
	}
	slices.SortFunc(out, func(a, b subscription) int { return cmp.Compare(a.id, b.id) })
	return out
}

func (s *subscriptions) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
