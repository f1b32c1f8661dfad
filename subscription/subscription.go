// Package subscription tracks which streams every TPA of a session wants.
// The registry is the process-wide authority: the router asks it who gets
// an event, the speech pipeline asks it which recognizer languages a
// session needs, and the microphone debouncer asks it whether any
// subscriber still needs audio captured at all.
package subscription

import (
	"log/slog"
	"sync"

	"github.com/OkGoDoIt/AugmentOS/stream"
)

// Diff reports what an Update changed. An idempotent re-send of the same
// set produces an empty diff.
type Diff struct {
	Added   []stream.Key
	Removed []stream.Key
}

// Empty reports whether the update changed nothing.
func (d Diff) Empty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

// Registry maps (session, package) to its subscribed stream keys.
// Reads take a shared lock; writes arrive from the TPA channel read
// loops and serialize on the write lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionSubs
}

// sessionSubs holds one session's subscriptions. Packages keep the order
// in which they first subscribed; keys keep the order the package sent.
type sessionSubs struct {
	order []string
	keys  map[string][]stream.Key
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*sessionSubs)}
}

// Update atomically replaces the key set for (sessionID, pkg) and returns
// the diff. Duplicate keys in the request collapse to the first
// occurrence.
func (r *Registry) Update(sessionID, pkg, userID string, keys []stream.Key) Diff {
	next := dedupe(keys)

	r.mu.Lock()
	defer r.mu.Unlock()

	ss := r.sessions[sessionID]
	if ss == nil {
		ss = &sessionSubs{keys: make(map[string][]stream.Key)}
		r.sessions[sessionID] = ss
	}

	prev, known := ss.keys[pkg]
	if !known {
		ss.order = append(ss.order, pkg)
	}
	ss.keys[pkg] = next

	diff := diffKeys(prev, next)
	if !diff.Empty() {
		slog.Info("subscriptions updated",
			"sessionId", sessionID, "packageName", pkg, "userId", userID,
			"count", len(next), "added", len(diff.Added), "removed", len(diff.Removed))
	}
	return diff
}

// Keys returns the current key set for (sessionID, pkg) in subscription
// order.
func (r *Registry) Keys(sessionID, pkg string) []stream.Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ss := r.sessions[sessionID]
	if ss == nil {
		return nil
	}
	return append([]stream.Key(nil), ss.keys[pkg]...)
}

// Subscribers returns the packages subscribed to key, in the order they
// first subscribed. A package holding the wildcard key matches every
// stream that does not require audio.
func (r *Registry) Subscribers(sessionID string, key stream.Key) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ss := r.sessions[sessionID]
	if ss == nil {
		return nil
	}
	var pkgs []string
	for _, pkg := range ss.order {
		if subscribed(ss.keys[pkg], key) {
			pkgs = append(pkgs, pkg)
		}
	}
	return pkgs
}

func subscribed(keys []stream.Key, key stream.Key) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
		if k.Kind == stream.KindAll && !key.RequiresAudio() {
			return true
		}
	}
	return false
}

// MinimalLanguageKeys returns the union of transcription and translation
// keys across every package of the session: the exact set of recognizer
// streams the session needs, in stable first-subscribed order.
func (r *Registry) MinimalLanguageKeys(sessionID string) []stream.Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ss := r.sessions[sessionID]
	if ss == nil {
		return nil
	}
	var union []stream.Key
	seen := make(map[stream.Key]bool)
	for _, pkg := range ss.order {
		for _, k := range ss.keys[pkg] {
			if k.HasLanguage() && !seen[k] {
				seen[k] = true
				union = append(union, k)
			}
		}
	}
	return union
}

// HasMediaSubscriptions reports whether any package of the session
// subscribes to a stream that needs the glasses microphone.
func (r *Registry) HasMediaSubscriptions(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ss := r.sessions[sessionID]
	if ss == nil {
		return false
	}
	for _, keys := range ss.keys {
		for _, k := range keys {
			if k.RequiresAudio() {
				return true
			}
		}
	}
	return false
}

// RemovePackage drops every subscription of one package.
func (r *Registry) RemovePackage(sessionID, pkg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ss := r.sessions[sessionID]
	if ss == nil {
		return
	}
	if _, ok := ss.keys[pkg]; !ok {
		return
	}
	delete(ss.keys, pkg)
	for i, p := range ss.order {
		if p == pkg {
			ss.order = append(ss.order[:i], ss.order[i+1:]...)
			break
		}
	}
	if len(ss.order) == 0 {
		delete(r.sessions, sessionID)
	}
}

// RemoveSession drops every subscription of a session.
func (r *Registry) RemoveSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

func dedupe(keys []stream.Key) []stream.Key {
	out := make([]stream.Key, 0, len(keys))
	seen := make(map[stream.Key]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

func diffKeys(prev, next []stream.Key) Diff {
	var d Diff
	prevSet := make(map[stream.Key]bool, len(prev))
	for _, k := range prev {
		prevSet[k] = true
	}
	nextSet := make(map[stream.Key]bool, len(next))
	for _, k := range next {
		nextSet[k] = true
		if !prevSet[k] {
			d.Added = append(d.Added, k)
		}
	}
	for _, k := range prev {
		if !nextSet[k] {
			d.Removed = append(d.Removed, k)
		}
	}
	return d
}
