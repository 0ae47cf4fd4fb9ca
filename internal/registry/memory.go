// Package registry holds the process-lifetime activity roster.
package registry

import (
	"context"
	"sync"

	"example.com/extracurricular/internal/domain"
	"example.com/extracurricular/internal/observability"
)

// InMemoryRegistry stores activities in memory, guarded by a single lock.
type InMemoryRegistry struct {
	mu         sync.RWMutex
	activities map[string]domain.Activity
}

// NewInMemoryRegistry constructs a registry populated with the supplied seed.
// Duplicate emails within a seeded roster are collapsed. The participants
// gauge is published for every seeded activity and afterwards only changes
// while the registry lock is held.
func NewInMemoryRegistry(seed []domain.Activity) *InMemoryRegistry {
	r := &InMemoryRegistry{activities: make(map[string]domain.Activity, len(seed))}
	for _, activity := range seed {
		activity = activity.Clone()
		activity.Participants = dedupe(activity.Participants)
		r.activities[activity.Name] = activity
		observability.SetParticipants(activity.Name, len(activity.Participants))
	}
	return r
}

// List implements domain.Registry.
func (r *InMemoryRegistry) List(ctx context.Context) (map[string]domain.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]domain.Activity, len(r.activities))
	for name, activity := range r.activities {
		out[name] = activity.Clone()
	}
	return out, nil
}

// AddParticipant implements domain.Registry.
func (r *InMemoryRegistry) AddParticipant(ctx context.Context, name, email string) (*domain.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	activity, ok := r.activities[name]
	if !ok {
		return nil, domain.ErrActivityNotFound
	}
	if activity.HasParticipant(email) {
		return nil, domain.ErrAlreadySignedUp
	}

	participants := make([]string, len(activity.Participants), len(activity.Participants)+1)
	copy(participants, activity.Participants)
	activity.Participants = append(participants, email)
	r.activities[name] = activity
	observability.SetParticipants(name, len(activity.Participants))

	updated := activity.Clone()
	return &updated, nil
}

// RemoveParticipant implements domain.Registry. The boolean reports whether
// the email was on the roster.
func (r *InMemoryRegistry) RemoveParticipant(ctx context.Context, name, email string) (*domain.Activity, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	activity, ok := r.activities[name]
	if !ok {
		return nil, false, domain.ErrActivityNotFound
	}

	participants := make([]string, 0, len(activity.Participants))
	removed := false
	for _, p := range activity.Participants {
		if p == email {
			removed = true
			continue
		}
		participants = append(participants, p)
	}
	if removed {
		activity.Participants = participants
		r.activities[name] = activity
		observability.SetParticipants(name, len(activity.Participants))
	}

	updated := activity.Clone()
	return &updated, removed, nil
}

func dedupe(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := emails[:0]
	for _, email := range emails {
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	return out
}
