package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"example.com/extracurricular/internal/events"
)

func TestSignUpRecordsEvent(t *testing.T) {
	reg := newStubRegistry(Activity{Name: "Chess Club", Participants: []string{"michael@mergington.edu"}})
	rec := &recordingRecorder{}
	svc := newTestService(t, reg, rec)

	require.NoError(t, svc.SignUp(context.Background(), "Chess Club", "  new@mergington.edu "))

	require.Equal(t, []string{"michael@mergington.edu", "new@mergington.edu"}, reg.activities["Chess Club"].Participants)
	require.Len(t, rec.events, 1)
	event := rec.events[0]
	require.Equal(t, events.TypeParticipantSignedUp, event.EventType)
	require.Equal(t, "Chess Club", event.Activity)
	require.Equal(t, "new@mergington.edu", event.Email)
	require.NotEmpty(t, event.EventID)
	require.Equal(t, fixedNow, event.OccurredAt)
}

func TestSignUpRejectsBlankEmail(t *testing.T) {
	reg := newStubRegistry(Activity{Name: "Chess Club"})
	rec := &recordingRecorder{}
	svc := newTestService(t, reg, rec)

	require.ErrorIs(t, svc.SignUp(context.Background(), "Chess Club", "   "), ErrEmailRequired)
	require.Zero(t, reg.addCalls)
	require.Empty(t, rec.events)
}

func TestSignUpPropagatesRegistryErrors(t *testing.T) {
	reg := newStubRegistry(Activity{Name: "Chess Club", Participants: []string{"a@mergington.edu"}})
	rec := &recordingRecorder{}
	svc := newTestService(t, reg, rec)

	require.ErrorIs(t, svc.SignUp(context.Background(), "Chess Club", "a@mergington.edu"), ErrAlreadySignedUp)
	require.ErrorIs(t, svc.SignUp(context.Background(), "Robotics", "a@mergington.edu"), ErrActivityNotFound)
	require.Empty(t, rec.events)
}

func TestUnregisterReportsRemoval(t *testing.T) {
	reg := newStubRegistry(Activity{Name: "Art Club", Participants: []string{"a@mergington.edu", "b@mergington.edu"}})
	rec := &recordingRecorder{}
	svc := newTestService(t, reg, rec)

	removed, err := svc.Unregister(context.Background(), "Art Club", "a@mergington.edu")
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, []string{"b@mergington.edu"}, reg.activities["Art Club"].Participants)

	removed, err = svc.Unregister(context.Background(), "Art Club", "a@mergington.edu")
	require.NoError(t, err)
	require.False(t, removed)

	require.Len(t, rec.events, 1)
	require.Equal(t, events.TypeParticipantUnregistered, rec.events[0].EventType)
}

func TestUnregisterUnknownActivity(t *testing.T) {
	svc := newTestService(t, newStubRegistry(), nil)

	_, err := svc.Unregister(context.Background(), "Robotics", "a@mergington.edu")
	require.ErrorIs(t, err, ErrActivityNotFound)
}

func TestRecorderFailureIsNotReturned(t *testing.T) {
	reg := newStubRegistry(Activity{Name: "Chess Club"})
	svc := newTestService(t, reg, &recordingRecorder{err: errors.New("queue full")})

	require.NoError(t, svc.SignUp(context.Background(), "Chess Club", "a@mergington.edu"))
	require.True(t, reg.activities["Chess Club"].HasParticipant("a@mergington.edu"))
}

func TestCloneDoesNotAlias(t *testing.T) {
	original := Activity{Name: "Chess Club", Participants: []string{"a@mergington.edu"}}
	clone := original.Clone()
	clone.Participants[0] = "changed@mergington.edu"

	require.Equal(t, "a@mergington.edu", original.Participants[0])
	require.NotNil(t, Activity{}.Clone().Participants)
}

var fixedNow = time.Date(2025, time.October, 27, 20, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, reg Registry, rec EventRecorder) *Service {
	t.Helper()
	svc := NewService(reg, rec, zaptest.NewLogger(t))
	svc.now = func() time.Time { return fixedNow }
	return svc
}

type stubRegistry struct {
	activities map[string]Activity
	addCalls   int
}

func newStubRegistry(seed ...Activity) *stubRegistry {
	reg := &stubRegistry{activities: make(map[string]Activity)}
	for _, a := range seed {
		reg.activities[a.Name] = a.Clone()
	}
	return reg
}

func (s *stubRegistry) List(context.Context) (map[string]Activity, error) {
	out := make(map[string]Activity, len(s.activities))
	for name, a := range s.activities {
		out[name] = a.Clone()
	}
	return out, nil
}

func (s *stubRegistry) AddParticipant(_ context.Context, name, email string) (*Activity, error) {
	s.addCalls++
	activity, ok := s.activities[name]
	if !ok {
		return nil, ErrActivityNotFound
	}
	if activity.HasParticipant(email) {
		return nil, ErrAlreadySignedUp
	}
	activity.Participants = append(activity.Participants, email)
	s.activities[name] = activity
	out := activity.Clone()
	return &out, nil
}

func (s *stubRegistry) RemoveParticipant(_ context.Context, name, email string) (*Activity, bool, error) {
	activity, ok := s.activities[name]
	if !ok {
		return nil, false, ErrActivityNotFound
	}
	kept := make([]string, 0, len(activity.Participants))
	removed := false
	for _, p := range activity.Participants {
		if p == email {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	activity.Participants = kept
	s.activities[name] = activity
	out := activity.Clone()
	return &out, removed, nil
}

type recordingRecorder struct {
	events []events.RosterChanged
	err    error
}

func (r *recordingRecorder) Record(_ context.Context, event events.RosterChanged) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}
