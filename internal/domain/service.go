// Package domain defines the sign-up rules for extracurricular activities.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"example.com/extracurricular/internal/events"
	"example.com/extracurricular/internal/observability"
)

var (
	// ErrActivityNotFound is returned when the named activity does not exist.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrAlreadySignedUp is returned when the email is already on the activity roster.
	ErrAlreadySignedUp = errors.New("student is already signed up")
	// ErrEmailRequired is returned when a roster change is requested without an email.
	ErrEmailRequired = errors.New("email is required")
)

// Registry captures roster storage operations.
type Registry interface {
	List(ctx context.Context) (map[string]Activity, error)
	AddParticipant(ctx context.Context, name, email string) (*Activity, error)
	RemoveParticipant(ctx context.Context, name, email string) (*Activity, bool, error)
}

// EventRecorder receives roster change events for asynchronous delivery.
type EventRecorder interface {
	Record(ctx context.Context, event events.RosterChanged) error
}

// NoopRecorder discards events.
type NoopRecorder struct{}

// Record performs no action.
func (NoopRecorder) Record(context.Context, events.RosterChanged) error { return nil }

// Service orchestrates roster workflows.
type Service struct {
	registry Registry
	recorder EventRecorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewService constructs a Service. A nil recorder or logger is replaced with a no-op.
func NewService(registry Registry, recorder EventRecorder, logger *zap.Logger) *Service {
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry: registry,
		recorder: recorder,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ListActivities returns every activity keyed by name.
func (s *Service) ListActivities(ctx context.Context) (map[string]Activity, error) {
	return s.registry.List(ctx)
}

// SignUp adds email to the named activity's roster.
func (s *Service) SignUp(ctx context.Context, activity, email string) error {
	activity, email = strings.TrimSpace(activity), strings.TrimSpace(email)
	if email == "" {
		return ErrEmailRequired
	}

	updated, err := s.registry.AddParticipant(ctx, activity, email)
	if err != nil {
		observability.RecordSignup(outcomeLabel(err))
		return err
	}

	observability.RecordSignup("ok")
	s.record(ctx, events.TypeParticipantSignedUp, updated.Name, email)
	return nil
}

// Unregister removes email from the named activity's roster. Removing an email
// that is not on the roster succeeds and reports removed=false.
func (s *Service) Unregister(ctx context.Context, activity, email string) (bool, error) {
	activity, email = strings.TrimSpace(activity), strings.TrimSpace(email)
	if email == "" {
		return false, ErrEmailRequired
	}

	updated, removed, err := s.registry.RemoveParticipant(ctx, activity, email)
	if err != nil {
		observability.RecordUnregister(outcomeLabel(err))
		return false, err
	}
	if !removed {
		observability.RecordUnregister("absent")
		return false, nil
	}

	observability.RecordUnregister("ok")
	s.record(ctx, events.TypeParticipantUnregistered, updated.Name, email)
	return true, nil
}

// record hands the event to the recorder. The roster change has already been
// applied, so a recorder failure is logged rather than returned.
func (s *Service) record(ctx context.Context, eventType, activity, email string) {
	event := events.RosterChanged{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		Activity:   activity,
		Email:      email,
		OccurredAt: s.now(),
	}
	if err := s.recorder.Record(ctx, event); err != nil {
		s.logger.Warn("roster event not recorded",
			zap.String("event_type", eventType),
			zap.String("activity", activity),
			zap.Error(err),
		)
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrActivityNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadySignedUp):
		return "duplicate"
	default:
		return "error"
	}
}
