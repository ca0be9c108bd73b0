package meeting

import (
	"context"
	"errors"
	"fmt"

	"github.com/meetpay/meetpay/internal/clock"
	"github.com/meetpay/meetpay/internal/store"
	"github.com/meetpay/meetpay/pkg/id"
	"go.uber.org/zap"
)

// Notifier receives fire-and-forget notifications on meeting mutation.
// Failures are logged by the implementation and never fail the mutation.
type Notifier interface {
	MessageReceived(ctx context.Context, m *Meeting)
	MeetingTimeChanged(ctx context.Context, m *Meeting)
}

// Update is the tagged mutation payload accepted by Apply. Exactly one
// concrete kind is handled per call; unrecognized kinds are rejected, not
// passed through to storage.
type Update interface {
	isUpdate()
}

// TimeChange reschedules the meeting.
type TimeChange struct {
	StartTime int64
	Duration  int64
}

// StateChange moves the meeting to another lifecycle state.
type StateChange struct {
	State      State
	Instigator string
}

// MessageAppend adds one activity log entry.
type MessageAppend struct {
	Message    string
	Instigator string
}

func (TimeChange) isUpdate()    {}
func (StateChange) isUpdate()   {}
func (MessageAppend) isUpdate() {}

// Service owns meeting lifecycle, the activity log, and the settling log.
type Service struct {
	meetings *store.Collection[Meeting]
	notifier Notifier
	clock    clock.Clock
	log      *zap.Logger
}

// NewService builds the meeting service.
func NewService(meetings *store.Collection[Meeting], notifier Notifier, clk clock.Clock, log *zap.Logger) *Service {
	return &Service{
		meetings: meetings,
		notifier: notifier,
		clock:    clk,
		log:      log.Named("meeting"),
	}
}

// Create validates and inserts a meeting.
func (s *Service) Create(ctx context.Context, m *Meeting) (store.CreateResult, error) {
	return s.meetings.Create(ctx, m)
}

// FindByID loads one meeting.
func (s *Service) FindByID(ctx context.Context, meetingID string) (*Meeting, error) {
	return s.meetings.FindByID(ctx, meetingID)
}

// FindByState returns meetings in the given state.
func (s *Service) FindByState(ctx context.Context, state State) ([]*Meeting, error) {
	return s.meetings.Find(ctx, store.Query{Fields: map[string]any{"state": string(state)}})
}

// FindByParticipant returns every meeting the owner takes part in, on
// either side.
func (s *Service) FindByParticipant(ctx context.Context, ownerID string) ([]*Meeting, error) {
	asPayer, err := s.meetings.Find(ctx, store.Query{Fields: map[string]any{"payer.ownerId": ownerID}})
	if err != nil {
		return nil, err
	}
	asReceiver, err := s.meetings.Find(ctx, store.Query{Fields: map[string]any{"receiver.ownerId": ownerID}})
	if err != nil {
		return nil, err
	}

	seen := make(map[id.ID]struct{}, len(asPayer))
	out := make([]*Meeting, 0, len(asPayer)+len(asReceiver))
	for _, m := range asPayer {
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	for _, m := range asReceiver {
		if _, ok := seen[m.ID]; !ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Apply performs one tagged update and fires the matching notification.
func (s *Service) Apply(ctx context.Context, meetingID string, update Update) (*Meeting, error) {
	switch u := update.(type) {
	case TimeChange:
		key, err := id.Parse(meetingID)
		if err != nil {
			return nil, err
		}
		// One write: a reschedule never lands with only one of the two
		// fields, since together they decide the charge amount.
		updated, err := s.meetings.FindAndModify(ctx,
			store.Query{ID: key},
			store.Update{Set: map[string]any{
				"startTime": u.StartTime,
				"duration":  u.Duration,
			}},
		)
		if err != nil {
			if errors.Is(err, store.ErrNoMatch) {
				return nil, fmt.Errorf("%w: meetings %s", store.ErrNotFound, meetingID)
			}
			return nil, err
		}
		s.notifier.MeetingTimeChanged(ctx, updated)
		return updated, nil

	case StateChange:
		if !u.State.Valid() {
			return nil, fmt.Errorf("%w: state %q", ErrUnknownUpdate, u.State)
		}
		if _, err := s.meetings.SetField(ctx, meetingID, "state", string(u.State)); err != nil {
			return nil, err
		}
		return s.meetings.PushToArray(ctx, meetingID, "logs", LogEntry{
			Message:    "state changed to " + string(u.State),
			Timestamp:  s.clock.Now(),
			Instigator: u.Instigator,
		})

	case MessageAppend:
		updated, err := s.meetings.PushToArray(ctx, meetingID, "logs", LogEntry{
			Message:    u.Message,
			Timestamp:  s.clock.Now(),
			Instigator: u.Instigator,
		})
		if err != nil {
			return nil, err
		}
		s.notifier.MessageReceived(ctx, updated)
		return updated, nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownUpdate, update)
	}
}

// CancelAllByParticipant cancels every meeting the owner takes part in,
// appending the cancellation message to each activity log.
func (s *Service) CancelAllByParticipant(ctx context.Context, ownerID, message, instigator string) error {
	meetings, err := s.FindByParticipant(ctx, ownerID)
	if err != nil {
		return err
	}
	for _, m := range meetings {
		if m.State == StateCancelled {
			continue
		}
		if _, err := s.meetings.SetField(ctx, m.ID.String(), "state", string(StateCancelled)); err != nil {
			return err
		}
		if _, err := s.meetings.PushToArray(ctx, m.ID.String(), "logs", LogEntry{
			Message:    message,
			Timestamp:  s.clock.Now(),
			Instigator: instigator,
		}); err != nil {
			return err
		}
	}
	return nil
}

// LogStartSettleProcess appends the "started" entry to the settling log.
// This write lands before the gateway is invoked, so the audit trail shows
// the attempt even under a crash after the charge.
func (s *Service) LogStartSettleProcess(ctx context.Context, meetingID string) error {
	_, err := s.meetings.PushToArray(ctx, meetingID, "settlingLog", SettleEntry{
		Date:    s.clock.Now(),
		Message: "Meeting settle process started",
	})
	return err
}

// LogSettleAsDone moves the meeting to PAYMENT_SETTLED and appends the
// "settled" entry, in one store operation. The update is conditioned on
// the state still being settleable; a concurrent settle that won the race
// leaves this one with store.ErrNoMatch instead of a double transition.
func (s *Service) LogSettleAsDone(ctx context.Context, meetingID string) (*Meeting, error) {
	return s.settleTransition(ctx, meetingID, StatePaymentSettled, "Meeting settled")
}

// LogSettleAsFailed moves the meeting to PAYMENT_TROUBLE and appends the
// "failed" entry carrying the cause.
func (s *Service) LogSettleAsFailed(ctx context.Context, meetingID, cause string) (*Meeting, error) {
	return s.settleTransition(ctx, meetingID, StatePaymentTrouble,
		"Meeting settling failed with an error "+cause)
}

func (s *Service) settleTransition(ctx context.Context, meetingID string, to State, message string) (*Meeting, error) {
	key, err := id.Parse(meetingID)
	if err != nil {
		return nil, err
	}
	return s.meetings.FindAndModify(ctx,
		store.Query{
			ID: key,
			In: map[string][]any{
				"state": {string(StateNeedsPayment), string(StatePaymentTrouble)},
			},
		},
		store.Update{
			Set: map[string]any{"state": string(to)},
			Push: map[string]any{
				"settlingLog": SettleEntry{Date: s.clock.Now(), Message: message},
			},
		},
	)
}
