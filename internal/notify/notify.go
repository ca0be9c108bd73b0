package notify

import (
	"context"

	"github.com/meetpay/meetpay/internal/meeting"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Log is a logging notifier. Delivery channels (email, push) hang off the
// surrounding system; the settlement core only needs the hook points.
type Log struct {
	log *zap.Logger
}

// NewLog builds the logging notifier.
func NewLog(log *zap.Logger) *Log {
	return &Log{log: log.Named("notify")}
}

func (n *Log) MessageReceived(ctx context.Context, m *meeting.Meeting) {
	n.log.Info("message received notification",
		zap.String("meeting_id", m.ID.String()),
		zap.String("receiver_owner_id", m.Receiver.OwnerID),
	)
}

func (n *Log) MeetingTimeChanged(ctx context.Context, m *meeting.Meeting) {
	n.log.Info("meeting time changed notification",
		zap.String("meeting_id", m.ID.String()),
		zap.Int64("start_time", m.StartTime),
	)
}

// Module provides the notifier consumed by the meeting service.
var Module = fx.Module("notify",
	fx.Provide(
		NewLog,
		func(n *Log) meeting.Notifier { return n },
	),
)
