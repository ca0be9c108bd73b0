package events

// Settlement event types recorded in the outbox for downstream consumers
// (reporting, reconciliation).
const (
	EventSettlementSettled = "settlement.settled"
	EventSettlementFailed  = "settlement.failed"
	EventSettlementPartial = "settlement.partial"
)

// SettlementPayload captures the minimal data a consumer needs to locate
// the full record.
type SettlementPayload struct {
	MeetingID string `json:"meeting_id"`
	Outcome   string `json:"outcome"`
	Cause     string `json:"cause,omitempty"`
}

// ToMap converts the payload into an outbox-friendly map.
func (p SettlementPayload) ToMap() map[string]any {
	payload := map[string]any{
		"meeting_id": p.MeetingID,
		"outcome":    p.Outcome,
	}
	if p.Cause != "" {
		payload["cause"] = p.Cause
	}
	return payload
}
