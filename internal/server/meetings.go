package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/meetpay/meetpay/internal/ledger"
	"github.com/meetpay/meetpay/internal/meeting"
	obscontext "github.com/meetpay/meetpay/internal/observability/context"
	"github.com/meetpay/meetpay/internal/settlement"
)

type createMeetingRequest struct {
	PayerOwnerID    string `json:"payerOwnerId"`
	ReceiverOwnerID string `json:"receiverOwnerId"`
	StartTime       int64  `json:"startTime"`
	Duration        int64  `json:"duration"`
	Rate            int64  `json:"rate"`
}

// CreateMeeting inserts a meeting awaiting receiver confirmation.
func (s *Server) CreateMeeting(c *gin.Context) {
	var req createMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	m := &meeting.Meeting{
		Payer:     meeting.Participant{OwnerID: strings.TrimSpace(req.PayerOwnerID)},
		Receiver:  meeting.Participant{OwnerID: strings.TrimSpace(req.ReceiverOwnerID)},
		StartTime: req.StartTime,
		Duration:  req.Duration,
		Rate:      req.Rate,
		State:     meeting.StatePendingReceiverConfirm,
	}
	res, err := s.meetingSvc.Create(c.Request.Context(), m)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !res.Accepted {
		AbortWithError(c, newValidationError("", "refused", res.Reason))
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": m})
}

// GetMeeting loads one meeting by id.
func (s *Server) GetMeeting(c *gin.Context) {
	ctx := obscontext.WithMeetingID(c.Request.Context(), c.Param("meetingId"))
	m, err := s.meetingSvc.FindByID(ctx, c.Param("meetingId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": m})
}

type updateMeetingRequest struct {
	Kind       string `json:"kind"`
	StartTime  int64  `json:"startTime,omitempty"`
	Duration   int64  `json:"duration,omitempty"`
	State      string `json:"state,omitempty"`
	Message    string `json:"message,omitempty"`
	Instigator string `json:"instigator,omitempty"`
}

// UpdateMeeting applies one tagged update. The kind selects the variant;
// unrecognized kinds are rejected rather than passed through to storage.
func (s *Server) UpdateMeeting(c *gin.Context) {
	var req updateMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var update meeting.Update
	switch req.Kind {
	case "time_change":
		update = meeting.TimeChange{StartTime: req.StartTime, Duration: req.Duration}
	case "state_change":
		update = meeting.StateChange{State: meeting.State(req.State), Instigator: req.Instigator}
	case "message":
		update = meeting.MessageAppend{Message: req.Message, Instigator: req.Instigator}
	default:
		AbortWithError(c, newValidationError("kind", "unknown_update", "unknown update kind "+req.Kind))
		return
	}

	updated, err := s.meetingSvc.Apply(c.Request.Context(), c.Param("meetingId"), update)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": updated})
}

// ListMeetingsByOwner lists meetings the owner takes part in, on either
// side.
func (s *Server) ListMeetingsByOwner(c *gin.Context) {
	meetings, err := s.meetingSvc.FindByParticipant(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": meetings})
}

// Settle runs one settlement attempt for the meeting. The response always
// carries the meeting reference once it was located, so operators can
// find the settling log for any failed attempt.
func (s *Server) Settle(c *gin.Context) {
	meetingID := c.Param("meetingId")
	ctx := obscontext.WithMeetingID(c.Request.Context(), meetingID)
	ctx = obscontext.WithActor(ctx, "admin")

	result, err := s.settlementSvc.Settle(ctx, meetingID)
	if err != nil {
		if result != nil && result.Meeting != nil {
			status := statusForSettleError(err)
			c.AbortWithStatusJSON(status, gin.H{
				"success": false,
				"error":   err.Error(),
				"meeting": result.Meeting,
			})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": result.Outcome == settlement.OutcomeSettled,
		"outcome": result.Outcome,
		"cause":   result.Cause,
		"meeting": result.Meeting,
	})
}

func statusForSettleError(err error) int {
	switch {
	case errors.Is(err, settlement.ErrInvalidMeetingState):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
