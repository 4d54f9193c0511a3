package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/veilchat/veil/internal/notify"
	"github.com/veilchat/veil/internal/participant"
	"github.com/veilchat/veil/internal/rating"
	"github.com/veilchat/veil/internal/session"
)

// Events is the participant event fan-out the gateway subscribes to. The
// NATS messaging client satisfies it.
type Events interface {
	SubscribeUser(id string, handler func(data []byte)) error
	UnsubscribeUser(id string) error
}

// Deliverer forwards relayed messages toward their receiver, wherever that
// receiver is connected.
type Deliverer interface {
	Deliver(ctx context.Context, to participant.ID, sessionID string, msg notify.Message) error
}

// opTimeout bounds each manager call triggered by a client message.
const opTimeout = 5 * time.Second

// Handler maps decoded client messages onto session manager operations and
// writes the results back to the connection.
type Handler struct {
	mgr       *session.Manager
	deliverer Deliverer
	server    *Server // set by NewServer
}

// NewHandler creates a Handler around the session manager.
func NewHandler(mgr *session.Manager, deliverer Deliverer) *Handler {
	return &Handler{mgr: mgr, deliverer: deliverer}
}

// Handle processes one raw client frame.
func (h *Handler) Handle(c *Conn, data []byte) {
	msgType, msg, err := ParseClientMessage(data)
	if err != nil {
		h.sendError(c, CodeBadMessage, err.Error())
		return
	}

	if msgType == TypePing {
		h.send(c, TypePong, PongMsg{})
		return
	}

	if msgType == TypeIdentify {
		h.handleIdentify(c, msg.(IdentifyMsg))
		return
	}

	if c.Participant == "" {
		h.sendError(c, CodeNotIdentified, "identify first")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch m := msg.(type) {
	case FindPartnerMsg:
		h.handleFind(ctx, c, m.Room)
	case CancelMsg:
		h.handleCancel(ctx, c)
	case StopMsg:
		h.handleStop(ctx, c)
	case NextMsg:
		h.handleNext(ctx, c, m.Room)
	case ClientMessageMsg:
		h.handleMessage(ctx, c, m)
	case RateMsg:
		h.handleRate(ctx, c, m)
	case ReportMsg:
		h.handleReport(ctx, c, m)
	default:
		h.sendError(c, CodeBadMessage, fmt.Sprintf("unhandled message type %q", msgType))
	}
}

func (h *Handler) handleIdentify(c *Conn, m IdentifyMsg) {
	if m.ID == "" {
		h.sendError(c, CodeBadMessage, "empty id")
		return
	}
	c.Participant = participant.ID(m.ID)
	if err := h.server.bindParticipant(c); err != nil {
		log.Printf("[gateway] bind %s: %v", m.ID, err)
		h.sendError(c, CodeInternal, "subscription failed")
	}
}

func (h *Handler) handleFind(ctx context.Context, c *Conn, room string) {
	res, err := h.mgr.StartSearch(ctx, c.Participant, room)
	if err != nil {
		var restricted *session.RestrictedError
		switch {
		case errors.Is(err, session.ErrAlreadyActive):
			h.sendError(c, CodeAlreadyActive, "already in a chat")
		case errors.As(err, &restricted):
			h.sendError(c, CodeRestricted,
				fmt.Sprintf("matchmaking restricted for %s", restricted.Status.Remaining.Round(time.Second)))
		default:
			h.internalError(c, "find", err)
		}
		return
	}
	h.sendStartResult(c, res)
}

func (h *Handler) handleCancel(ctx context.Context, c *Conn) {
	if _, err := h.mgr.CancelSearch(ctx, c.Participant); err != nil {
		h.internalError(c, "cancel", err)
		return
	}
	// Idempotent: cancelling with no pending search still confirms.
	h.send(c, TypeSearchCancelled, SearchCancelledMsg{})
}

func (h *Handler) handleStop(ctx context.Context, c *Conn) {
	res, err := h.mgr.Stop(ctx, c.Participant)
	if err != nil {
		h.internalError(c, "stop", err)
		return
	}
	switch res.Outcome {
	case session.Cancelled:
		h.send(c, TypeSearchCancelled, SearchCancelledMsg{})
	case session.Stopped:
		h.send(c, TypeStopped, StoppedMsg{SessionID: res.SessionID})
	default:
		h.sendError(c, CodeNoActiveChat, "nothing to stop")
	}
}

func (h *Handler) handleNext(ctx context.Context, c *Conn, room string) {
	res, err := h.mgr.Next(ctx, c.Participant, room)
	if err != nil {
		h.internalError(c, "next", err)
		return
	}
	if res.Ended.Outcome == session.Stopped {
		h.send(c, TypeStopped, StoppedMsg{SessionID: res.Ended.SessionID})
	}
	h.sendStartResult(c, res.Start)
}

func (h *Handler) handleMessage(ctx context.Context, c *Conn, m ClientMessageMsg) {
	res, err := h.mgr.Relay(ctx, c.Participant, session.Content{
		Kind:    m.Kind,
		Text:    m.Text,
		FileRef: m.FileRef,
		Caption: m.Caption,
	})
	if err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			h.sendError(c, CodeNoActiveChat, "no active chat")
			return
		}
		h.internalError(c, "message", err)
		return
	}

	err = h.deliverer.Deliver(ctx, res.Receiver, res.SessionID, notify.Message{
		Kind:    m.Kind,
		Text:    m.Text,
		FileRef: m.FileRef,
		Caption: m.Caption,
	})
	if err != nil {
		log.Printf("[gateway] deliver to %s: %v", res.Receiver, err)
	}
}

func (h *Handler) handleRate(ctx context.Context, c *Conn, m RateMsg) {
	value, err := rating.ParseValue(m.Value)
	if err != nil {
		h.sendError(c, CodeBadMessage, err.Error())
		return
	}
	err = h.mgr.RecordRating(ctx, c.Participant, m.SessionID, value)
	switch {
	case err == nil:
		h.send(c, TypeRateRecorded, RateRecordedMsg{SessionID: m.SessionID})
	case errors.Is(err, rating.ErrAlreadyRated):
		h.sendError(c, CodeAlreadyRated, "session already rated")
	case errors.Is(err, session.ErrSessionNotEnded):
		h.sendError(c, CodeSessionNotEnded, "chat still active")
	case errors.Is(err, session.ErrNotParticipant):
		h.sendError(c, CodeNotParticipant, "not your session")
	case errors.Is(err, session.ErrNotFound):
		h.sendError(c, CodeUnknownSession, "unknown session")
	default:
		h.internalError(c, "rate", err)
	}
}

func (h *Handler) handleReport(ctx context.Context, c *Conn, m ReportMsg) {
	res, err := h.mgr.ReportPartner(ctx, c.Participant, m.Reason)
	switch {
	case err == nil:
		h.send(c, TypeReportRecorded, ReportRecordedMsg{SessionID: res.SessionID})
	case errors.Is(err, session.ErrBadReason):
		h.sendError(c, CodeBadReason, err.Error())
	case errors.Is(err, session.ErrNoActiveSession):
		h.sendError(c, CodeNoActiveChat, "no active chat")
	default:
		h.internalError(c, "report", err)
	}
}

func (h *Handler) sendStartResult(c *Conn, res session.StartResult) {
	if !res.Matched {
		h.send(c, TypeSearching, SearchingMsg{PoolSize: res.PoolSize})
		return
	}
	h.send(c, TypeMatchFound, MatchFoundMsg{
		SessionID: res.Session.ID,
		Partner:   partnerInfo(session.Summarize(res.Partner)),
	})
}

func (h *Handler) send(c *Conn, msgType string, payload interface{}) {
	data, err := NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[gateway] build %s: %v", msgType, err)
		return
	}
	h.server.write(c, data)
}

func (h *Handler) sendError(c *Conn, code, message string) {
	h.send(c, TypeError, ErrorMsg{Code: code, Message: message})
}

func (h *Handler) internalError(c *Conn, op string, err error) {
	log.Printf("[gateway] %s for %s: %v", op, c.Participant, err)
	h.sendError(c, CodeInternal, "internal error")
}

func partnerInfo(s session.PartnerSummary) PartnerInfo {
	info := PartnerInfo{
		Gender:  s.Gender.String(),
		Country: s.Country,
	}
	if s.Age != nil {
		info.AgeMin = s.Age.Min
		info.AgeMax = s.Age.Max
	}
	return info
}

// translateEvent turns a participant event from NATS into the wire message
// for the connected client. Returns (nil, nil) for event types the gateway
// does not forward.
func translateEvent(data []byte) ([]byte, error) {
	var e notify.Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("gateway: decode event: %w", err)
	}

	switch e.Type {
	case notify.EventMatchFound:
		info := PartnerInfo{}
		if e.Partner != nil {
			info = PartnerInfo{
				Gender:  e.Partner.Gender,
				AgeMin:  e.Partner.AgeMin,
				AgeMax:  e.Partner.AgeMax,
				Country: e.Partner.Country,
			}
		}
		return NewServerMessage(TypeMatchFound, MatchFoundMsg{
			SessionID: e.SessionID,
			Partner:   info,
		})
	case notify.EventPartnerLeft:
		return NewServerMessage(TypePartnerLeft, PartnerLeftMsg{
			SessionID: e.SessionID,
			Skipped:   e.Skipped,
		})
	case notify.EventMessage:
		if e.Message == nil {
			return nil, fmt.Errorf("gateway: message event without payload")
		}
		return NewServerMessage(TypeMessage, ServerMessageMsg{
			SessionID: e.SessionID,
			Kind:      e.Message.Kind,
			Text:      e.Message.Text,
			FileRef:   e.Message.FileRef,
			Caption:   e.Message.Caption,
		})
	default:
		return nil, nil
	}
}
