// Package notify turns session lifecycle changes into events on participant
// subjects. The gateway holding a participant's connection picks them up and
// forwards them over the wire.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/veilchat/veil/internal/messaging"
	"github.com/veilchat/veil/internal/participant"
	"github.com/veilchat/veil/internal/session"
)

// Event types carried on participant subjects.
const (
	EventMatchFound  = "match_found"
	EventPartnerLeft = "partner_left"
	EventMessage     = "message"
)

// Partner is the anonymized partner description in a match_found event.
type Partner struct {
	Gender  string `json:"gender,omitempty"`
	AgeMin  int    `json:"age_min,omitempty"`
	AgeMax  int    `json:"age_max,omitempty"`
	Country string `json:"country,omitempty"`
}

// Message is a relayed message payload in a message event.
type Message struct {
	Kind    string `json:"kind"`
	Text    string `json:"text,omitempty"`
	FileRef string `json:"file_ref,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// Event is the envelope published to user.<id>.
type Event struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id,omitempty"`
	Partner   *Partner `json:"partner,omitempty"`
	Skipped   bool     `json:"skipped,omitempty"`
	Message   *Message `json:"message,omitempty"`
}

// Publisher sends raw event bytes to a participant's subject. The NATS
// messaging client satisfies it.
type Publisher interface {
	PublishUser(id string, data []byte) error
}

var _ Publisher = (*messaging.Client)(nil)

// Notifier publishes session events to participant subjects. It implements
// session.Notifier.
type Notifier struct {
	pub Publisher
}

// NewNotifier wraps a publisher, normally the connected messaging client.
func NewNotifier(pub Publisher) *Notifier {
	return &Notifier{pub: pub}
}

// MatchFound tells a claimed participant they have been paired.
func (n *Notifier) MatchFound(_ context.Context, to participant.ID, sessionID string, partner session.PartnerSummary) error {
	p := &Partner{
		Gender:  partner.Gender.String(),
		Country: partner.Country,
	}
	if partner.Age != nil {
		p.AgeMin = partner.Age.Min
		p.AgeMax = partner.Age.Max
	}
	return n.publish(to, Event{Type: EventMatchFound, SessionID: sessionID, Partner: p})
}

// PartnerLeft tells a participant their partner ended the session. skipped
// distinguishes "moved on to someone else" from a plain stop.
func (n *Notifier) PartnerLeft(_ context.Context, to participant.ID, sessionID string, skipped bool) error {
	return n.publish(to, Event{Type: EventPartnerLeft, SessionID: sessionID, Skipped: skipped})
}

// Deliver forwards a relayed message to its receiver.
func (n *Notifier) Deliver(_ context.Context, to participant.ID, sessionID string, msg Message) error {
	return n.publish(to, Event{Type: EventMessage, SessionID: sessionID, Message: &msg})
}

func (n *Notifier) publish(to participant.ID, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("notify: marshal %s event: %w", e.Type, err)
	}
	if err := n.pub.PublishUser(string(to), data); err != nil {
		return fmt.Errorf("notify: publish to %s: %w", to, err)
	}
	return nil
}
