// Package gateway is the WebSocket edge of the service. It upgrades client
// connections, decodes the JSON wire protocol, drives the session manager,
// and forwards NATS events for its connected participants back down the wire.
package gateway

import (
	"encoding/json"
	"fmt"
)

// Client -> Server message types.
const (
	TypeIdentify    = "identify"
	TypeFindPartner = "find_partner"
	TypeCancel      = "cancel"
	TypeStop        = "stop"
	TypeNext        = "next"
	TypeMessage     = "message"
	TypeRate        = "rate"
	TypeReport      = "report"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeSearching       = "searching"
	TypeMatchFound      = "match_found"
	TypeSearchCancelled = "search_cancelled"
	TypeStopped         = "stopped"
	TypePartnerLeft     = "partner_left"
	TypeRateRecorded    = "rate_recorded"
	TypeReportRecorded  = "report_recorded"
	TypeError           = "error"
	TypePong            = "pong"
)

// Error codes carried in ErrorMsg.
const (
	CodeBadMessage      = "bad_message"
	CodeNotIdentified   = "not_identified"
	CodeAlreadyActive   = "already_active"
	CodeNoActiveChat    = "no_active_chat"
	CodeAlreadyRated    = "already_rated"
	CodeSessionNotEnded = "session_not_ended"
	CodeNotParticipant  = "not_participant"
	CodeUnknownSession  = "unknown_session"
	CodeRestricted      = "restricted"
	CodeBadReason       = "bad_reason"
	CodeInternal        = "internal"
)

// Envelope captures the type discriminator and raw bytes of an incoming
// message so the payload can be decoded into the concrete struct afterwards.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the full raw message and extracts only the type field.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("gateway: unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("gateway: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// IdentifyMsg binds the connection to a participant identity. It must be the
// first message on a fresh connection.
type IdentifyMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// FindPartnerMsg starts a search, optionally scoped to a room.
type FindPartnerMsg struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

// CancelMsg withdraws a pending search.
type CancelMsg struct {
	Type string `json:"type"`
}

// StopMsg cancels a pending search or ends the active session.
type StopMsg struct {
	Type string `json:"type"`
}

// NextMsg leaves the active session and searches again, optionally scoped to
// a room.
type NextMsg struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

// ClientMessageMsg is a message for the current partner.
type ClientMessageMsg struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Text    string `json:"text,omitempty"`
	FileRef string `json:"file_ref,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// RateMsg rates an ended session.
type RateMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Value     string `json:"value"` // "positive" or "negative"
}

// ReportMsg reports the current partner for abuse.
type ReportMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"` // harassment, spam, explicit, other
}

// PingMsg is a client-initiated keepalive.
type PingMsg struct {
	Type string `json:"type"`
}

// SearchingMsg confirms the client entered the waiting pool.
type SearchingMsg struct {
	Type     string `json:"type"`
	PoolSize int    `json:"pool_size"`
}

// PartnerInfo is the anonymized partner description sent with a match.
type PartnerInfo struct {
	Gender  string `json:"gender,omitempty"`
	AgeMin  int    `json:"age_min,omitempty"`
	AgeMax  int    `json:"age_max,omitempty"`
	Country string `json:"country,omitempty"`
}

// MatchFoundMsg announces a new session.
type MatchFoundMsg struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Partner   PartnerInfo `json:"partner"`
}

// SearchCancelledMsg confirms a pending search was withdrawn.
type SearchCancelledMsg struct {
	Type string `json:"type"`
}

// StoppedMsg confirms the active session was ended by this client.
type StoppedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// PartnerLeftMsg tells the client their partner ended the session. Skipped
// distinguishes "moved on" from a plain stop.
type PartnerLeftMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Skipped   bool   `json:"skipped"`
}

// ServerMessageMsg relays a partner's message to the client.
type ServerMessageMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Text      string `json:"text,omitempty"`
	FileRef   string `json:"file_ref,omitempty"`
	Caption   string `json:"caption,omitempty"`
}

// RateRecordedMsg confirms a rating was stored.
type RateRecordedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// ReportRecordedMsg confirms a report was stored.
type ReportRecordedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// ErrorMsg communicates a failed operation.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg answers a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ParseClientMessage decodes raw bytes into a typed client message. Unknown
// and server-only types are rejected.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("gateway: parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeIdentify:
		var m IdentifyMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFindPartner:
		var m FindPartnerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCancel:
		var m CancelMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStop:
		var m StopMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeNext:
		var m NextMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ClientMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeRate:
		var m RateMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReport:
		var m ReportMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("gateway: unknown client message type %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("gateway: decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage marshals a server payload, forcing the type discriminator
// under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("gateway: remarshal payload: %w", err)
	}
	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal server message: %w", err)
	}
	return out, nil
}
