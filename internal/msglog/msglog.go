// Package msglog is the append-only log of relayed messages. The core keeps
// it for counters and audit; delivery itself happens outside the core.
package msglog

import (
	"context"
	"time"

	"github.com/veilchat/veil/internal/participant"
)

// Content kinds mirrored from the delivery layer. Free-form strings are
// accepted; these cover the known kinds.
const (
	KindText      = "text"
	KindPhoto     = "photo"
	KindVideo     = "video"
	KindSticker   = "sticker"
	KindVoice     = "voice"
	KindVideoNote = "video_note"
	KindDocument  = "document"
)

// Entry is one relayed message. Text is set for text messages; FileRef
// points at an externally stored payload for media kinds.
type Entry struct {
	SessionID string
	Sender    participant.ID
	Receiver  participant.ID
	Kind      string
	Text      string
	FileRef   string
	Caption   string
	CreatedAt time.Time
}

// Store appends and reads back message log entries.
type Store interface {
	Append(ctx context.Context, e Entry) error
	// Recent returns up to n of the latest entries for a session, oldest
	// first.
	Recent(ctx context.Context, sessionID string, n int) ([]Entry, error)
}
