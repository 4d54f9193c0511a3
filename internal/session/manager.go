package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/veilchat/veil/internal/match"
	"github.com/veilchat/veil/internal/metrics"
	"github.com/veilchat/veil/internal/msglog"
	"github.com/veilchat/veil/internal/participant"
	"github.com/veilchat/veil/internal/pool"
	"github.com/veilchat/veil/internal/rating"
	"github.com/veilchat/veil/internal/report"
	"github.com/veilchat/veil/internal/restrict"
)

var (
	// ErrAlreadyActive rejects a search while an active session exists.
	ErrAlreadyActive = errors.New("session: already in an active session")

	// ErrNoActiveSession rejects relay for a participant with no session.
	ErrNoActiveSession = errors.New("session: no active session")

	// ErrSessionNotEnded rejects rating a session that is still active.
	ErrSessionNotEnded = errors.New("session: not ended yet")

	// ErrNotParticipant rejects rating by someone outside the session.
	ErrNotParticipant = errors.New("session: not a participant")

	// ErrBadReason rejects a report with a reason outside the allowed set.
	ErrBadReason = errors.New("session: invalid report reason")
)

// RestrictedError rejects a search while a matchmaking restriction is in
// force.
type RestrictedError struct {
	Status restrict.Status
}

func (e *RestrictedError) Error() string {
	return fmt.Sprintf("session: restricted for %s (%s)", e.Status.Remaining, e.Status.Reason)
}

// PartnerSummary is the anonymized view of a matched partner that is safe to
// show: attributes only, never the identity.
type PartnerSummary struct {
	Gender  participant.Gender
	Age     *participant.AgeRange
	Country string
}

// Summarize builds a PartnerSummary from a snapshot.
func Summarize(s participant.Snapshot) PartnerSummary {
	return PartnerSummary{Gender: s.Gender, Age: s.Age, Country: s.Country}
}

// Notifier delivers out-of-band events to participants. Delivery failures are
// logged by the manager and never fail the triggering operation.
type Notifier interface {
	MatchFound(ctx context.Context, to participant.ID, sessionID string, partner PartnerSummary) error
	PartnerLeft(ctx context.Context, to participant.ID, sessionID string, skipped bool) error
}

// Stats accumulates per-participant activity counters. Failures are logged,
// never propagated.
type Stats interface {
	AddSession(ctx context.Context, id participant.ID) error
	AddMessage(ctx context.Context, id participant.ID) error
}

// Reputation adjusts a participant's standing after a rating. Failures are
// logged, never propagated; the rating itself is already recorded.
type Reputation interface {
	Adjust(ctx context.Context, id participant.ID, delta int) error
}

// Restrictor guards matchmaking with temporary restrictions and accumulates
// abuse reports toward automatic ones. The Redis restriction store satisfies
// it. Check failures fail open so a Redis outage cannot stop all pairing.
type Restrictor interface {
	Check(ctx context.Context, id participant.ID) (restrict.Status, error)
	ReportAndCheck(ctx context.Context, id participant.ID) (bool, time.Duration, error)
}

// Reporter persists abuse reports for moderator review.
type Reporter interface {
	Create(ctx context.Context, r *report.Report) error
}

// SnapshotProvider resolves the current matching snapshot of a participant.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, id participant.ID) (participant.Snapshot, error)
}

// SnapshotFunc adapts a function to SnapshotProvider.
type SnapshotFunc func(ctx context.Context, id participant.ID) (participant.Snapshot, error)

func (f SnapshotFunc) Snapshot(ctx context.Context, id participant.ID) (participant.Snapshot, error) {
	return f(ctx, id)
}

// Content is a relayed message payload. Text carries the body for text
// messages; FileRef carries the opaque media reference for everything else.
type Content struct {
	Kind    string // one of the msglog kind constants
	Text    string
	FileRef string
	Caption string
}

// StartResult is the outcome of a search. Matched == true means a session was
// created; otherwise the requester joined the pool with PoolSize others ahead
// of or behind them.
type StartResult struct {
	Matched  bool
	Session  *Session
	Partner  participant.Snapshot
	PoolSize int
}

// StopOutcome discriminates what Stop actually stopped.
type StopOutcome int

const (
	// NothingToStop: no pending search and no active session.
	NothingToStop StopOutcome = iota
	// Cancelled: a pending search was withdrawn from the pool.
	Cancelled
	// Stopped: an active session was ended.
	Stopped
)

// StopResult describes the effect of Stop or the ending half of Next.
type StopResult struct {
	Outcome   StopOutcome
	SessionID string
	Partner   participant.ID
}

// NextResult is Stop-then-search in one step. Ended is zero-valued when there
// was no active session to leave.
type NextResult struct {
	Ended StopResult
	Start StartResult
}

// RelayResult identifies where a relayed message went.
type RelayResult struct {
	SessionID string
	Receiver  participant.ID
}

// ManagerConfig wires the manager's collaborators. Pool, Sessions, Ratings,
// Messages and Snapshots are required; the rest may be nil.
type ManagerConfig struct {
	Pool       pool.Store
	Sessions   Store
	Ratings    rating.Store
	Messages   msglog.Store
	Snapshots  SnapshotProvider
	Notifier   Notifier
	Stats      Stats
	Reputation Reputation
	Restrictor Restrictor
	Reports    Reporter
}

// Manager drives the participant lifecycle: searching, pairing, relaying,
// leaving, rating. It owns the match coordinator and enforces the one-active-
// session invariant through the session store.
type Manager struct {
	coord      *match.Coordinator
	sessions   Store
	ratings    rating.Store
	messages   msglog.Store
	snapshots  SnapshotProvider
	notifier   Notifier
	stats      Stats
	reputation Reputation
	restrictor Restrictor
	reports    Reporter
	now        func() time.Time
	newID      func() string
}

// NewManager creates a Manager and its internal coordinator.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		sessions:   cfg.Sessions,
		ratings:    cfg.Ratings,
		messages:   cfg.Messages,
		snapshots:  cfg.Snapshots,
		notifier:   cfg.Notifier,
		stats:      cfg.Stats,
		reputation: cfg.Reputation,
		restrictor: cfg.Restrictor,
		reports:    cfg.Reports,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	matcher := match.NewMatcher(cfg.Pool)
	m.coord = match.NewCoordinator(cfg.Pool, matcher, func(ctx context.Context, id participant.ID) (bool, error) {
		s, err := m.sessions.ActiveOf(ctx, id)
		return s != nil, err
	})
	return m
}

// StartSearch looks for a partner for id, scoped to room when room is
// non-empty. On a match it creates the session and notifies the claimed
// partner; otherwise the requester waits in the pool.
func (m *Manager) StartSearch(ctx context.Context, id participant.ID, room string) (StartResult, error) {
	if m.restrictor != nil {
		st, err := m.restrictor.Check(ctx, id)
		if err != nil {
			// Fail open: a restriction-store outage must not stop pairing.
			log.Printf("[session] restriction check for %s: %v", id, err)
		} else if st.Restricted {
			return StartResult{}, &RestrictedError{Status: st}
		}
	}

	snap, err := m.snapshots.Snapshot(ctx, id)
	if err != nil {
		return StartResult{}, fmt.Errorf("session: snapshot for %s: %w", id, err)
	}

	out, err := m.coord.MatchOrEnqueue(ctx, snap, room)
	if err != nil {
		if errors.Is(err, match.ErrAlreadyInSession) {
			return StartResult{}, ErrAlreadyActive
		}
		return StartResult{}, err
	}

	if !out.Matched() {
		metrics.QueueSize.Set(float64(out.PoolSize))
		return StartResult{PoolSize: out.PoolSize}, nil
	}

	cand := out.Candidate
	now := m.now()
	s := &Session{
		ID:        m.newID(),
		UserA:     id,
		UserB:     cand.Snapshot.ID,
		Status:    StatusActive,
		StartedAt: now,
	}
	if room != "" && cand.Room == room {
		s.Room = room
	}
	if err := m.sessions.Create(ctx, s); err != nil {
		// The candidate is already claimed out of the pool; put them back so
		// they are not stranded.
		reErr := m.coord.Requeue(ctx, *cand)
		if reErr != nil {
			log.Printf("[session] requeue of %s after create failure: %v", cand.Snapshot.ID, reErr)
		}
		return StartResult{}, fmt.Errorf("session: create: %w", err)
	}

	scope := "global"
	if s.Room != "" {
		scope = "room"
	}
	metrics.MatchesTotal.WithLabelValues(scope).Inc()
	metrics.MatchWait.Observe(cand.Waited(now).Seconds())
	metrics.ActiveSessions.Inc()

	m.notifyMatch(ctx, cand.Snapshot.ID, s.ID, Summarize(snap))
	m.bumpSessionStats(ctx, id, cand.Snapshot.ID)

	return StartResult{Matched: true, Session: s, Partner: cand.Snapshot}, nil
}

// CancelSearch withdraws a pending search without touching any active
// session. Idempotent; reports whether an entry was removed.
func (m *Manager) CancelSearch(ctx context.Context, id participant.ID) (bool, error) {
	return m.coord.CancelSearch(ctx, id)
}

// Stop withdraws a pending search, or ends the active session, in that order.
// A participant cannot be both waiting and in a session, so at most one of
// the two applies.
func (m *Manager) Stop(ctx context.Context, id participant.ID) (StopResult, error) {
	removed, err := m.coord.CancelSearch(ctx, id)
	if err != nil {
		return StopResult{}, err
	}
	if removed {
		return StopResult{Outcome: Cancelled}, nil
	}
	return m.endActive(ctx, id, false)
}

// Next leaves the current session (notifying the partner that they were
// skipped) and immediately searches again. Without an active session it
// degrades to a plain search.
func (m *Manager) Next(ctx context.Context, id participant.ID, room string) (NextResult, error) {
	ended, err := m.endActive(ctx, id, true)
	if err != nil {
		return NextResult{}, err
	}
	start, err := m.StartSearch(ctx, id, room)
	if err != nil {
		return NextResult{Ended: ended}, err
	}
	return NextResult{Ended: ended, Start: start}, nil
}

// endActive ends id's active session if one exists. skipped marks the
// partner-left notification as a skip (Next) rather than a stop.
func (m *Manager) endActive(ctx context.Context, id participant.ID, skipped bool) (StopResult, error) {
	s, err := m.sessions.ActiveOf(ctx, id)
	if err != nil {
		return StopResult{}, err
	}
	if s == nil {
		return StopResult{Outcome: NothingToStop}, nil
	}
	if err := m.sessions.End(ctx, s.ID, m.now()); err != nil {
		return StopResult{}, err
	}
	metrics.ActiveSessions.Dec()

	partner := s.Partner(id)
	if m.notifier != nil {
		if err := m.notifier.PartnerLeft(ctx, partner, s.ID, skipped); err != nil {
			log.Printf("[session] partner-left notify to %s: %v", partner, err)
		}
	}
	return StopResult{Outcome: Stopped, SessionID: s.ID, Partner: partner}, nil
}

// Relay records a message from sender to their current partner and returns
// where it should be delivered. The manager does not deliver; the gateway
// does, using the returned receiver.
func (m *Manager) Relay(ctx context.Context, sender participant.ID, c Content) (RelayResult, error) {
	s, err := m.sessions.ActiveOf(ctx, sender)
	if err != nil {
		return RelayResult{}, err
	}
	if s == nil {
		return RelayResult{}, ErrNoActiveSession
	}

	receiver := s.Partner(sender)
	err = m.messages.Append(ctx, msglog.Entry{
		SessionID: s.ID,
		Sender:    sender,
		Receiver:  receiver,
		Kind:      c.Kind,
		Text:      c.Text,
		FileRef:   c.FileRef,
		Caption:   c.Caption,
		CreatedAt: m.now(),
	})
	if err != nil {
		return RelayResult{}, fmt.Errorf("session: message log: %w", err)
	}
	if err := m.sessions.IncrementMessages(ctx, s.ID); err != nil {
		return RelayResult{}, err
	}
	if m.stats != nil {
		if err := m.stats.AddMessage(ctx, sender); err != nil {
			log.Printf("[session] message stats for %s: %v", sender, err)
		}
	}
	metrics.MessagesRelayed.Inc()

	return RelayResult{SessionID: s.ID, Receiver: receiver}, nil
}

// RecordRating stores rater's verdict on an ended session they took part in.
// The first rating wins; repeats fail with rating.ErrAlreadyRated.
func (m *Manager) RecordRating(ctx context.Context, rater participant.ID, sessionID string, v rating.Value) error {
	s, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if s == nil {
		return ErrNotFound
	}
	if !s.IsParticipant(rater) {
		return ErrNotParticipant
	}
	if s.Status != StatusEnded {
		return ErrSessionNotEnded
	}

	ratee := s.Partner(rater)
	err = m.ratings.Add(ctx, rating.Rating{
		SessionID: sessionID,
		Rater:     rater,
		Ratee:     ratee,
		Value:     v,
		CreatedAt: m.now(),
	})
	if err != nil {
		return err
	}
	metrics.RatingsTotal.WithLabelValues(string(v)).Inc()

	if m.reputation != nil {
		delta := 1
		if v == rating.Negative {
			delta = -1
		}
		if err := m.reputation.Adjust(ctx, ratee, delta); err != nil {
			log.Printf("[session] reputation adjust for %s: %v", ratee, err)
		}
	}
	return nil
}

// reportSnapshotLen is how many recent messages get attached to a report.
const reportSnapshotLen = 10

// ReportResult describes the effect of ReportPartner.
type ReportResult struct {
	SessionID  string
	Reported   participant.ID
	Restricted bool
	Duration   time.Duration
}

// ReportPartner files an abuse report against the current partner, attaching
// the last few messages of the session. Enough reports in a short window
// restrict the reported participant from matchmaking automatically.
func (m *Manager) ReportPartner(ctx context.Context, reporter participant.ID, reason string) (ReportResult, error) {
	if !report.ValidReason(reason) {
		return ReportResult{}, fmt.Errorf("%w: %q", ErrBadReason, reason)
	}
	if m.reports == nil {
		return ReportResult{}, errors.New("session: reporting not configured")
	}

	s, err := m.sessions.ActiveOf(ctx, reporter)
	if err != nil {
		return ReportResult{}, err
	}
	if s == nil {
		return ReportResult{}, ErrNoActiveSession
	}
	reported := s.Partner(reporter)

	entries, err := m.messages.Recent(ctx, s.ID, reportSnapshotLen)
	if err != nil {
		// The report still has value without the snapshot.
		log.Printf("[session] report snapshot for %s: %v", s.ID, err)
		entries = nil
	}
	snapshot := make([]report.MessageEntry, 0, len(entries))
	for _, e := range entries {
		from := "reported"
		if e.Sender == reporter {
			from = "reporter"
		}
		snapshot = append(snapshot, report.MessageEntry{
			From: from,
			Kind: e.Kind,
			Text: e.Text,
			Ts:   e.CreatedAt.Unix(),
		})
	}

	err = m.reports.Create(ctx, &report.Report{
		SessionID: s.ID,
		Reporter:  reporter,
		Reported:  reported,
		Reason:    reason,
		Messages:  snapshot,
	})
	if err != nil {
		return ReportResult{}, err
	}
	metrics.ReportsTotal.Inc()

	res := ReportResult{SessionID: s.ID, Reported: reported}
	if m.restrictor != nil {
		applied, duration, err := m.restrictor.ReportAndCheck(ctx, reported)
		if err != nil {
			log.Printf("[session] report escalation for %s: %v", reported, err)
		} else if applied {
			res.Restricted = true
			res.Duration = duration
		}
	}
	return res, nil
}

// ActiveSessionOf returns id's active session, nil when there is none.
func (m *Manager) ActiveSessionOf(ctx context.Context, id participant.ID) (*Session, error) {
	return m.sessions.ActiveOf(ctx, id)
}

// QueueSize reports the current waiting pool size.
func (m *Manager) QueueSize(ctx context.Context) (int, error) {
	return m.coord.QueueSize(ctx)
}

func (m *Manager) notifyMatch(ctx context.Context, to participant.ID, sessionID string, partner PartnerSummary) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.MatchFound(ctx, to, sessionID, partner); err != nil {
		log.Printf("[session] match notify to %s: %v", to, err)
	}
}

func (m *Manager) bumpSessionStats(ctx context.Context, a, b participant.ID) {
	if m.stats == nil {
		return
	}
	for _, id := range []participant.ID{a, b} {
		if err := m.stats.AddSession(ctx, id); err != nil {
			log.Printf("[session] session stats for %s: %v", id, err)
		}
	}
}
