// Package store persists conversations for the surfaces that cannot hold the
// state themselves (HTTP sessions, WhatsApp).
//
// It provides an in-memory store for tests and the CLI, and SQLite and
// PostgreSQL backends for the server. Every backend also implements the
// inbound dedup and reply outbox repositories used by the WhatsApp webhook.
package store

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TriageChat/internal/models"
	"github.com/BTreeMap/TriageChat/internal/util"
)

// ErrSessionNotFound is returned when no session matches the lookup.
var ErrSessionNotFound = errors.New("session not found")

// Store is the session persistence contract.
type Store interface {
	DedupRepo
	OutboxRepo

	// CreateSession inserts a new session.
	CreateSession(s models.Session) error
	// GetSession returns the session with id, or ErrSessionNotFound.
	GetSession(id string) (models.Session, error)
	// FindSessionByExternalID returns the most recently updated session of
	// channel with the given external id, or ErrSessionNotFound.
	FindSessionByExternalID(channel models.Channel, externalID string) (models.Session, error)
	// SaveSessionState replaces the stored state of a session.
	SaveSessionState(id string, state models.State) error
	// DeleteSession removes a session and its transcript.
	DeleteSession(id string) error
	// AppendTurn adds a transcript entry. Re-appending the same turn number
	// replaces the entry.
	AppendTurn(t models.Turn) error
	// ListTurns returns the transcript ordered by turn number.
	ListTurns(sessionID string) ([]models.Turn, error)
	// Close releases the backend.
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string // database connection string or file path
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for PostgreSQL URLs or keyword DSNs and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// InMemoryStore keeps everything in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	turns    map[string]map[int]models.Turn
	inbound  map[string]DedupRecord
	outbox   []OutboxMessage
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: map[string]models.Session{},
		turns:    map[string]map[int]models.Turn{},
		inbound:  map[string]DedupRecord{},
	}
}

func copySession(s models.Session) models.Session {
	s.State = s.State.Clone()
	return s
}

func (s *InMemoryStore) CreateSession(sess models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return errors.New("session already exists")
	}
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

func (s *InMemoryStore) GetSession(id string) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}
	return copySession(sess), nil
}

func (s *InMemoryStore) FindSessionByExternalID(channel models.Channel, externalID string) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Session
	for _, sess := range s.sessions {
		if sess.Channel != channel || sess.ExternalID != externalID {
			continue
		}
		if found == nil || sess.UpdatedAt.After(found.UpdatedAt) {
			cp := sess
			found = &cp
		}
	}
	if found == nil {
		return models.Session{}, ErrSessionNotFound
	}
	return copySession(*found), nil
}

func (s *InMemoryStore) SaveSessionState(id string, state models.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.State = state.Clone()
	sess.UpdatedAt = time.Now()
	s.sessions[id] = sess
	return nil
}

func (s *InMemoryStore) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	delete(s.turns, id)
	return nil
}

func (s *InMemoryStore) AppendTurn(t models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[t.SessionID]; !ok {
		return ErrSessionNotFound
	}
	if s.turns[t.SessionID] == nil {
		s.turns[t.SessionID] = map[int]models.Turn{}
	}
	s.turns[t.SessionID][t.Turn] = t
	return nil
}

func (s *InMemoryStore) ListTurns(sessionID string) ([]models.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}
	turns := make([]models.Turn, 0, len(s.turns[sessionID]))
	for _, t := range s.turns[sessionID] {
		turns = append(turns, t)
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].Turn < turns[j].Turn })
	return turns, nil
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inbound[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, sessionKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageID]; ok {
		return false, nil
	}
	s.inbound[messageID] = DedupRecord{MessageID: messageID, SessionKey: sessionKey, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inbound[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.inbound[messageID] = rec
	return nil
}

func (s *InMemoryStore) PruneInbound(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.inbound {
		if rec.ProcessedAt != nil && rec.ReceivedAt.Before(cutoff) {
			delete(s.inbound, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) EnqueueOutboxMessage(sessionID, recipient, body, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusCanceled {
				return m.ID, nil
			}
		}
	}
	now := time.Now()
	m := OutboxMessage{
		ID:        util.GenerateOutboxID(),
		SessionID: sessionID,
		Recipient: recipient,
		Body:      body,
		Status:    OutboxStatusQueued,
		DedupeKey: dedupeKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.outbox = append(s.outbox, m)
	return m.ID, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []OutboxMessage
	for i := range s.outbox {
		if len(claimed) >= limit {
			break
		}
		m := &s.outbox[i]
		if m.Status != OutboxStatusQueued || (m.NextAttemptAt != nil && m.NextAttemptAt.After(now)) {
			continue
		}
		locked := now
		m.Status = OutboxStatusSending
		m.LockedAt = &locked
		m.UpdatedAt = now
		claimed = append(claimed, *m)
	}
	return claimed, nil
}

func (s *InMemoryStore) updateOutbox(id string, fn func(m *OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			fn(&s.outbox[i])
			s.outbox[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return errors.New("outbox message not found")
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusSent
	})
}

func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusQueued
		m.Attempts++
		m.LastError = errMsg
		m.NextAttemptAt = &nextAttemptAt
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) CancelOutboxMessage(id string, reason string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusCanceled
		m.LastError = reason
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.outbox {
		m := &s.outbox[i]
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) PruneOutbox(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.outbox[:0]
	n := 0
	for _, m := range s.outbox {
		done := m.Status == OutboxStatusSent || m.Status == OutboxStatusCanceled
		if done && m.UpdatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, m)
	}
	s.outbox = kept
	return n, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
