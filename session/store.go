// Package session tracks paid chat sessions, one record per agent.
// Records are created only after a successful payment verdict; the
// store itself never talks to the verifier.
package session

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/agentgate/agentgate/logger"
	"github.com/agentgate/agentgate/types"
)

const snapshotVersion = 1

// Store holds at most one session per agent id, guarded by a single
// mutex. Reads are self-cleaning: an expired or exhausted record is
// deleted the moment any operation observes it.
type Store struct {
	mu       sync.Mutex
	sessions map[string]types.SessionRecord

	clock       types.Clock
	log         logger.Logger
	persistPath string
}

type Option func(*Store)

func WithClock(c types.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// WithPersistPath snapshots the store to a JSON file after every
// mutation and reloads it at construction, so paid sessions survive a
// restart. An unreadable or corrupt snapshot starts the store empty.
func WithPersistPath(path string) Option {
	return func(s *Store) {
		s.persistPath = path
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]types.SessionRecord),
		clock:    types.SystemClock{},
		log:      logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.persistPath != "" {
		s.load()
	}
	return s
}

// Save records a paid session for agentID, replacing any previous one.
// Expiry and message budget are fixed from cfg at save time; changing
// an agent's limits later never touches sessions already issued.
func (s *Store) Save(agentID string, cfg types.SessionConfig, signature string) types.SessionRecord {
	now := s.clock.Now()
	rec := types.SessionRecord{
		AgentID:   agentID,
		PaidAt:    now,
		Signature: signature,
	}
	if cfg.MaxDurationMinutes > 0 {
		exp := now.Add(time.Duration(cfg.MaxDurationMinutes) * time.Minute)
		rec.ExpiresAt = &exp
	}
	if cfg.MaxMessages > 0 {
		remaining := cfg.MaxMessages
		rec.MessagesRemaining = &remaining
	}

	s.mu.Lock()
	s.sessions[agentID] = rec
	s.persistLocked()
	s.mu.Unlock()

	s.log.Info("session saved", map[string]any{
		"agent_id":  agentID,
		"signature": signature,
		"expires":   rec.ExpiresAt,
	})
	return rec
}

// GetActive returns the live session for agentID, deleting a stale
// record as a side effect.
func (s *Store) GetActive(agentID string) (*types.SessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[agentID]
	if !ok {
		return nil, false
	}
	if s.stale(rec) {
		delete(s.sessions, agentID)
		s.persistLocked()
		return nil, false
	}
	out := rec
	return &out, true
}

// GetAllActive reports the live sessions among agentIDs, pruning stale
// records along the way.
func (s *Store) GetAllActive(agentIDs []string) map[string]types.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]types.SessionRecord, len(agentIDs))
	changed := false
	for _, id := range agentIDs {
		rec, ok := s.sessions[id]
		if !ok {
			continue
		}
		if s.stale(rec) {
			delete(s.sessions, id)
			changed = true
			continue
		}
		out[id] = rec
	}
	if changed {
		s.persistLocked()
	}
	return out
}

// ConsumeMessage spends one message from the session's budget and
// returns the updated record. Sessions without a message budget pass
// through unchanged. Returns false when no live session exists.
func (s *Store) ConsumeMessage(agentID string) (*types.SessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[agentID]
	if !ok {
		return nil, false
	}
	if s.stale(rec) {
		delete(s.sessions, agentID)
		s.persistLocked()
		return nil, false
	}
	if rec.MessagesRemaining != nil {
		remaining := *rec.MessagesRemaining - 1
		rec.MessagesRemaining = &remaining
		s.sessions[agentID] = rec
		s.persistLocked()
	}
	out := rec
	return &out, true
}

// Clear removes the session for agentID, used when buying a fresh one.
func (s *Store) Clear(agentID string) {
	s.mu.Lock()
	delete(s.sessions, agentID)
	s.persistLocked()
	s.mu.Unlock()
}

func (s *Store) stale(rec types.SessionRecord) bool {
	return rec.Expired(s.clock.Now()) || rec.Exhausted()
}

type snapshot struct {
	Version  int                            `json:"version"`
	Sessions map[string]types.SessionRecord `json:"sessions"`
}

// persistLocked writes the snapshot through a temp file and rename so
// a crash mid-write never leaves a truncated snapshot behind. Callers
// hold s.mu. Persistence failures are logged, not returned; the
// in-memory state stays authoritative.
func (s *Store) persistLocked() {
	if s.persistPath == "" {
		return
	}

	data, err := json.MarshalIndent(snapshot{Version: snapshotVersion, Sessions: s.sessions}, "", "  ")
	if err != nil {
		s.log.Error("marshaling session snapshot", map[string]any{"error": err.Error()})
		return
	}

	temporaryPath := s.persistPath + ".tmp"
	if err := os.WriteFile(temporaryPath, data, 0600); err != nil {
		s.log.Error("writing temporary session snapshot", map[string]any{"error": err.Error()})
		return
	}
	if err := os.Rename(temporaryPath, s.persistPath); err != nil {
		os.Remove(temporaryPath)
		s.log.Error("renaming session snapshot into place", map[string]any{"error": err.Error()})
	}
}

func (s *Store) load() {
	data, err := os.ReadFile(s.persistPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("session snapshot unreadable, starting empty", map[string]any{
				"path":  s.persistPath,
				"error": err.Error(),
			})
		}
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warn("session snapshot corrupt, starting empty", map[string]any{
			"path":  s.persistPath,
			"error": err.Error(),
		})
		return
	}
	if snap.Version != snapshotVersion {
		s.log.Warn("session snapshot version unsupported, starting empty", map[string]any{
			"path":    s.persistPath,
			"version": snap.Version,
		})
		return
	}
	if snap.Sessions != nil {
		s.sessions = snap.Sessions
	}
}
