package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// Session is the durable identity of the current player: which team they
// belong to, the token authorizing server calls, and where they are in the
// game. Round and Page use 0 as "unset" — both are 1-based in play.
type Session struct {
	TeamID string
	Token  string
	Round  int
	Page   int
}

// Complete reports whether the session can talk to the server at all.
func (s Session) Complete() bool {
	return s.TeamID != "" && s.Round > 0
}

// Partial carries only the fields a caller wants to persist. Empty fields
// are left untouched in the store — a write never clears by omission.
type Partial struct {
	TeamID string
	Token  string
	Round  int
	Page   int
}

// Store reads and writes the session file. Values are kept as strings so a
// corrupt numeric degrades to unset instead of failing the whole read.
type Store struct {
	mu   sync.Mutex
	path string
	log  *zap.Logger
}

const fileName = "session.json"

// storage keys, kept stable across releases
const (
	keyTeamID = "team_id"
	keyToken  = "game_token"
	keyRound  = "current_round"
	keyPage   = "current_page"
)

func NewStore(dir string, log *zap.Logger) *Store {
	return &Store{path: filepath.Join(dir, fileName), log: log}
}

// Read returns the best-known session. A missing file, unreadable JSON, or
// a non-numeric round/page all degrade to unset fields; Read never fails.
func (s *Store) Read() Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := s.load()
	return Session{
		TeamID: values[keyTeamID],
		Token:  values[keyToken],
		Round:  parsePositive(values[keyRound]),
		Page:   parsePositive(values[keyPage]),
	}
}

// Write persists the fields present in p, leaving the rest as stored.
func (s *Store) Write(p Partial) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := s.load()
	if p.TeamID != "" {
		values[keyTeamID] = p.TeamID
	}
	if p.Token != "" {
		values[keyToken] = p.Token
	}
	if p.Round > 0 {
		values[keyRound] = strconv.Itoa(p.Round)
	}
	if p.Page > 0 {
		values[keyPage] = strconv.Itoa(p.Page)
	}
	return s.save(values)
}

// Clear removes all session keys together. Used on explicit logout only.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) load() map[string]string {
	values := map[string]string{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return values
	}
	if err := json.Unmarshal(data, &values); err != nil {
		s.log.Warn("session file unreadable, treating as empty",
			zap.String("path", s.path), zap.Error(err))
		return map[string]string{}
	}
	return values
}

func (s *Store) save(values map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func parsePositive(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
