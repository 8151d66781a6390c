// Package state persists per-channel cursors and fingerprint histories for
// both pull agents, and mirrors a digest into the remote agent's state file.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockedby/channel-relay/internal/signature"
)

// ChatState is the cursor + fingerprint history for one channel key.
type ChatState struct {
	LastMessageID    int64             `json:"last_message_id"`
	LastFetchTS      int64             `json:"last_fetch_ts"` // unix seconds of last successful fetch
	RecentSignatures signature.History `json:"recent_signatures"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// AgentState holds the per-channel states owned by one pull agent.
type AgentState struct {
	Chats map[string]ChatState `json:"chats"`
}

// LocalAgentState additionally carries the global poll offset used by the
// direct polling path.
type LocalAgentState struct {
	LastUpdateID int64                `json:"last_update_id"`
	Chats        map[string]ChatState `json:"chats"`
}

// State is the full persisted record, one per install.
type State struct {
	RemoteAgent AgentState      `json:"remoteAgent"`
	LocalAgent  LocalAgentState `json:"localAgent"`
}

// Default returns the documented empty shape used when the state file is
// missing or corrupt.
func Default() *State {
	return &State{
		RemoteAgent: AgentState{Chats: map[string]ChatState{}},
		LocalAgent:  LocalAgentState{LastUpdateID: 0, Chats: map[string]ChatState{}},
	}
}

// Store reads and writes the state file. It is not safe for concurrent
// writers from multiple processes; see Lock for the advisory option.
type Store struct {
	path string
	log  zerolog.Logger
}

// NewStore creates a store over the given file path.
func NewStore(path string, log zerolog.Logger) *Store {
	return &Store{path: path, log: log}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the state file. A missing or corrupt file is logged and
// replaced with the default shape, never fatal.
func (s *Store) Load() *State {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Str("path", s.path).Msg("state file unreadable, using defaults")
		}
		return Default()
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("state file corrupt, using defaults")
		return Default()
	}
	if st.RemoteAgent.Chats == nil {
		st.RemoteAgent.Chats = map[string]ChatState{}
	}
	if st.LocalAgent.Chats == nil {
		st.LocalAgent.Chats = map[string]ChatState{}
	}
	return &st
}

// Save writes the state atomically: marshal to a temp file in the same
// directory, then rename over the target. A crash mid-save leaves either
// the old or the new complete content.
func (s *Store) Save(st *State) error {
	return atomicWriteJSON(s.path, st)
}

func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}
