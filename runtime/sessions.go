package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"buddy/agent"
)

// SessionStore persists agent.SessionSnapshot values keyed by session id.
// Implementations back RuntimeCommand session lifecycle handling.
type SessionStore interface {
	Save(sessionID string, snapshot agent.SessionSnapshot) error
	Load(sessionID string) (agent.SessionSnapshot, error)
	CreateNewSession(snapshot agent.SessionSnapshot) (string, error)
	ResolveLast() (string, bool, error)
}

// FileSessionStore persists each session as one JSON file named
// "<session-id>.json" inside Dir, written atomically via a temp file plus
// rename.
type FileSessionStore struct {
	Dir string
}

// NewFileSessionStore returns a store rooted at dir, creating it if needed.
func NewFileSessionStore(dir string) (*FileSessionStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating session store dir: %w", err)
	}
	return &FileSessionStore{Dir: dir}, nil
}

func (s *FileSessionStore) pathFor(sessionID string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, "/\\") || strings.Contains(sessionID, "..") {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(s.Dir, sessionID+".json"), nil
}

// Save atomically persists snapshot as the named session.
func (s *FileSessionStore) Save(sessionID string, snapshot agent.SessionSnapshot) error {
	path, err := s.pathFor(sessionID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session %s: %w", sessionID, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing session %s: %w", sessionID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming session %s: %w", sessionID, err)
	}
	return nil
}

// Load reads back a previously saved session snapshot.
func (s *FileSessionStore) Load(sessionID string) (agent.SessionSnapshot, error) {
	path, err := s.pathFor(sessionID)
	if err != nil {
		return agent.SessionSnapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return agent.SessionSnapshot{}, fmt.Errorf("reading session %s: %w", sessionID, err)
	}
	var snapshot agent.SessionSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return agent.SessionSnapshot{}, fmt.Errorf("parsing session %s: %w", sessionID, err)
	}
	return snapshot, nil
}

// CreateNewSession mints a fresh session id and persists the given
// snapshot under it.
func (s *FileSessionStore) CreateNewSession(snapshot agent.SessionSnapshot) (string, error) {
	id := uuid.NewString()
	if err := s.Save(id, snapshot); err != nil {
		return "", err
	}
	return id, nil
}

// ResolveLast returns the most recently modified session's id, or
// (_, false, nil) if no sessions have been saved yet.
func (s *FileSessionStore) ResolveLast() (string, bool, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("listing session store dir: %w", err)
	}

	type candidate struct {
		id      string
		modTime int64
	}
	var candidates []candidate
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			id:      strings.TrimSuffix(name, ".json"),
			modTime: info.ModTime().UnixNano(),
		})
	}
	if len(candidates) == 0 {
		return "", false, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime > candidates[j].modTime })
	return candidates[0].id, true, nil
}

// SessionInfo describes one persisted session for listing purposes.
type SessionInfo struct {
	ID      string
	ModTime time.Time
}

// List returns every persisted session, most recently modified first.
func (s *FileSessionStore) List() ([]SessionInfo, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing session store dir: %w", err)
	}

	var sessions []SessionInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		sessions = append(sessions, SessionInfo{ID: strings.TrimSuffix(name, ".json"), ModTime: info.ModTime()})
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ModTime.After(sessions[j].ModTime) })
	return sessions, nil
}

// sessionNew persists the current active session (if any) then resets the
// agent onto a brand new, freshly persisted session.
func (rt *runtimeActor) sessionNew() error {
	if rt.sessionStore == nil {
		return fmt.Errorf("session store is unavailable")
	}
	if rt.activeSession != "" {
		if err := rt.sessionStore.Save(rt.activeSession, rt.agent.SnapshotSession()); err != nil {
			return fmt.Errorf("failed to persist session %s: %w", rt.activeSession, err)
		}
	}

	rt.agent.ResetSession()
	snapshot := rt.agent.SnapshotSession()
	newID, err := rt.sessionStore.CreateNewSession(snapshot)
	if err != nil {
		return fmt.Errorf("failed to create new session: %w", err)
	}
	rt.activeSession = newID
	rt.emit(SessionCreatedEvent{SessionID: newID})
	return nil
}

// sessionResume persists the current active session (if any), then loads
// and restores sessionID as the new active session.
func (rt *runtimeActor) sessionResume(sessionID string) error {
	if rt.sessionStore == nil {
		return fmt.Errorf("session store is unavailable")
	}
	if rt.activeSession != "" {
		if err := rt.sessionStore.Save(rt.activeSession, rt.agent.SnapshotSession()); err != nil {
			return fmt.Errorf("failed to persist session %s: %w", rt.activeSession, err)
		}
	}

	snapshot, err := rt.sessionStore.Load(sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	rt.agent.RestoreSession(snapshot)
	// Re-save so this becomes "last active" with a refreshed mtime.
	if err := rt.sessionStore.Save(sessionID, snapshot); err != nil {
		return fmt.Errorf("failed to refresh session %s: %w", sessionID, err)
	}
	rt.activeSession = sessionID
	rt.emit(SessionResumedEvent{SessionID: sessionID})
	return nil
}

// sessionCompact compacts the agent's history and emits a summary warning.
func (rt *runtimeActor) sessionCompact() error {
	compacted, report := agent.CompactHistoryWithBudget(
		rt.agent.SnapshotSession().Messages, rt.agent.ContextLimit(), manualCompactTargetFraction, true,
	)
	if report == nil {
		rt.emit(WarningEvent{Message: "nothing to compact; history is already focused on recent turns"})
		return nil
	}

	snapshot := rt.agent.SnapshotSession()
	snapshot.Messages = compacted
	rt.agent.RestoreSession(snapshot)

	if rt.sessionStore != nil && rt.activeSession != "" {
		if err := rt.sessionStore.Save(rt.activeSession, rt.agent.SnapshotSession()); err != nil {
			return fmt.Errorf("failed to persist compacted session %s: %w", rt.activeSession, err)
		}
	}

	sessionID := rt.activeSession
	if sessionID == "" {
		sessionID = "default"
	}
	rt.emit(SessionCompactedEvent{SessionID: sessionID})
	rt.emit(WarningEvent{Message: fmt.Sprintf(
		"compacted session %s: removed %d turn(s), %d message(s) (estimated %d -> %d)",
		sessionID, report.RemovedTurns, report.RemovedMessages, report.EstimatedBefore, report.EstimatedAfter,
	)})
	return nil
}

// persistActiveSessionSnapshot best-effort saves the active session after a
// task finishes; missing session/store simply means nothing to save.
func (rt *runtimeActor) persistActiveSessionSnapshot() {
	if rt.sessionStore == nil || rt.activeSession == "" {
		return
	}
	if err := rt.sessionStore.Save(rt.activeSession, rt.agent.SnapshotSession()); err == nil {
		rt.emit(SessionSavedEvent{SessionID: rt.activeSession})
	}
}
