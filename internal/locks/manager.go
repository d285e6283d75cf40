// Package locks prevents write conflicts between concurrently running
// agents with advisory file locks backed by the coordinator store.
package locks

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/COORDINATOR/internal/storage"
	"github.com/COORDINATOR/internal/types"
)

// LockTimeout is how long a lock lives before it is considered stale
// and swept.
const LockTimeout = 10 * time.Minute

// Conflict describes a lock request that cannot be satisfied.
type Conflict struct {
	Path    string
	AgentID string
	Reason  string
}

// Request is one planned lock acquisition, used for pre-flight
// conflict analysis across a batch of subtasks.
type Request struct {
	Files    []string
	LockType string
	AgentID  string
}

// Manager coordinates file locks. Read locks share; a write lock
// excludes everything else.
type Manager struct {
	db  *storage.DB
	now func() time.Time
}

// NewManager builds a manager over an open store.
func NewManager(db *storage.DB) *Manager {
	return &Manager{db: db, now: time.Now}
}

// normalizePath canonicalizes a path for comparison: absolute, with
// symlinks resolved. A path that does not exist yet resolves through
// its deepest existing ancestor, so a lock taken via a symlinked
// directory still collides with one taken via the real path.
func normalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}

	dir, rest := abs, ""
	for dir != filepath.Dir(dir) {
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = filepath.Dir(dir)
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, rest)
		}
	}
	return abs
}

func (m *Manager) cleanupExpired() error {
	cutoff := m.now().Add(-LockTimeout).UTC().Format(storage.TimeFormat)
	_, err := m.db.Conn().Exec(`DELETE FROM file_locks WHERE acquired_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to sweep expired locks: %w", err)
	}
	return nil
}

// CheckConflicts reports which of the given paths cannot be locked
// with lockType. Locks already held by agentID never conflict, so an
// agent can upgrade its own read lock.
func (m *Manager) CheckConflicts(paths []string, lockType, agentID string) ([]Conflict, error) {
	if err := m.cleanupExpired(); err != nil {
		return nil, err
	}

	var conflicts []Conflict
	for _, path := range paths {
		rows, err := m.db.Conn().Query(
			`SELECT agent_id, lock_type FROM file_locks WHERE path = ?`,
			normalizePath(path))
		if err != nil {
			return nil, fmt.Errorf("failed to query locks for %s: %w", path, err)
		}

		for rows.Next() {
			var holder, held string
			if err := rows.Scan(&holder, &held); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan lock row: %w", err)
			}
			if agentID != "" && holder == agentID {
				continue
			}
			if lockType == types.LockWrite {
				conflicts = append(conflicts, Conflict{
					Path:    path,
					AgentID: holder,
					Reason:  fmt.Sprintf("File has existing %s lock", held),
				})
				break
			}
			if held == types.LockWrite {
				conflicts = append(conflicts, Conflict{
					Path:    path,
					AgentID: holder,
					Reason:  "File has existing write lock",
				})
				break
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("lock row iteration failed: %w", err)
		}
		rows.Close()
	}
	return conflicts, nil
}

// CheckAll runs CheckConflicts over every request and concatenates the
// conflicts found.
func (m *Manager) CheckAll(requests []Request) ([]Conflict, error) {
	var all []Conflict
	for _, req := range requests {
		lockType := req.LockType
		if lockType == "" {
			lockType = types.LockRead
		}
		conflicts, err := m.CheckConflicts(req.Files, lockType, req.AgentID)
		if err != nil {
			return nil, err
		}
		all = append(all, conflicts...)
	}
	return all, nil
}

// Acquire takes a lock on one file. It returns false without error
// when a conflicting lock exists. Re-acquiring replaces the agent's
// previous lock on the path, which upgrades read to write.
func (m *Manager) Acquire(path, agentID, lockType string) (bool, error) {
	conflicts, err := m.CheckConflicts([]string{path}, lockType, agentID)
	if err != nil {
		return false, err
	}
	if len(conflicts) > 0 {
		return false, nil
	}

	norm := normalizePath(path)
	now := m.now().UTC()
	err = m.db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`DELETE FROM file_locks WHERE path = ? AND agent_id = ?`, norm, agentID); err != nil {
			return err
		}
		_, err := tx.Exec(
			`INSERT INTO file_locks (path, agent_id, lock_type, acquired_at, expires_at)
			 VALUES (?, ?, ?, ?, ?)`,
			norm, agentID, lockType,
			now.Format(storage.TimeFormat),
			now.Add(LockTimeout).Format(storage.TimeFormat))
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock on %s: %w", path, err)
	}
	return true, nil
}

// AcquireBatch locks every file or none of them. On failure it rolls
// back the agent's locks and returns the paths that could not be
// locked.
func (m *Manager) AcquireBatch(files []string, agentID, lockType string) (bool, []string, error) {
	conflicts, err := m.CheckConflicts(files, lockType, agentID)
	if err != nil {
		return false, nil, err
	}
	if len(conflicts) > 0 {
		failed := make([]string, len(conflicts))
		for i, c := range conflicts {
			failed[i] = c.Path
		}
		return false, failed, nil
	}

	for _, path := range files {
		ok, err := m.Acquire(path, agentID, lockType)
		if err != nil {
			return false, nil, err
		}
		if !ok {
			if err := m.ReleaseAgent(agentID); err != nil {
				return false, []string{path}, err
			}
			return false, []string{path}, nil
		}
	}
	return true, nil, nil
}

// Release drops the agent's lock on a file.
func (m *Manager) Release(path, agentID string) error {
	_, err := m.db.Conn().Exec(
		`DELETE FROM file_locks WHERE path = ? AND agent_id = ?`,
		normalizePath(path), agentID)
	if err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", path, err)
	}
	return nil
}

// ReleaseAgent drops every lock the agent holds.
func (m *Manager) ReleaseAgent(agentID string) error {
	_, err := m.db.Conn().Exec(`DELETE FROM file_locks WHERE agent_id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("failed to release locks for %s: %w", agentID, err)
	}
	return nil
}

// AgentLocks lists the locks an agent currently holds.
func (m *Manager) AgentLocks(agentID string) ([]types.FileLock, error) {
	return m.queryLocks(`SELECT path, agent_id, lock_type, acquired_at, expires_at
		FROM file_locks WHERE agent_id = ?`, agentID)
}

// FileLocks lists the locks on one file.
func (m *Manager) FileLocks(path string) ([]types.FileLock, error) {
	return m.queryLocks(`SELECT path, agent_id, lock_type, acquired_at, expires_at
		FROM file_locks WHERE path = ?`, normalizePath(path))
}

func (m *Manager) queryLocks(query string, arg interface{}) ([]types.FileLock, error) {
	rows, err := m.db.Conn().Query(query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query locks: %w", err)
	}
	defer rows.Close()

	var locks []types.FileLock
	for rows.Next() {
		var l types.FileLock
		var acquired, expires sql.NullString
		if err := rows.Scan(&l.Path, &l.AgentID, &l.LockType, &acquired, &expires); err != nil {
			return nil, fmt.Errorf("failed to scan lock: %w", err)
		}
		if t := storage.ParseTime(acquired); t != nil {
			l.AcquiredAt = *t
		}
		if t := storage.ParseTime(expires); t != nil {
			l.ExpiresAt = *t
		}
		locks = append(locks, l)
	}
	return locks, rows.Err()
}

// CleanupStale sweeps expired locks and reports how many were removed.
func (m *Manager) CleanupStale() (int, error) {
	cutoff := m.now().Add(-LockTimeout).UTC().Format(storage.TimeFormat)
	res, err := m.db.Conn().Exec(`DELETE FROM file_locks WHERE acquired_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale locks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// Stats summarizes the lock table.
type Stats struct {
	TotalLocks      int `json:"total_locks"`
	ReadLocks       int `json:"read_locks"`
	WriteLocks      int `json:"write_locks"`
	FilesLocked     int `json:"files_locked"`
	AgentsWithLocks int `json:"agents_with_locks"`
}

// GetStats computes lock-table statistics.
func (m *Manager) GetStats() (Stats, error) {
	rows, err := m.db.Conn().Query(`SELECT path, agent_id, lock_type FROM file_locks`)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to query lock stats: %w", err)
	}
	defer rows.Close()

	var stats Stats
	paths := make(map[string]struct{})
	agents := make(map[string]struct{})
	for rows.Next() {
		var path, agent, lockType string
		if err := rows.Scan(&path, &agent, &lockType); err != nil {
			return Stats{}, fmt.Errorf("failed to scan lock stats: %w", err)
		}
		stats.TotalLocks++
		if lockType == types.LockRead {
			stats.ReadLocks++
		} else {
			stats.WriteLocks++
		}
		paths[path] = struct{}{}
		agents[agent] = struct{}{}
	}
	stats.FilesLocked = len(paths)
	stats.AgentsWithLocks = len(agents)
	return stats, rows.Err()
}
