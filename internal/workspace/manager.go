// Package workspace tracks agent workspaces: one per agent and project
// path. It detects several agents working on the same project and
// serializes mutating calls within a workspace.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"zcu/internal/config"
	"zcu/internal/errdefs"
	"zcu/internal/metastore"
)

// Status of a workspace.
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusConflict Status = "conflict"
)

// ConflictType classifies a ConflictInfo.
type ConflictType string

const (
	ConflictFileModification ConflictType = "file_modification"
	ConflictOperationChain   ConflictType = "operation_chain"
	ConflictWorkspaceLock    ConflictType = "workspace_lock"
)

// ID returns the workspace id of agentID working on projectPath.
func ID(agentID, projectPath string) string {
	return agentID + "@" + config.ProjectKey(filepath.Clean(projectPath))
}

// State is the persisted state of a workspace.
type State struct {
	ID           string            `json:"id"`
	AgentID      string            `json:"agentId"`
	ProjectPath  string            `json:"projectPath"`
	Status       Status            `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastActivity time.Time         `json:"lastActivity"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func (s *State) clone() *State {
	cp := *s
	if s.Metadata != nil {
		cp.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// ConflictInfo describes agents competing for one project.
type ConflictInfo struct {
	ProjectPath       string       `json:"projectPath"`
	ConflictingAgents []string     `json:"conflictingAgents"`
	ConflictType      ConflictType `json:"conflictType"`
	DetectedAt        time.Time    `json:"detectedAt"`
	Description       string       `json:"description"`
}

// ErrExists is returned by Create for an agent that already has a workspace.
var ErrExists = errors.New("workspace already exists")

// Manager owns the workspace registry.
type Manager struct {
	store    metastore.Store
	messages errdefs.MessageFunc
	logger   *slog.Logger

	mu         sync.RWMutex
	workspaces map[string]*State

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewManager creates a Manager backed by store.
func NewManager(store metastore.Store, messages errdefs.MessageFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		store:      store,
		messages:   messages,
		logger:     logger.With("component", "workspace"),
		workspaces: make(map[string]*State),
		locks:      make(map[string]*sync.Mutex),
	}
}

// Load reads every persisted workspace, replacing what is in memory.
func (m *Manager) Load(ctx context.Context) error {
	entries, err := m.store.Scan(ctx, metastore.WorkspacePrefix)
	if err != nil {
		return fmt.Errorf("scan workspaces: %w", err)
	}

	loaded := make(map[string]*State)
	for _, e := range entries {
		if _, _, field, ok := metastore.ParseKey(e.Key); !ok || field != metastore.FieldActive {
			continue
		}
		var st State
		if err := json.Unmarshal(e.Value, &st); err != nil {
			m.logger.Warn("skipping unreadable workspace", "key", e.Key, "error", err)
			continue
		}
		loaded[st.ID] = &st
	}

	m.mu.Lock()
	m.workspaces = loaded
	m.mu.Unlock()
	return nil
}

// Create registers a new active workspace for agentID on projectPath.
func (m *Manager) Create(ctx context.Context, agentID, projectPath string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := ID(agentID, projectPath)
	if _, ok := m.workspaces[id]; ok {
		return nil, fmt.Errorf("create workspace %s: %w", id, ErrExists)
	}
	now := time.Now()
	st := &State{
		ID:           id,
		AgentID:      agentID,
		ProjectPath:  filepath.Clean(projectPath),
		Status:       StatusActive,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := m.saveLocked(ctx, st); err != nil {
		return nil, err
	}
	m.logger.Info("workspace created", "workspace", id, "project", st.ProjectPath)
	return st.clone(), nil
}

// Activate creates the workspace of agentID on projectPath or marks the
// existing one active.
func (m *Manager) Activate(ctx context.Context, agentID, projectPath string) (*State, error) {
	id := ID(agentID, projectPath)
	m.mu.RLock()
	_, exists := m.workspaces[id]
	m.mu.RUnlock()
	if !exists {
		st, err := m.Create(ctx, agentID, projectPath)
		if !errors.Is(err, ErrExists) {
			return st, err
		}
	}
	return m.update(ctx, id, func(st *State) { st.Status = StatusActive })
}

// Get returns a copy of the workspace, or nil.
func (m *Manager) Get(id string) *State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.workspaces[id]
	if !ok {
		return nil
	}
	return st.clone()
}

// List returns all workspaces ordered by creation time.
func (m *Manager) List() []*State {
	m.mu.RLock()
	out := make([]*State, 0, len(m.workspaces))
	for _, st := range m.workspaces {
		out = append(out, st.clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Pause marks the workspace paused.
func (m *Manager) Pause(ctx context.Context, id string) error {
	_, err := m.update(ctx, id, func(st *State) { st.Status = StatusPaused })
	return err
}

// Resume marks the workspace active.
func (m *Manager) Resume(ctx context.Context, id string) error {
	_, err := m.update(ctx, id, func(st *State) { st.Status = StatusActive })
	return err
}

// Touch records activity in the workspace.
func (m *Manager) Touch(ctx context.Context, id string) error {
	_, err := m.update(ctx, id, func(*State) {})
	return err
}

// Remove deletes the workspace.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workspaces[id]; !ok {
		return errdefs.New(m.messages, errdefs.KindNotFound, nil, "workspace", id)
	}
	if err := m.store.Delete(ctx, metastore.WorkspaceActiveKey(id)); err != nil {
		return fmt.Errorf("delete workspace %s: %w", id, err)
	}
	delete(m.workspaces, id)
	m.logger.Info("workspace removed", "workspace", id)
	return nil
}

// DetectConflicts reports a workspace_lock conflict when more than one
// active workspace is bound to projectPath.
func (m *Manager) DetectConflicts(projectPath string) []ConflictInfo {
	projectPath = filepath.Clean(projectPath)

	m.mu.RLock()
	var agents []string
	for _, st := range m.workspaces {
		if st.ProjectPath == projectPath && st.Status == StatusActive {
			agents = append(agents, st.AgentID)
		}
	}
	m.mu.RUnlock()

	if len(agents) <= 1 {
		return nil
	}
	sort.Strings(agents)
	return []ConflictInfo{{
		ProjectPath:       projectPath,
		ConflictingAgents: agents,
		ConflictType:      ConflictWorkspaceLock,
		DetectedAt:        time.Now(),
		Description:       fmt.Sprintf("Multiple active sessions detected for project: %s", projectPath),
	}}
}

// Lock acquires the mutex of a workspace and returns its release func.
// Different workspaces never block each other.
func (m *Manager) Lock(id string) func() {
	m.locksMu.Lock()
	mu, ok := m.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[id] = mu
	}
	m.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (m *Manager) update(ctx context.Context, id string, fn func(*State)) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.workspaces[id]
	if !ok {
		return nil, errdefs.New(m.messages, errdefs.KindNotFound, nil, "workspace", id)
	}
	st := current.clone()
	fn(st)
	st.LastActivity = time.Now()
	if err := m.saveLocked(ctx, st); err != nil {
		return nil, err
	}
	return st.clone(), nil
}

func (m *Manager) saveLocked(ctx context.Context, st *State) error {
	if err := metastore.PutJSON(ctx, m.store, metastore.WorkspaceActiveKey(st.ID), st); err != nil {
		return fmt.Errorf("save workspace %s: %w", st.ID, err)
	}
	m.workspaces[st.ID] = st
	return nil
}
