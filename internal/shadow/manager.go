// Package shadow keeps versioned copies of a project tree in a separate
// git repository (the shadow tree) and restores them on demand.
package shadow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing/object"

	"zcu/internal/errdefs"
	"zcu/internal/ids"
)

const (
	initialCommitMessage = "Initial shadow repository setup"
	authorName           = "ZCU Shadow"
	authorEmail          = "zcu@local"
	unknownOperation     = "unknown"
)

var snapshotMessage = regexp.MustCompile(`^Snapshot (\w+) for operation (\w+)`)

// Manager owns the shadow tree. All access to it goes through a Manager.
type Manager struct {
	opts    Options
	matcher *Matcher
	logger  *slog.Logger

	mu   sync.Mutex
	repo *Repo

	// checkout moves the shadow worktree; replaced in tests.
	checkout func(revision string) error
}

// NewManager creates a Manager. Call Initialize before use.
func NewManager(opts Options) *Manager {
	if opts.BackupDir == "" {
		opts.BackupDir = filepath.Join(filepath.Dir(opts.ShadowPath), "backups")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &Manager{
		opts:    opts,
		matcher: NewMatcher(opts.ExcludePatterns),
		logger:  logger.With("component", "shadow"),
	}
	m.checkout = func(revision string) error { return m.repo.Checkout(revision) }
	return m
}

// Initialize creates the shadow repository if it does not exist yet. It is
// safe to call more than once.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initLocked(ctx)
}

func (m *Manager) initLocked(ctx context.Context) error {
	if m.repo != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	shadowPath := m.opts.ShadowPath
	if err := os.MkdirAll(shadowPath, 0755); err != nil {
		return fmt.Errorf("create shadow dir: %w", err)
	}

	if _, err := os.Stat(filepath.Join(shadowPath, ".git")); err == nil {
		repo, err := OpenRepo(shadowPath)
		if err != nil {
			return err
		}
		m.repo = repo
		return nil
	}

	repo, err := InitRepo(shadowPath)
	if err != nil {
		return err
	}
	ignore := gitignore(m.opts.ExcludePatterns)
	if err := os.WriteFile(filepath.Join(shadowPath, ".gitignore"), []byte(ignore), 0644); err != nil {
		return fmt.Errorf("write .gitignore: %w", err)
	}
	if err := repo.Add(".gitignore"); err != nil {
		return err
	}
	if _, err := repo.Commit(initialCommitMessage, m.signature(time.Now())); err != nil {
		return err
	}

	m.repo = repo
	m.logger.Info("shadow repository initialized", "path", shadowPath)
	return nil
}

func (m *Manager) signature(when time.Time) *object.Signature {
	return &object.Signature{Name: authorName, Email: authorEmail, When: when}
}

// CreateSnapshot brings the shadow tree in line with the project and
// commits it. The returned metadata counts only the changed files.
func (m *Manager) CreateSnapshot(ctx context.Context, operationID string) (*SnapshotMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, err := m.createSnapshot(ctx, operationID)
	if err != nil {
		return nil, errdefs.New(m.opts.Messages, errdefs.KindSnapshotCreationFailed, err, "operation", operationID)
	}
	return meta, nil
}

func (m *Manager) createSnapshot(ctx context.Context, operationID string) (*SnapshotMetadata, error) {
	if err := m.initLocked(ctx); err != nil {
		return nil, err
	}

	parentID, err := m.latestSnapshotID()
	if err != nil {
		return nil, err
	}

	diff, err := diffTrees(ctx, m.opts.ProjectPath, m.opts.ShadowPath, m.matcher, m.opts.HashWorkers)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}

	var size int64
	var staged []string
	for _, list := range [][]string{diff.Added, diff.Modified} {
		for _, rel := range list {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			dst := filepath.Join(m.opts.ShadowPath, filepath.FromSlash(rel))
			n, err := copyFile(filepath.Join(m.opts.ProjectPath, filepath.FromSlash(rel)), dst)
			if errors.Is(err, fs.ErrNotExist) {
				// Removed after the diff
				if err := removeFile(dst); err != nil {
					return nil, err
				}
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("copy %s: %w", rel, err)
			}
			size += n
			staged = append(staged, rel)
		}
	}
	for _, rel := range diff.Deleted {
		if err := removeFile(filepath.Join(m.opts.ShadowPath, filepath.FromSlash(rel))); err != nil {
			return nil, err
		}
	}

	if err := m.repo.Add(staged...); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := ids.New()
	when := time.Now().Truncate(time.Second)
	hash, err := m.repo.Commit(fmt.Sprintf("Snapshot %s for operation %s", id, operationID), m.signature(when))
	if err != nil {
		return nil, err
	}

	meta := &SnapshotMetadata{
		ID:               id,
		Timestamp:        when,
		OperationID:      operationID,
		ProjectPath:      m.opts.ProjectPath,
		CommitHash:       hash,
		FileCount:        diff.Copied(),
		Size:             size,
		IsIncremental:    true,
		ParentSnapshotID: parentID,
	}

	if m.opts.Index != nil {
		if err := m.opts.Index.SaveSnapshot(ctx, meta); err != nil {
			m.logger.Warn("failed to index snapshot", "snapshot", id, "error", err)
		}
	}

	m.logger.Info("snapshot created",
		"snapshot", id,
		"operation", operationID,
		"added", len(diff.Added),
		"modified", len(diff.Modified),
		"deleted", len(diff.Deleted),
		"bytes", size)
	return meta, nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// latestSnapshotID returns the snapshot id of the head commit, or "" when
// head is not a snapshot.
func (m *Manager) latestSnapshotID() (string, error) {
	commits, err := m.repo.Log(1)
	if err != nil {
		return "", err
	}
	if len(commits) == 0 || isInitialCommit(commits[0]) {
		return "", nil
	}
	return parseCommit(commits[0]).ID, nil
}

// RestoreSnapshot copies the snapshot's tree into the target. The shadow
// tree is always returned to the main branch before this returns.
func (m *Manager) RestoreSnapshot(ctx context.Context, snapshotID string, opts RestoreOptions) (result *RestoreResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.initLocked(ctx); err != nil {
		return nil, err
	}

	commit, err := m.findSnapshot(snapshotID)
	if err != nil {
		return nil, err
	}
	if commit == nil {
		return nil, errdefs.New(m.opts.Messages, errdefs.KindNotFound, nil, "snapshot", snapshotID)
	}

	target := opts.TargetPath
	if target == "" {
		target = m.opts.ProjectPath
	}

	// Back to main on every path, a failed checkout included.
	defer func() {
		if cerr := m.checkout(MainBranch); cerr != nil {
			m.logger.Error("failed to return shadow tree to head", "error", cerr)
			if err == nil {
				result = nil
				err = fmt.Errorf("return shadow tree to %s: %w", MainBranch, cerr)
			}
		}
	}()
	if err := m.checkout(commit.Hash); err != nil {
		return nil, fmt.Errorf("restore snapshot %s: %w", snapshotID, err)
	}

	matcher := NewMatcher(m.opts.ExcludePatterns, opts.ExcludePatterns)
	files, err := listFiles(ctx, m.opts.ShadowPath, matcher)
	if err != nil {
		return nil, fmt.Errorf("list snapshot files: %w", err)
	}
	if len(opts.IncludePatterns) > 0 {
		for rel := range files {
			if !includeMatch(rel, opts.IncludePatterns) {
				delete(files, rel)
			}
		}
	}

	toRemove, err := m.staleTargetFiles(ctx, target, files, matcher, opts.IncludePatterns)
	if err != nil {
		return nil, err
	}

	var toRestore []string
	for rel := range files {
		same, err := sameContent(filepath.Join(m.opts.ShadowPath, filepath.FromSlash(rel)), filepath.Join(target, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		if !same {
			toRestore = append(toRestore, rel)
		}
	}
	sort.Strings(toRestore)

	result = &RestoreResult{SnapshotID: snapshotID}

	if opts.CreateBackup {
		affected := append(append([]string{}, toRestore...), toRemove...)
		if len(affected) > 0 {
			result.BackupPath, err = writeBackup(m.opts.BackupDir, target, affected)
			if err != nil {
				return nil, err
			}
		}
	}

	for _, rel := range toRestore {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dst := filepath.Join(target, filepath.FromSlash(rel))
		if _, err := copyFile(filepath.Join(m.opts.ShadowPath, filepath.FromSlash(rel)), dst); err != nil {
			return nil, fmt.Errorf("restore %s: %w", rel, err)
		}
		if opts.PreserveTimestamps {
			if err := os.Chtimes(dst, commit.When, commit.When); err != nil {
				return nil, fmt.Errorf("set times on %s: %w", rel, err)
			}
		}
		result.FilesRestored++
	}
	for _, rel := range toRemove {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := removeFile(filepath.Join(target, filepath.FromSlash(rel))); err != nil {
			return nil, err
		}
		result.FilesRemoved++
	}

	m.logger.Info("snapshot restored",
		"snapshot", snapshotID,
		"target", target,
		"restored", result.FilesRestored,
		"removed", result.FilesRemoved)
	return result, nil
}

// staleTargetFiles returns target files that the snapshot does not have.
// A full restore considers the whole target; a filtered restore only the
// literal include paths.
func (m *Manager) staleTargetFiles(ctx context.Context, target string, snapshot map[string]struct{}, matcher *Matcher, include []string) ([]string, error) {
	var stale []string
	if len(include) == 0 {
		current, err := listFiles(ctx, target, matcher)
		if err != nil {
			return nil, fmt.Errorf("list target files: %w", err)
		}
		for rel := range current {
			if _, ok := snapshot[rel]; !ok {
				stale = append(stale, rel)
			}
		}
	} else {
		for _, p := range include {
			if strings.Contains(p, "*") {
				continue
			}
			rel := normalizeRel(p)
			if _, ok := snapshot[rel]; ok || matcher.Match(rel) {
				continue
			}
			info, err := os.Stat(filepath.Join(target, filepath.FromSlash(rel)))
			if err == nil && info.Mode().IsRegular() {
				stale = append(stale, rel)
			}
		}
	}
	sort.Strings(stale)
	return stale, nil
}

func sameContent(a, b string) (bool, error) {
	hb, _, err := HashFile(b)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ha, _, err := HashFile(a)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

// findSnapshot returns the commit for a snapshot id, or nil.
func (m *Manager) findSnapshot(snapshotID string) (*Commit, error) {
	commits, err := m.repo.Log(0)
	if err != nil {
		return nil, err
	}
	for i := range commits {
		if isInitialCommit(commits[i]) {
			continue
		}
		if parseCommit(commits[i]).ID == snapshotID {
			return &commits[i], nil
		}
	}
	return nil, nil
}

// HasSnapshot reports whether snapshotID is in the history.
func (m *Manager) HasSnapshot(ctx context.Context, snapshotID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.initLocked(ctx); err != nil {
		return false, err
	}
	commit, err := m.findSnapshot(snapshotID)
	return commit != nil, err
}

// GetSnapshotHistory returns up to limit snapshots, newest first. limit <= 0
// returns all of them.
func (m *Manager) GetSnapshotHistory(ctx context.Context, limit int) ([]SnapshotMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history(ctx, limit)
}

func (m *Manager) history(ctx context.Context, limit int) ([]SnapshotMetadata, error) {
	if err := m.initLocked(ctx); err != nil {
		return nil, err
	}

	commits, err := m.repo.Log(0)
	if err != nil {
		return nil, err
	}

	var out []SnapshotMetadata
	for _, c := range commits {
		if limit > 0 && len(out) >= limit {
			break
		}
		if isInitialCommit(c) {
			continue
		}

		meta := parseCommit(c)
		meta.ProjectPath = m.opts.ProjectPath
		if m.opts.Index != nil && meta.OperationID != unknownOperation {
			indexed, err := m.opts.Index.LoadSnapshot(ctx, meta.ID)
			if err != nil {
				m.logger.Warn("failed to load snapshot index", "snapshot", meta.ID, "error", err)
			} else if indexed != nil {
				meta.FileCount = indexed.FileCount
				meta.Size = indexed.Size
				meta.ParentSnapshotID = indexed.ParentSnapshotID
			}
		}
		out = append(out, meta)
	}
	return out, nil
}

func isInitialCommit(c Commit) bool {
	return strings.TrimSpace(c.Message) == initialCommitMessage
}

// parseCommit extracts ids from a snapshot commit message. Other commits
// get an id derived from their hash and an unknown operation.
func parseCommit(c Commit) SnapshotMetadata {
	meta := SnapshotMetadata{
		Timestamp:     c.When,
		CommitHash:    c.Hash,
		IsIncremental: true,
	}
	if match := snapshotMessage.FindStringSubmatch(strings.TrimSpace(c.Message)); match != nil {
		meta.ID = match[1]
		meta.OperationID = match[2]
	} else {
		meta.ID = c.Hash[:ids.Length]
		meta.OperationID = unknownOperation
	}
	return meta
}

// GetStats aggregates the snapshot history.
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	history, err := m.GetSnapshotHistory(ctx, 0)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalSnapshots:   len(history),
		CompressionRatio: 1.0,
	}
	if m.opts.EnableCompression {
		stats.CompressionRatio = 0.7
	}
	if len(history) == 0 {
		return stats, nil
	}

	for _, s := range history {
		stats.TotalSize += s.Size
	}
	stats.NewestSnapshot = history[0].Timestamp
	stats.OldestSnapshot = history[len(history)-1].Timestamp
	stats.AverageSize = stats.TotalSize / int64(len(history))
	return stats, nil
}

// Prune squashes history so only the newest keep snapshots remain and
// returns how many were dropped. Snapshot ids of the kept commits do not
// change; their commit hashes do.
func (m *Manager) Prune(ctx context.Context, keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history, err := m.history(ctx, 0)
	if err != nil {
		return 0, err
	}
	if keep < 1 || len(history) <= keep {
		return 0, nil
	}

	dropped, err := m.repo.RewriteHistory(keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}

	removed := 0
	for _, c := range dropped {
		if isInitialCommit(c) {
			continue
		}
		removed++
		if m.opts.Index != nil {
			id := parseCommit(c).ID
			if err := m.opts.Index.DeleteSnapshot(ctx, id); err != nil {
				m.logger.Warn("failed to drop snapshot index", "snapshot", id, "error", err)
			}
		}
	}

	if err := m.repo.PruneObjects(); err != nil {
		m.logger.Warn("failed to prune unreachable objects", "error", err)
	}

	m.logger.Info("snapshots pruned", "removed", removed, "kept", keep)
	return removed, nil
}

// Status reports the state of the shadow worktree.
func (m *Manager) Status(ctx context.Context) (*RepoStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.initLocked(ctx); err != nil {
		return nil, err
	}
	return m.repo.Status()
}
