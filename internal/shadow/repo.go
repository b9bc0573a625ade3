package shadow

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// MainBranch is the branch every snapshot is committed to.
const MainBranch = "main"

// Repo wraps the shadow git repository
type Repo struct {
	path string
	repo *git.Repository
}

// Commit is one entry of the repository log
type Commit struct {
	Hash    string
	When    time.Time
	Message string
}

// FileStatus represents the status of a single file
type FileStatus struct {
	Path   string
	Status string // "modified", "added", "deleted", "untracked", etc.
}

// RepoStatus represents the current status of the repository
type RepoStatus struct {
	Branch    string
	Modified  []FileStatus
	Staged    []FileStatus
	Untracked []FileStatus
	IsClean   bool
}

// InitRepo creates a new repository at path with HEAD on the main branch
func InitRepo(path string) (*Repo, error) {
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to init git repository: %w", err)
	}

	r := &Repo{path: path, repo: repo}
	if err := r.CheckoutNewBranch(MainBranch); err != nil {
		return nil, err
	}
	return r, nil
}

// OpenRepo opens a git repository at the given path
func OpenRepo(path string) (*Repo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}

	return &Repo{
		path: path,
		repo: repo,
	}, nil
}

// CheckoutNewBranch creates name and switches to it. On a repository with
// no commits yet only HEAD is repointed.
func (r *Repo) CheckoutNewBranch(name string) error {
	branch := plumbing.NewBranchReferenceName(name)

	if _, err := r.repo.Head(); errors.Is(err, plumbing.ErrReferenceNotFound) {
		head := plumbing.NewSymbolicReference(plumbing.HEAD, branch)
		if err := r.repo.Storer.SetReference(head); err != nil {
			return fmt.Errorf("failed to set HEAD to %s: %w", name, err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to read HEAD: %w", err)
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: branch, Create: true}); err != nil {
		return fmt.Errorf("failed to create branch %s: %w", name, err)
	}
	return nil
}

// Add stages the given paths, relative to the repository root. Paths are
// added even when a .gitignore in the worktree matches them.
func (r *Repo) Add(paths ...string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	for _, p := range paths {
		if err := wt.AddWithOptions(&git.AddOptions{Path: p, SkipStatus: true}); err != nil {
			return fmt.Errorf("failed to add %s: %w", p, err)
		}
	}
	return nil
}

// Commit records the worktree, including modified and deleted tracked
// files, as a new commit on the current branch
func (r *Repo) Commit(message string, author *object.Signature) (string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		All:               true,
		AllowEmptyCommits: true,
		Author:            author,
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return hash.String(), nil
}

// Checkout switches the worktree to a branch name or a commit hash,
// discarding local changes
func (r *Repo) Checkout(revision string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	opts := &git.CheckoutOptions{Force: true}
	branch := plumbing.NewBranchReferenceName(revision)
	if _, err := r.repo.Reference(branch, false); err == nil {
		opts.Branch = branch
	} else {
		hash, err := r.Resolve(revision)
		if err != nil {
			return err
		}
		opts.Hash = hash
	}

	if err := wt.Checkout(opts); err != nil {
		return fmt.Errorf("failed to checkout %s: %w", revision, err)
	}
	// Leftovers of an interrupted snapshot
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("failed to clean worktree: %w", err)
	}
	return nil
}

// Resolve returns the commit hash for a revision
func (r *Repo) Resolve(revision string) (plumbing.Hash, error) {
	hash, err := r.repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to resolve %s: %w", revision, err)
	}
	return *hash, nil
}

// Log returns up to maxCount commits of the main branch, newest first.
// maxCount <= 0 returns the full history.
func (r *Repo) Log(maxCount int) ([]Commit, error) {
	commits, err := r.mainCommits(maxCount)
	if err != nil {
		return nil, err
	}

	out := make([]Commit, 0, len(commits))
	for _, c := range commits {
		out = append(out, Commit{
			Hash:    c.Hash.String(),
			When:    c.Author.When,
			Message: c.Message,
		})
	}
	return out, nil
}

func (r *Repo) mainCommits(maxCount int) ([]*object.Commit, error) {
	ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(MainBranch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", MainBranch, err)
	}

	iter, err := r.repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	var commits []*object.Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if maxCount > 0 && len(commits) >= maxCount {
			return storer.ErrStop
		}
		commits = append(commits, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk log: %w", err)
	}
	return commits, nil
}

// RewriteHistory keeps only the newest keep commits of main. The oldest
// kept commit is rewritten without parents and its descendants are
// rewritten on top of it with their original trees, messages and
// signatures. Returns the commits no longer reachable from main.
func (r *Repo) RewriteHistory(keep int) ([]Commit, error) {
	if keep < 1 {
		return nil, fmt.Errorf("keep must be at least 1, got %d", keep)
	}

	commits, err := r.mainCommits(0)
	if err != nil {
		return nil, err
	}
	if len(commits) <= keep {
		return nil, nil
	}

	var parent plumbing.Hash
	for i := keep - 1; i >= 0; i-- {
		c := commits[i]
		rewritten := &object.Commit{
			Author:    c.Author,
			Committer: c.Committer,
			Message:   c.Message,
			TreeHash:  c.TreeHash,
		}
		if !parent.IsZero() {
			rewritten.ParentHashes = []plumbing.Hash{parent}
		}

		obj := r.repo.Storer.NewEncodedObject()
		if err := rewritten.Encode(obj); err != nil {
			return nil, fmt.Errorf("failed to encode commit: %w", err)
		}
		parent, err = r.repo.Storer.SetEncodedObject(obj)
		if err != nil {
			return nil, fmt.Errorf("failed to store commit: %w", err)
		}
	}

	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(MainBranch), parent)
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", MainBranch, err)
	}

	dropped := make([]Commit, 0, len(commits)-keep)
	for _, c := range commits[keep:] {
		dropped = append(dropped, Commit{Hash: c.Hash.String(), When: c.Author.When, Message: c.Message})
	}
	return dropped, nil
}

// PruneObjects deletes loose objects no longer reachable from any reference
func (r *Repo) PruneObjects() error {
	return r.repo.Prune(git.PruneOptions{
		OnlyObjectsOlderThan: time.Now(),
		Handler:              r.repo.DeleteObject,
	})
}

// Status returns the current status of the repository
func (r *Repo) Status() (*RepoStatus, error) {
	worktree, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	repoStatus := &RepoStatus{
		Modified:  make([]FileStatus, 0),
		Staged:    make([]FileStatus, 0),
		Untracked: make([]FileStatus, 0),
		IsClean:   status.IsClean(),
	}

	// Branch might not exist yet (empty repo) or HEAD may be detached
	if head, err := r.repo.Head(); err == nil && head.Name().IsBranch() {
		repoStatus.Branch = head.Name().Short()
	}

	for path, fileStatus := range status {
		fs := FileStatus{Path: path}

		if fileStatus.Staging != git.Unmodified && fileStatus.Staging != git.Untracked {
			fs.Status = mapStatusCode(fileStatus.Staging)
			repoStatus.Staged = append(repoStatus.Staged, fs)
		}

		if fileStatus.Worktree == git.Untracked {
			fs.Status = "untracked"
			repoStatus.Untracked = append(repoStatus.Untracked, fs)
		} else if fileStatus.Worktree != git.Unmodified {
			fs.Status = mapStatusCode(fileStatus.Worktree)
			repoStatus.Modified = append(repoStatus.Modified, fs)
		}
	}

	return repoStatus, nil
}

// mapStatusCode converts go-git status codes to human-readable strings
func mapStatusCode(code git.StatusCode) string {
	switch code {
	case git.Unmodified:
		return "unmodified"
	case git.Untracked:
		return "untracked"
	case git.Modified:
		return "modified"
	case git.Added:
		return "added"
	case git.Deleted:
		return "deleted"
	case git.Renamed:
		return "renamed"
	case git.Copied:
		return "copied"
	case git.UpdatedButUnmerged:
		return "updated-but-unmerged"
	default:
		return "unknown"
	}
}
