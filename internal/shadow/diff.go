package shadow

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"
)

// TreeDiff classifies project files against the shadow tree.
type TreeDiff struct {
	Added     []string
	Modified  []string
	Deleted   []string
	Unchanged int
}

// Copied returns the number of added and modified files. Deletions are
// not counted.
func (d *TreeDiff) Copied() int {
	return len(d.Added) + len(d.Modified)
}

// listFiles walks root and returns regular files as relative slash paths,
// skipping anything the matcher excludes. The .git directory at root is
// always skipped.
func listFiles(ctx context.Context, root string, matcher *Matcher) (map[string]struct{}, error) {
	files := make(map[string]struct{})
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries can vanish while walking
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == ".git" || matcher.Match(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || matcher.Match(rel) {
			return nil
		}
		files[rel] = struct{}{}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return files, nil
	}
	return files, err
}

// diffTrees compares the project tree with the shadow tree. Files that
// disappear from the project before they can be hashed count as deleted.
func diffTrees(ctx context.Context, projectRoot, shadowRoot string, matcher *Matcher, workers int) (*TreeDiff, error) {
	project, err := listFiles(ctx, projectRoot, matcher)
	if err != nil {
		return nil, err
	}
	shadow, err := listFiles(ctx, shadowRoot, matcher)
	if err != nil {
		return nil, err
	}

	diff := &TreeDiff{}
	var common []string
	for rel := range project {
		if _, ok := shadow[rel]; ok {
			common = append(common, rel)
		} else {
			diff.Added = append(diff.Added, rel)
		}
	}
	for rel := range shadow {
		if _, ok := project[rel]; !ok {
			diff.Deleted = append(diff.Deleted, rel)
		}
	}

	const (
		unchanged = iota
		modified
		vanished
	)
	states := make([]int, len(common))

	if workers <= 0 {
		workers = 8
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, rel := range common {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			liveHash, _, err := HashFile(filepath.Join(projectRoot, filepath.FromSlash(rel)))
			if errors.Is(err, fs.ErrNotExist) {
				states[i] = vanished
				return nil
			}
			if err != nil {
				return err
			}
			shadowHash, _, err := HashFile(filepath.Join(shadowRoot, filepath.FromSlash(rel)))
			if err != nil {
				return err
			}
			if liveHash != shadowHash {
				states[i] = modified
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, rel := range common {
		switch states[i] {
		case modified:
			diff.Modified = append(diff.Modified, rel)
		case vanished:
			diff.Deleted = append(diff.Deleted, rel)
		default:
			diff.Unchanged++
		}
	}

	sort.Strings(diff.Added)
	sort.Strings(diff.Modified)
	sort.Strings(diff.Deleted)
	return diff, nil
}

// copyFile copies src to dst, creating parent directories and keeping the
// permission bits. It returns the number of bytes written.
func copyFile(src, dst string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(dst, data, info.Mode().Perm()); err != nil {
		return 0, err
	}
	// WriteFile keeps the mode of an existing file
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}
