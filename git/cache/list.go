package cache

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/repocache/git"
)

// List walks the cache directory and returns every working copy in it,
// sorted by path. It takes no locks, so copies being cloned or removed
// concurrently may or may not be reported.
func (m *Manager) List() ([]Entry, error) {
	projects, err := m.fs.ReadDir(m.cfg.CacheDir)
	if err != nil {
		return nil, errors.WrapWithContext(err, git.CodeRepository, "failed to read cache directory", map[string]any{
			"cache_dir": m.cfg.CacheDir,
		})
	}

	var entries []Entry
	for _, p := range projects {
		projectID, err := uuid.Parse(p.Name())
		if err != nil || !p.IsDir() {
			continue
		}

		projectDir := filepath.Join(m.cfg.CacheDir, p.Name())
		repos, err := m.fs.ReadDir(projectDir)
		if err != nil {
			return nil, errors.Wrap(err, git.CodeRepository, "failed to read project directory")
		}

		for _, r := range repos {
			if !r.IsDir() {
				continue
			}
			id := Identity{ProjectID: projectID, Repository: r.Name()}
			found, err := m.listCopies(id, filepath.Join(projectDir, r.Name()), "")
			if err != nil {
				return nil, err
			}
			entries = append(entries, found...)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
	return entries, nil
}

// listCopies collects the working copies below dir. Directories without
// metadata are label namespaces (feature/x) and are descended into.
func (m *Manager) listCopies(id Identity, dir, prefix string) ([]Entry, error) {
	children, err := m.fs.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, git.CodeRepository, "failed to read repository directory")
	}

	var entries []Entry
	for _, c := range children {
		if !c.IsDir() {
			continue
		}
		path := filepath.Join(dir, c.Name())
		label := c.Name()
		if prefix != "" {
			label = prefix + "/" + label
		}

		if !git.HasMetadata(path, m.repoOpts...) {
			nested, err := m.listCopies(id, path, label)
			if err != nil {
				return nil, err
			}
			entries = append(entries, nested...)
			continue
		}

		entries = append(entries, m.describe(id, label, path))
	}
	return entries, nil
}

func (m *Manager) describe(id Identity, label, path string) Entry {
	entry := Entry{Identity: id, Label: label, Path: path}

	if repo, err := git.Open(path, m.repoOpts...); err != nil {
		entry.Err = err
	} else if head, err := repo.Head(); err != nil {
		entry.Err = err
	} else {
		entry.Head = head.String()
	}

	size, err := m.dirSize(path)
	if err == nil {
		entry.Size = size
	}
	return entry
}

// dirSize returns the total size of the regular files below path.
func (m *Manager) dirSize(path string) (int64, error) {
	var size int64
	err := util.Walk(m.fs, path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
