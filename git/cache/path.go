package cache

import (
	"path/filepath"
	"strings"

	"github.com/jmgilman/go/errors"
)

// localPath returns the working copy directory for id and label.
func (m *Manager) localPath(id Identity, label string) string {
	return filepath.Join(m.cfg.CacheDir, id.ProjectID.String(), id.Repository, label)
}

// identityPath returns the directory holding every working copy of id.
func (m *Manager) identityPath(id Identity) string {
	return filepath.Join(m.cfg.CacheDir, id.ProjectID.String(), id.Repository)
}

// validateIdentity rejects repository names that would escape or restructure
// the cache layout.
func validateIdentity(id Identity) error {
	name := id.Repository
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errors.WithContext(
			errors.Newf(errors.CodeInvalidInput, "invalid repository name %q", name),
			"project", id.ProjectID.String(),
		)
	}
	return nil
}

// validateLabel rejects branch or commit labels that would escape the
// identity's directory. Branch namespaces such as "feature/x" are allowed.
func validateLabel(label string) error {
	if label == "" {
		return errors.New(errors.CodeInvalidInput, "a branch or commit is required")
	}
	if strings.HasPrefix(label, "/") || strings.Contains(label, `\`) {
		return errors.Newf(errors.CodeInvalidInput, "invalid branch or commit %q", label)
	}
	for _, elem := range strings.Split(label, "/") {
		if elem == "" || elem == "." || elem == ".." {
			return errors.Newf(errors.CodeInvalidInput, "invalid branch or commit %q", label)
		}
	}
	return nil
}

// resolveSubPath returns the directory rel points at inside root. Leading and
// trailing separators are ignored and a blank path means root itself. The
// result must exist and stay inside root.
func (m *Manager) resolveSubPath(root, rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return root, nil
	}

	normalized := strings.Trim(rel, "/")
	if normalized == "" {
		return root, nil
	}

	target := filepath.Join(root, normalized)
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", invalidPath(rel, root)
	}

	if _, err := m.fs.Stat(target); err != nil {
		return "", errors.WrapWithContext(err, CodeInvalidPath, "invalid repository path: "+rel, map[string]any{
			"path": rel,
			"root": root,
		})
	}

	return target, nil
}

func invalidPath(rel, root string) error {
	return errors.WithContextMap(
		errors.New(CodeInvalidPath, "invalid repository path: "+rel),
		map[string]any{"path": rel, "root": root},
	)
}
