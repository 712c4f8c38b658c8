// Package workspace manages the per-user on-disk area under the data
// directory: skill folders, uploaded files, and identity notes.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Manager resolves and creates per-user directories under <dataDir>/users.
// Every user-supplied path component is sanitized before touching the
// filesystem.
type Manager struct {
	root       string
	sharedRoot string
}

func NewManager(dataDir string) *Manager {
	return &Manager{
		root:       filepath.Join(dataDir, "users"),
		sharedRoot: filepath.Join(dataDir, "skills"),
	}
}

// Root returns the directory holding all user workspaces.
func (m *Manager) Root() string { return m.root }

// SanitizeUserID maps a user id to a filesystem-safe directory name. The
// mapping is idempotent: sanitizing an already-sanitized id is a no-op.
func SanitizeUserID(userID string) string {
	var b strings.Builder
	b.Grow(len(userID))
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.' || r == '@' || r == '+':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", "__")
	}
	if s == "" || s == "." {
		return "_"
	}
	return s
}

// UserDir ensures and returns the user's workspace directory, containing
// skills/ and files/ subdirectories.
func (m *Manager) UserDir(userID string) (string, error) {
	dir := filepath.Join(m.root, SanitizeUserID(userID))
	for _, sub := range []string{dir, filepath.Join(dir, "skills"), filepath.Join(dir, "files")} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return "", fmt.Errorf("workspace: create %s: %w", sub, err)
		}
	}
	return dir, nil
}

// SkillsDir ensures and returns the user's skills directory.
func (m *Manager) SkillsDir(userID string) (string, error) {
	dir, err := m.UserDir(userID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "skills"), nil
}

// FilesDir ensures and returns the user's files directory. Scripts run with
// this directory as their working directory.
func (m *Manager) FilesDir(userID string) (string, error) {
	dir, err := m.UserDir(userID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "files"), nil
}

// SharedSkillsDir returns the directory holding skills visible to every user.
// It is not created implicitly; seeding does that.
func (m *Manager) SharedSkillsDir() string {
	return m.sharedRoot
}

// ReadNote returns the contents of a note file (for example SOUL.md or
// PROFILE.md) at the user's workspace root, or "" when absent.
func (m *Manager) ReadNote(userID, name string) string {
	name = cleanFilename(name)
	if name == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(m.root, SanitizeUserID(userID), name))
	if err != nil {
		return ""
	}
	return string(data)
}

// FileInfo describes one file in a user's files directory.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// ListFiles returns the user's files sorted by name, skipping directories,
// dotfiles, and .prev snapshots.
func (m *Manager) ListFiles(userID string) ([]FileInfo, error) {
	dir, err := m.FilesDir(userID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("workspace: list files: %w", err)
	}
	var out []FileInfo
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || strings.HasSuffix(e.Name(), ".prev") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SaveFile writes data into the user's files directory. When snapshot is true
// and the file already exists, the previous contents are kept as
// <name>.prev before the overwrite.
func (m *Manager) SaveFile(userID, filename string, data []byte, snapshot bool) (string, error) {
	name := cleanFilename(filename)
	if name == "" {
		return "", fmt.Errorf("workspace: invalid filename %q", filename)
	}
	dir, err := m.FilesDir(userID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if snapshot {
		if prev, err := os.ReadFile(path); err == nil {
			if err := os.WriteFile(path+".prev", prev, 0o644); err != nil {
				return "", fmt.Errorf("workspace: snapshot %s: %w", name, err)
			}
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("workspace: write %s: %w", name, err)
	}
	return path, nil
}

// ReadFile returns the contents of one of the user's files.
func (m *Manager) ReadFile(userID, filename string) ([]byte, error) {
	name := cleanFilename(filename)
	if name == "" {
		return nil, fmt.Errorf("workspace: invalid filename %q", filename)
	}
	dir, err := m.FilesDir(userID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("workspace: read %s: %w", name, err)
	}
	return data, nil
}

// DeleteFile removes one of the user's files and its snapshot, if any.
func (m *Manager) DeleteFile(userID, filename string) error {
	name := cleanFilename(filename)
	if name == "" {
		return fmt.Errorf("workspace: invalid filename %q", filename)
	}
	dir, err := m.FilesDir(userID)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("workspace: delete %s: %w", name, err)
	}
	os.Remove(path + ".prev")
	return nil
}

// cleanFilename reduces a name to a safe base component. Empty string means
// the name was rejected.
func cleanFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return ""
	}
	return name
}
