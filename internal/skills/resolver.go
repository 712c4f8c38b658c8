package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/hive/internal/store"
	"github.com/nextlevelbuilder/hive/internal/workspace"
)

const cacheTTL = 60 * time.Second

// Resolver merges skills from the database and from SKILL.md files in user
// and shared skill directories. Precedence on a name collision: the user's
// stored skills, then the user's own files, then shared stored skills, then
// the global skill directory.
type Resolver struct {
	skills store.SkillStore
	ws     *workspace.Manager

	mu    sync.Mutex
	cache map[string]*cacheEntry

	watcher  *fsnotify.Watcher
	debounce *time.Timer
	done     chan struct{}
}

type cacheEntry struct {
	skills  []*Skill
	expires time.Time
}

func NewResolver(skills store.SkillStore, ws *workspace.Manager) *Resolver {
	return &Resolver{
		skills: skills,
		ws:     ws,
		cache:  make(map[string]*cacheEntry),
	}
}

// List returns the skills visible to a user, deduplicated by lower-cased
// name, first source wins. Results are cached for 60s per user.
func (r *Resolver) List(ctx context.Context, userID string) ([]*Skill, error) {
	r.mu.Lock()
	if entry, ok := r.cache[userID]; ok && time.Now().Before(entry.expires) {
		cached := entry.skills
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	merged, err := r.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[userID] = &cacheEntry{skills: merged, expires: time.Now().Add(cacheTTL)}
	r.mu.Unlock()
	return merged, nil
}

// Resolve finds one skill by name, case-insensitively.
func (r *Resolver) Resolve(ctx context.Context, userID, name string) (*Skill, error) {
	list, err := r.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(strings.TrimSpace(name))
	for _, s := range list {
		if strings.ToLower(s.Name) == want {
			return s, nil
		}
	}
	return nil, fmt.Errorf("skill %q: %w", name, store.ErrNotFound)
}

// Invalidate drops one user's cache entry.
func (r *Resolver) Invalidate(userID string) {
	r.mu.Lock()
	delete(r.cache, userID)
	r.mu.Unlock()
}

// InvalidateAll drops every cache entry.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]*cacheEntry)
	r.mu.Unlock()
}

func (r *Resolver) load(ctx context.Context, userID string) ([]*Skill, error) {
	var merged []*Skill
	seen := make(map[string]bool)
	add := func(s *Skill) {
		key := strings.ToLower(s.Name)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		merged = append(merged, s)
	}
	addRows := func(rows []*store.Skill) {
		for _, row := range rows {
			add(&Skill{
				Name:        row.Name,
				Description: row.Description,
				Content:     row.Content,
				Source:      SourceDB,
			})
		}
	}

	own, err := r.skills.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list db skills: %w", err)
	}
	addRows(own)

	userDir, err := r.ws.SkillsDir(userID)
	if err != nil {
		return nil, err
	}
	for _, s := range loadDir(userDir, SourceWorkspace) {
		add(s)
	}

	shared, err := r.skills.ListShared(ctx)
	if err != nil {
		return nil, fmt.Errorf("list shared db skills: %w", err)
	}
	addRows(shared)

	for _, s := range loadDir(r.ws.SharedSkillsDir(), SourceShared) {
		add(s)
	}
	return merged, nil
}

// loadDir scans <dir>/<skill-name>/SKILL.md entries. A broken skill file is
// logged and skipped rather than failing the whole listing.
func loadDir(dir, source string) []*Skill {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("skills: read dir failed", "dir", dir, "error", err)
		}
		return nil
	}

	var out []*Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), "SKILL.md")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		skill, err := LoadFile(path, entry.Name(), source)
		if err != nil {
			slog.Warn("skills: failed to load", "path", path, "error", err)
			continue
		}
		out = append(out, skill)
	}
	return out
}

// Watch invalidates the cache when skill files change on disk. Editors fire
// bursts of events, so invalidation is debounced.
func (r *Resolver) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("skills: create watcher: %w", err)
	}
	for _, root := range []string{r.ws.Root(), r.ws.SharedSkillsDir()} {
		if err := os.MkdirAll(root, 0o755); err != nil {
			watcher.Close()
			return fmt.Errorf("skills: create %s: %w", root, err)
		}
		if err := watcher.Add(root); err != nil {
			watcher.Close()
			return fmt.Errorf("skills: watch %s: %w", root, err)
		}
	}
	// Watch existing per-user skill dirs; new ones are added when their
	// create event fires on the root.
	addUserSkillDirs(watcher, r.ws.Root())

	r.watcher = watcher
	r.done = make(chan struct{})
	go r.watchLoop()
	return nil
}

func addUserSkillDirs(watcher *fsnotify.Watcher, root string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name(), "skills")
		if _, err := os.Stat(dir); err == nil {
			_ = watcher.Add(dir)
		}
	}
}

func (r *Resolver) watchLoop() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			base := filepath.Base(event.Name)
			if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				// A new directory may be a user workspace or skill folder.
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = r.watcher.Add(event.Name)
				}
			}
			r.scheduleInvalidate()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("skills: watcher error", "error", err)
		case <-r.done:
			return
		}
	}
}

func (r *Resolver) scheduleInvalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.debounce != nil {
		r.debounce.Stop()
	}
	r.debounce = time.AfterFunc(500*time.Millisecond, func() {
		r.InvalidateAll()
		slog.Debug("skills: cache invalidated after workspace change")
	})
}

// Close stops the watcher, if one was started.
func (r *Resolver) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.done)
	return r.watcher.Close()
}
