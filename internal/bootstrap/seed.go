// Package bootstrap prepares a data directory for first use: the system
// user row, the global skill templates, and the example scripts that give
// run_script something to run on a fresh install.
package bootstrap

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/hive/internal/store"
)

//go:embed templates
var templateFS embed.FS

// skillTemplates lists the global skills installed under <dataDir>/skills.
var skillTemplates = []string{"daily-brief", "link-digest"}

// scriptTemplates lists the example scripts owned by the system user. They
// are seeded approved, so run_script resolution can fall back to them for
// any user.
var scriptTemplates = []struct {
	Name        string
	Description string
	File        string
}{
	{
		Name:        "word_count",
		Description: `Count words and characters in the "text" input field.`,
		File:        "word_count.py",
	},
	{
		Name:        "split_bill",
		Description: `Split "total" between "people" with an optional "tip_percent".`,
		File:        "split_bill.py",
	},
}

// Seed runs on every boot and is idempotent: existing files and rows are
// left alone, so user edits to a seeded skill or script survive restarts.
func Seed(ctx context.Context, stores *store.Stores, dataDir string) error {
	if _, err := stores.Users.Ensure(ctx, store.SystemUserID); err != nil {
		return fmt.Errorf("ensure system user: %w", err)
	}

	skills, err := seedSkills(filepath.Join(dataDir, "skills"))
	if err != nil {
		return fmt.Errorf("seed skills: %w", err)
	}
	scripts := seedScripts(ctx, stores.Scripts)

	if len(skills) > 0 || len(scripts) > 0 {
		slog.Info("bootstrap: seeded templates", "skills", skills, "scripts", scripts)
	}
	return nil
}

func seedSkills(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	var created []string
	for _, name := range skillTemplates {
		ok, err := seedSkillFile(dir, name)
		if err != nil {
			slog.Warn("bootstrap: skill template not seeded", "skill", name, "error", err)
			continue
		}
		if ok {
			created = append(created, name)
		}
	}
	return created, nil
}

// seedSkillFile writes <dir>/<name>/SKILL.md unless it already exists.
func seedSkillFile(dir, name string) (bool, error) {
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0755); err != nil {
		return false, err
	}
	dst := filepath.Join(skillDir, "SKILL.md")

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := templateFS.ReadFile("templates/skills/" + name + "/SKILL.md")
	if err != nil {
		os.Remove(dst)
		return false, err
	}
	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}

func seedScripts(ctx context.Context, scripts store.ScriptStore) []string {
	var created []string
	for _, tmpl := range scriptTemplates {
		if _, err := scripts.GetByName(ctx, store.SystemUserID, tmpl.Name); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("bootstrap: script lookup failed", "script", tmpl.Name, "error", err)
			continue
		}

		source, err := templateFS.ReadFile("templates/scripts/" + tmpl.File)
		if err != nil {
			slog.Warn("bootstrap: script template missing", "script", tmpl.Name, "error", err)
			continue
		}
		rec := &store.Script{
			ID:          store.NewID(),
			OwnerID:     store.SystemUserID,
			Name:        tmpl.Name,
			Description: tmpl.Description,
			Source:      string(source),
			IsApproved:  true,
		}
		if err := scripts.Create(ctx, rec); err != nil {
			slog.Warn("bootstrap: script not seeded", "script", tmpl.Name, "error", err)
			continue
		}
		created = append(created, tmpl.Name)
	}
	return created
}
