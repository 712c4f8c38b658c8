package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/hive/internal/skills"
	"github.com/nextlevelbuilder/hive/internal/store"
	"github.com/nextlevelbuilder/hive/internal/store/sqlite"
)

func testStores(t *testing.T) *store.Stores {
	t.Helper()
	s, err := sqlite.NewStores(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("NewStores: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSeedCreatesUserSkillsAndScripts(t *testing.T) {
	stores := testStores(t)
	dataDir := t.TempDir()
	ctx := context.Background()

	if err := Seed(ctx, stores, dataDir); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	if _, err := stores.Users.Get(ctx, store.SystemUserID); err != nil {
		t.Errorf("system user missing: %v", err)
	}

	for _, name := range skillTemplates {
		path := filepath.Join(dataDir, "skills", name, "SKILL.md")
		sk, err := skills.LoadFile(path, name, skills.SourceShared)
		if err != nil {
			t.Fatalf("seeded skill %s does not load: %v", name, err)
		}
		if sk.Name != name {
			t.Errorf("skill %s frontmatter name = %q", name, sk.Name)
		}
		if sk.Description == "" || sk.Content == "" {
			t.Errorf("skill %s is missing description or body", name)
		}
	}

	for _, tmpl := range scriptTemplates {
		rec, err := stores.Scripts.GetByName(ctx, store.SystemUserID, tmpl.Name)
		if err != nil {
			t.Fatalf("seeded script %s missing: %v", tmpl.Name, err)
		}
		if !rec.IsApproved {
			t.Errorf("script %s should be approved for shared use", tmpl.Name)
		}
		if rec.Source == "" {
			t.Errorf("script %s has empty source", tmpl.Name)
		}
	}
}

func TestSeedKeepsUserEdits(t *testing.T) {
	stores := testStores(t)
	dataDir := t.TempDir()
	ctx := context.Background()

	if err := Seed(ctx, stores, dataDir); err != nil {
		t.Fatalf("first seed: %v", err)
	}

	edited := filepath.Join(dataDir, "skills", "daily-brief", "SKILL.md")
	custom := "---\nname: daily-brief\ndescription: mine now\n---\n\nDo it my way.\n"
	if err := os.WriteFile(edited, []byte(custom), 0644); err != nil {
		t.Fatalf("edit skill: %v", err)
	}

	if err := Seed(ctx, stores, dataDir); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	data, err := os.ReadFile(edited)
	if err != nil {
		t.Fatalf("read skill: %v", err)
	}
	if string(data) != custom {
		t.Error("second seed overwrote a user-edited skill")
	}

	recs, err := stores.Scripts.ListForUser(ctx, store.SystemUserID)
	if err != nil {
		t.Fatalf("list scripts: %v", err)
	}
	if len(recs) != len(scriptTemplates) {
		t.Errorf("scripts after reseed = %d, want %d", len(recs), len(scriptTemplates))
	}
}
