package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/hive/internal/store"
)

// SkillStore implements store.SkillStore.
type SkillStore struct {
	db *sql.DB
}

func NewSkillStore(db *sql.DB) *SkillStore { return &SkillStore{db: db} }

const skillCols = `id, owner_id, name, description, content, is_shared, created_at, updated_at`

func scanSkill(scan func(dest ...any) error) (*store.Skill, error) {
	var sk store.Skill
	err := scan(&sk.ID, &sk.OwnerID, &sk.Name, &sk.Description, &sk.Content, &sk.IsShared, &sk.CreatedAt, &sk.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select skill: %w", err)
	}
	return &sk, nil
}

func (s *SkillStore) Create(ctx context.Context, sk *store.Skill) error {
	if sk.ID == "" {
		sk.ID = store.NewID()
	}
	now := time.Now()
	if sk.CreatedAt.IsZero() {
		sk.CreatedAt = now
	}
	if sk.UpdatedAt.IsZero() {
		sk.UpdatedAt = sk.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO skills (`+skillCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sk.ID, sk.OwnerID, sk.Name, sk.Description, sk.Content, sk.IsShared, sk.CreatedAt, sk.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert skill: %w", err)
	}
	return nil
}

func (s *SkillStore) Update(ctx context.Context, sk *store.Skill) error {
	sk.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE skills SET name = $1, description = $2, content = $3, is_shared = $4, updated_at = $5
		 WHERE id = $6 AND owner_id = $7`,
		sk.Name, sk.Description, sk.Content, sk.IsShared, sk.UpdatedAt, sk.ID, sk.OwnerID)
	if err != nil {
		return fmt.Errorf("update skill: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ownershipErr(ctx, s.db, "skills", sk.ID)
	}
	return nil
}

func (s *SkillStore) Get(ctx context.Context, id string) (*store.Skill, error) {
	return scanSkill(s.db.QueryRowContext(ctx,
		`SELECT `+skillCols+` FROM skills WHERE id = $1`, id).Scan)
}

func (s *SkillStore) ListForUser(ctx context.Context, ownerID string) ([]*store.Skill, error) {
	return s.list(ctx, `SELECT `+skillCols+` FROM skills WHERE owner_id = $1 ORDER BY name`, ownerID)
}

func (s *SkillStore) ListShared(ctx context.Context) ([]*store.Skill, error) {
	return s.list(ctx, `SELECT `+skillCols+` FROM skills WHERE is_shared ORDER BY name`)
}

func (s *SkillStore) list(ctx context.Context, q string, args ...any) ([]*store.Skill, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var out []*store.Skill
	for rows.Next() {
		sk, err := scanSkill(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

func (s *SkillStore) Delete(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM skills WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete skill: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ownershipErr(ctx, s.db, "skills", id)
	}
	return nil
}

// ScriptStore implements store.ScriptStore.
type ScriptStore struct {
	db *sql.DB
}

func NewScriptStore(db *sql.DB) *ScriptStore { return &ScriptStore{db: db} }

const scriptCols = `id, owner_id, name, description, source, is_approved, created_at, updated_at`

func scanScript(scan func(dest ...any) error) (*store.Script, error) {
	var sc store.Script
	err := scan(&sc.ID, &sc.OwnerID, &sc.Name, &sc.Description, &sc.Source, &sc.IsApproved, &sc.CreatedAt, &sc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select script: %w", err)
	}
	return &sc, nil
}

func (s *ScriptStore) Create(ctx context.Context, sc *store.Script) error {
	if sc.ID == "" {
		sc.ID = store.NewID()
	}
	now := time.Now()
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	if sc.UpdatedAt.IsZero() {
		sc.UpdatedAt = sc.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scripts (`+scriptCols+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sc.ID, sc.OwnerID, sc.Name, sc.Description, sc.Source, sc.IsApproved, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert script: %w", err)
	}
	return nil
}

func (s *ScriptStore) Get(ctx context.Context, id string) (*store.Script, error) {
	return scanScript(s.db.QueryRowContext(ctx,
		`SELECT `+scriptCols+` FROM scripts WHERE id = $1`, id).Scan)
}

func (s *ScriptStore) GetByName(ctx context.Context, ownerID, name string) (*store.Script, error) {
	return scanScript(s.db.QueryRowContext(ctx,
		`SELECT `+scriptCols+` FROM scripts WHERE owner_id = $1 AND name = $2
		 ORDER BY created_at DESC LIMIT 1`, ownerID, name).Scan)
}

func (s *ScriptStore) GetApprovedByName(ctx context.Context, name string) (*store.Script, error) {
	return scanScript(s.db.QueryRowContext(ctx,
		`SELECT `+scriptCols+` FROM scripts WHERE name = $1 AND is_approved
		 ORDER BY created_at DESC LIMIT 1`, name).Scan)
}

func (s *ScriptStore) ListForUser(ctx context.Context, ownerID string) ([]*store.Script, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scriptCols+` FROM scripts WHERE owner_id = $1 ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	defer rows.Close()

	var out []*store.Script
	for rows.Next() {
		sc, err := scanScript(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *ScriptStore) Delete(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scripts WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete script: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ownershipErr(ctx, s.db, "scripts", id)
	}
	return nil
}
