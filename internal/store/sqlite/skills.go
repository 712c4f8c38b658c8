package sqlite

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
		`INSERT INTO skills (`+skillCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sk.ID, sk.OwnerID, sk.Name, sk.Description, sk.Content, sk.IsShared,
		ms(sk.CreatedAt), ms(sk.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert skill: %w", err)
	}
	return nil
}

func (s *SkillStore) Update(ctx context.Context, sk *store.Skill) error {
	sk.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE skills SET name = ?, description = ?, content = ?, is_shared = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ?`,
		sk.Name, sk.Description, sk.Content, sk.IsShared, ms(sk.UpdatedAt), sk.ID, sk.OwnerID)
	if err != nil {
		return fmt.Errorf("update skill: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ownershipErr(ctx, s.db, "skills", sk.ID)
	}
	return nil
}

func (s *SkillStore) Get(ctx context.Context, id string) (*store.Skill, error) {
	var sk store.Skill
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT `+skillCols+` FROM skills WHERE id = ?`, id).
		Scan(&sk.ID, &sk.OwnerID, &sk.Name, &sk.Description, &sk.Content, &sk.IsShared, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select skill: %w", err)
	}
	sk.CreatedAt, sk.UpdatedAt = msTime(created), msTime(updated)
	return &sk, nil
}

func (s *SkillStore) ListForUser(ctx context.Context, ownerID string) ([]*store.Skill, error) {
	return s.list(ctx, `SELECT `+skillCols+` FROM skills WHERE owner_id = ? ORDER BY name`, ownerID)
}

func (s *SkillStore) ListShared(ctx context.Context) ([]*store.Skill, error) {
	return s.list(ctx, `SELECT `+skillCols+` FROM skills WHERE is_shared = 1 ORDER BY name`)
}

func (s *SkillStore) list(ctx context.Context, q string, args ...any) ([]*store.Skill, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var out []*store.Skill
	for rows.Next() {
		var sk store.Skill
		var created, updated int64
		if err := rows.Scan(&sk.ID, &sk.OwnerID, &sk.Name, &sk.Description, &sk.Content, &sk.IsShared, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		sk.CreatedAt, sk.UpdatedAt = msTime(created), msTime(updated)
		out = append(out, &sk)
	}
	return out, rows.Err()
}

func (s *SkillStore) Delete(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM skills WHERE id = ? AND owner_id = ?`, id, ownerID)
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

func scanScript(row *sql.Row) (*store.Script, error) {
	var sc store.Script
	var created, updated int64
	err := row.Scan(&sc.ID, &sc.OwnerID, &sc.Name, &sc.Description, &sc.Source, &sc.IsApproved, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select script: %w", err)
	}
	sc.CreatedAt, sc.UpdatedAt = msTime(created), msTime(updated)
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
		`INSERT INTO scripts (`+scriptCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.OwnerID, sc.Name, sc.Description, sc.Source, sc.IsApproved,
		ms(sc.CreatedAt), ms(sc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert script: %w", err)
	}
	return nil
}

func (s *ScriptStore) Get(ctx context.Context, id string) (*store.Script, error) {
	return scanScript(s.db.QueryRowContext(ctx,
		`SELECT `+scriptCols+` FROM scripts WHERE id = ?`, id))
}

func (s *ScriptStore) GetByName(ctx context.Context, ownerID, name string) (*store.Script, error) {
	return scanScript(s.db.QueryRowContext(ctx,
		`SELECT `+scriptCols+` FROM scripts WHERE owner_id = ? AND name = ?
		 ORDER BY created_at DESC LIMIT 1`, ownerID, name))
}

func (s *ScriptStore) GetApprovedByName(ctx context.Context, name string) (*store.Script, error) {
	return scanScript(s.db.QueryRowContext(ctx,
		`SELECT `+scriptCols+` FROM scripts WHERE name = ? AND is_approved = 1
		 ORDER BY created_at DESC LIMIT 1`, name))
}

func (s *ScriptStore) ListForUser(ctx context.Context, ownerID string) ([]*store.Script, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scriptCols+` FROM scripts WHERE owner_id = ? ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	defer rows.Close()

	var out []*store.Script
	for rows.Next() {
		var sc store.Script
		var created, updated int64
		if err := rows.Scan(&sc.ID, &sc.OwnerID, &sc.Name, &sc.Description, &sc.Source, &sc.IsApproved, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan script: %w", err)
		}
		sc.CreatedAt, sc.UpdatedAt = msTime(created), msTime(updated)
		out = append(out, &sc)
	}
	return out, rows.Err()
}

func (s *ScriptStore) Delete(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scripts WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete script: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ownershipErr(ctx, s.db, "scripts", id)
	}
	return nil
}
