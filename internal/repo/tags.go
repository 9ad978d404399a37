package repo

import (
	"context"

	"repairflow/internal/domain"
)

// EnsureTag returns the tag named name, creating it if absent. Concurrent
// callers converge on one row through the unique index on name.
func (r Repo) EnsureTag(ctx context.Context, q Querier, id, name, now string) (domain.Tag, error) {
	if _, err := q.ExecContext(ctx, `INSERT INTO tags(id,name,created_at) VALUES (?,?,?) ON CONFLICT(name) DO NOTHING`, id, name, now); err != nil {
		return domain.Tag{}, err
	}
	return r.TagByName(ctx, q, name)
}

func (r Repo) TagByName(ctx context.Context, q Querier, name string) (domain.Tag, error) {
	var t domain.Tag
	err := q.QueryRowContext(ctx, `SELECT id,name,created_at FROM tags WHERE name=?`, name).Scan(&t.ID, &t.Name, &t.CreatedAt)
	return t, notFound(err)
}

func (r Repo) ListTags(ctx context.Context, q Querier) ([]domain.Tag, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,name,created_at FROM tags ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
