package repo

import (
	"context"
	"strings"

	"repairflow/internal/domain"
)

func (r Repo) InsertActivity(ctx context.Context, q Querier, a domain.Activity) error {
	_, err := q.ExecContext(ctx, `INSERT INTO activities(id,res_kind,res_id,user_id,summary,note,created_by,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.ResKind, a.ResID, a.UserID, a.Summary, nullable(a.Note), a.CreatedBy, a.CreatedAt)
	return err
}

// ActivityFilters narrows ListActivities. Empty fields match everything.
type ActivityFilters struct {
	UserID  string
	ResKind string
	ResID   string
	Summary string
}

func (r Repo) ListActivities(ctx context.Context, q Querier, f ActivityFilters) ([]domain.Activity, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.ResKind != "" {
		clauses = append(clauses, "res_kind=?")
		args = append(args, f.ResKind)
	}
	if f.ResID != "" {
		clauses = append(clauses, "res_id=?")
		args = append(args, f.ResID)
	}
	if f.Summary != "" {
		clauses = append(clauses, "summary=?")
		args = append(args, f.Summary)
	}
	rows, err := q.QueryContext(ctx, `SELECT id,res_kind,res_id,user_id,summary,COALESCE(note,''),created_by,created_at FROM activities
WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at DESC, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Activity{}
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.ID, &a.ResKind, &a.ResID, &a.UserID, &a.Summary, &a.Note, &a.CreatedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
