package repo

import (
	"context"
	"strings"

	"repairflow/internal/domain"
)

func (r Repo) EnsureActor(ctx context.Context, q Querier, actorID, name, now string) error {
	_, err := q.ExecContext(ctx, `INSERT INTO actors(id, name, created_at) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET name=COALESCE(excluded.name, actors.name)`, actorID, nullable(name), now)
	return err
}

func (r Repo) GetActor(ctx context.Context, q Querier, actorID string) (domain.Actor, error) {
	var a domain.Actor
	err := q.QueryRowContext(ctx, `SELECT id, COALESCE(name,''), created_at FROM actors WHERE id=?`, actorID).Scan(&a.ID, &a.Name, &a.CreatedAt)
	if err != nil {
		return a, notFound(err)
	}
	a.Roles, err = r.ActorRoles(ctx, q, actorID)
	return a, err
}

// ActorName returns the display name, falling back to the id.
func (r Repo) ActorName(ctx context.Context, q Querier, actorID string) string {
	var name string
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(name,'') FROM actors WHERE id=?`, actorID).Scan(&name); err != nil || name == "" {
		return actorID
	}
	return name
}

func (r Repo) InsertRole(ctx context.Context, q Querier, id, desc string) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO roles(id, description) VALUES (?,?)`, id, desc)
	return err
}

func (r Repo) AssignRole(ctx context.Context, q Querier, actorID, roleID string) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(actor_id, role_id) VALUES (?,?)`, actorID, roleID)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, q Querier, actorID, roleID string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM actor_roles WHERE actor_id=? AND role_id=?`, actorID, roleID)
	return err
}

func (r Repo) ActorRoles(ctx context.Context, q Querier, actorID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT role_id FROM actor_roles WHERE actor_id=? ORDER BY role_id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []string{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ActorHasAnyRole reports whether the actor holds at least one of roles.
func (r Repo) ActorHasAnyRole(ctx context.Context, q Querier, actorID string, roles []string) (bool, error) {
	if len(roles) == 0 {
		return false, nil
	}
	args := []any{actorID}
	for _, role := range roles {
		args = append(args, role)
	}
	var n int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM actor_roles WHERE actor_id=? AND role_id IN (`+placeholders(len(roles))+`) LIMIT 1`, args...).Scan(&n)
	if err != nil {
		if notFound(err) == ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ActorsWithAnyRole returns the distinct members of any of roles, sorted.
func (r Repo) ActorsWithAnyRole(ctx context.Context, q Querier, roles []string) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(roles))
	for _, role := range roles {
		args = append(args, role)
	}
	rows, err := q.QueryContext(ctx, `SELECT DISTINCT actor_id FROM actor_roles WHERE role_id IN (`+placeholders(len(roles))+`) ORDER BY actor_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
