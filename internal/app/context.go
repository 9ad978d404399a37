package app

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"repairflow/internal/config"
	"repairflow/internal/db"
	"repairflow/internal/migrate"
	"repairflow/internal/repo"
)

// Open prepares the workspace, opens and migrates the database, loads the
// config (defaults when the file is absent) and seeds the declared roles.
func Open(ctx context.Context, workspace string) (*sql.DB, *config.Config, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := Bootstrap(ctx, repo.Repo{DB: conn}, cfg); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, cfg, nil
}

// Bootstrap inserts every role named in the config. Existing roles are
// left alone.
func Bootstrap(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	if cfg == nil {
		cfg = config.Default()
	}
	roles := map[string]string{}
	for id, role := range cfg.RBAC.Roles {
		roles[id] = role.Description
	}
	for _, id := range cfg.Sales.Roles {
		if _, ok := roles[id]; !ok {
			roles[id] = "sales"
		}
	}
	ids := make([]string, 0, len(roles))
	for id := range roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range ids {
		if err := r.InsertRole(ctx, tx, id, roles[id]); err != nil {
			return fmt.Errorf("seed role %s: %w", id, err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, id := range cfg.Notifications.ExcludedIdentities {
		if err := r.EnsureActor(ctx, tx, id, "", now); err != nil {
			return fmt.Errorf("ensure actor %s: %w", id, err)
		}
	}
	return tx.Commit()
}
