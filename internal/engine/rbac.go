package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"repairflow/internal/domain"
	"repairflow/internal/events"
	"repairflow/internal/repo"
)

// RegisterActor creates the actor or renames it.
func (e Engine) RegisterActor(ctx context.Context, actorID, name string) (domain.Actor, error) {
	if strings.TrimSpace(actorID) == "" {
		return domain.Actor{}, precondition("actor id is required")
	}
	if err := e.Repo.EnsureActor(ctx, e.DB, actorID, name, e.stamp()); err != nil {
		return domain.Actor{}, err
	}
	return e.Repo.GetActor(ctx, e.DB, actorID)
}

func (e Engine) GetActor(ctx context.Context, actorID string) (domain.Actor, error) {
	return e.Repo.GetActor(ctx, e.DB, actorID)
}

// GrantRole adds a declared role to an actor, creating the actor if needed.
func (e Engine) GrantRole(ctx context.Context, actorID, roleID, grantedBy string) error {
	if actorID == "" || roleID == "" {
		return precondition("actor and role are required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureActor(ctx, tx, actorID, "", e.stamp()); err != nil {
		return err
	}
	if err := e.Repo.AssignRole(ctx, tx, actorID, roleID); err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return precondition("role %s is not declared", roleID)
		}
		return err
	}
	if err := e.events().Append(ctx, tx, events.TypeRoleGranted, KindActor, actorID, grantedBy, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RevokeRole(ctx context.Context, actorID, roleID, revokedBy string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RevokeRole(ctx, tx, actorID, roleID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.TypeRoleRevoked, KindActor, actorID, revokedBy, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateAPIKey issues a key for actorID. The plain key is returned once and
// only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name, createdBy string) (domain.APIKey, string, error) {
	if actorID == "" {
		return domain.APIKey{}, "", precondition("actor is required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "rf_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        newID(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return key, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, "", key.CreatedAt); err != nil {
		return key, "", err
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return key, "", err
	}
	if err := e.events().Append(ctx, tx, events.TypeAPIKeyCreated, KindActor, actorID, createdBy, events.EventPayload{"key_id": key.ID, "name": name}); err != nil {
		return key, "", err
	}
	if err := tx.Commit(); err != nil {
		return key, "", err
	}
	return key, plain, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, actorID)
}

func (e Engine) DeleteAPIKey(ctx context.Context, id string) error {
	return e.Repo.DeleteAPIKey(ctx, id)
}
