package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"repairflow/internal/config"
	"repairflow/internal/engine/auth"
	"repairflow/internal/events"
	"repairflow/internal/lock"
	"repairflow/internal/logging"
	"repairflow/internal/notify"
	"repairflow/internal/repo"
)

const moduleName = "engine"

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Auth     auth.Service
	Config   *config.Config
	Notifier notify.Notifier
	Locker   lock.Locker
	Logger   logrus.FieldLogger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:       db,
		Repo:     r,
		Events:   events.Writer{},
		Auth:     auth.Service{Repo: r, Config: cfg},
		Config:   cfg,
		Notifier: notify.Nop{},
		Locker:   lock.NewLocal(),
		Logger:   logging.Discard(),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) logger() logrus.FieldLogger {
	if e.Logger == nil {
		return logging.Discard()
	}
	return e.Logger
}

func newID() string {
	return uuid.NewString()
}

// pending holds notifications until the transaction that produced them
// commits.
type pending struct {
	userID string
	n      notify.Notification
}

type outbox []pending

func (o *outbox) add(userID string, n notify.Notification) {
	*o = append(*o, pending{userID: userID, n: n})
}

// flush pushes queued notifications. Failures are logged and dropped.
func (e Engine) flush(ctx context.Context, o outbox) {
	if e.Notifier == nil {
		return
	}
	for _, p := range o {
		if err := e.Notifier.Notify(ctx, p.userID, p.n); err != nil {
			logging.LogError(e.logger(), moduleName, "flush", "notify", map[string]any{"user_id": p.userID, "message": p.n.Message}, err)
		}
	}
}

func (e Engine) lockTTL() time.Duration {
	if e.Config != nil && e.Config.Lock.TTLSeconds > 0 {
		return time.Duration(e.Config.Lock.TTLSeconds) * time.Second
	}
	return 30 * time.Second
}

// withLock runs fn while holding key. A busy key is a state error so the
// caller can retry once the other decision is done.
func (e Engine) withLock(ctx context.Context, key string, fn func() error) error {
	if e.Locker == nil {
		return fn()
	}
	l, err := e.Locker.Obtain(ctx, key, e.lockTTL())
	if errors.Is(err, lock.ErrNotObtained) {
		return stateGuard("%s is being processed by another request", key)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			logging.LogError(e.logger(), moduleName, "withLock", "release", map[string]any{"key": key}, err)
		}
	}()
	return fn()
}

// ensureActor records the acting identity so activities and api keys can
// reference it.
func (e Engine) ensureActor(ctx context.Context, q repo.Querier, actorID string) error {
	if actorID == "" {
		return precondition("actor is required")
	}
	return e.Repo.EnsureActor(ctx, q, actorID, "", e.stamp())
}

// fanOut creates one activity per sales user on the given record. It
// returns the number of users reached.
func (e Engine) fanOut(ctx context.Context, q repo.Querier, resKind, resID, summary, note, actorID string) (int, error) {
	users, err := e.Auth.SalesUsers(ctx, q)
	if err != nil {
		return 0, err
	}
	now := e.stamp()
	for _, u := range users {
		if err := e.Repo.InsertActivity(ctx, q, activity(resKind, resID, u, summary, note, actorID, now)); err != nil {
			return 0, err
		}
	}
	return len(users), nil
}
