package notify

import (
	"context"
	"sync"
)

const (
	TypeSuccess = "success"
	TypeWarning = "warning"
	TypeInfo    = "info"
)

// Notification is a point-to-point message for one user's session.
type Notification struct {
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
	Type    string `json:"type" enum:"success,warning,info"`
	Sticky  bool   `json:"sticky"`
}

// Notifier delivers notifications. Delivery is best effort: callers log
// failures and carry on.
type Notifier interface {
	Notify(ctx context.Context, userID string, n Notification) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string, Notification) error { return nil }

// Sent is one delivered notification captured by Recorder.
type Sent struct {
	UserID string
	Notification
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
}

func (r *Recorder) Notify(_ context.Context, userID string, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{UserID: userID, Notification: n})
	return nil
}

func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}
