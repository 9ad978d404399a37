package notify

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
)

func TestHubDeliversToUserSessions(t *testing.T) {
	hub := NewHub(nil)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, r.URL.Query().Get("user"))
	})}
	go srv.Serve(ln)
	defer srv.Shutdown(context.Background())

	conn, _, err := ws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/?user=alice", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Sessions("alice") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := hub.Notify(context.Background(), "bob", Notification{Message: "not yours", Type: TypeInfo}); err != nil {
		t.Fatalf("notify without sessions: %v", err)
	}
	if err := hub.Notify(context.Background(), "alice", Notification{Message: "hello", Type: TypeSuccess}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Notification
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Message != "hello" || got.Type != TypeSuccess {
		t.Fatalf("unexpected notification %+v", got)
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	_ = r.Notify(context.Background(), "u1", Notification{Message: "a", Type: TypeWarning, Sticky: true})
	sent := r.Sent()
	if len(sent) != 1 || sent[0].UserID != "u1" || !sent[0].Sticky {
		t.Fatalf("unexpected %+v", sent)
	}
}
