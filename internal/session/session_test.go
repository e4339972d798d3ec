package session

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/modelfleet/modelfleet/config"
	"github.com/modelfleet/modelfleet/internal/chat"
	"github.com/modelfleet/modelfleet/models"
)

type staticInvoker struct{}

func (staticInvoker) Invoke(ctx context.Context, model config.ModelConfig, history []chat.Message, sink chat.StreamSink) (string, error) {
	return "canned reply", nil
}

func newTestStore(ttl time.Duration) *InMemoryStore {
	gateway := config.GatewayConfig{
		BaseURL: "http://gateway.local",
		Models: []config.ModelConfig{
			{Name: "alpha", ModelName: "alpha-1", MaxTokens: 256, Temperature: 0.7},
		},
	}
	return NewInMemoryStore(gateway, staticInvoker{}, nil, ttl, log.New(io.Discard, "", 0))
}

func TestEnsureSessionCreatesAndReuses(t *testing.T) {
	st := newTestStore(time.Hour)
	a, err := st.EnsureSession("")
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if a.ID() == "" {
		t.Fatal("empty session id")
	}
	if a.Orchestrator == nil || a.Memory == nil {
		t.Fatal("session missing orchestrator or memory")
	}

	b, err := st.EnsureSession(a.ID())
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if b != a {
		t.Fatal("known id minted a new session")
	}

	c, err := st.EnsureSession("no-such-id")
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if c == a {
		t.Fatal("unknown id reused an existing session")
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	st := newTestStore(time.Hour)
	a, _ := st.EnsureSession("")
	b, _ := st.EnsureSession("")

	r, err := a.Orchestrator.Send(context.Background(), "hello", nil, []string{"alpha"}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	r.Wait()

	if got := len(a.Memory.Conversation()); got == 0 {
		t.Fatal("conversation not recorded")
	}
	if got := len(b.Memory.Conversation()); got != 0 {
		t.Fatalf("conversation leaked across sessions: %d turns", got)
	}
}

func TestExpiredSessionIsReplaced(t *testing.T) {
	st := newTestStore(time.Hour)
	a, _ := st.EnsureSession("")
	a.Expire(-time.Minute)

	if _, ok := st.GetSession(a.ID()); ok {
		t.Fatal("expired session still served")
	}
	b, err := st.EnsureSession(a.ID())
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if b == a {
		t.Fatal("expired session reused")
	}
}

func TestDropSession(t *testing.T) {
	st := newTestStore(time.Hour)
	a, _ := st.EnsureSession("")
	a.Memory.AddMessage(models.Turn{Role: models.RoleUser, Content: "hi"})

	st.DropSession(a.ID())
	if _, ok := st.GetSession(a.ID()); ok {
		t.Fatal("session survived drop")
	}
	if got := len(a.Memory.Conversation()); got != 0 {
		t.Fatalf("memory not cleared on drop: %d turns", got)
	}
}

func TestSessionFileRegistry(t *testing.T) {
	st := newTestStore(time.Hour)
	sess, _ := st.EnsureSession("")

	sess.AddFile("f1", models.FileContent{Name: "a.txt", Type: "Text"})
	sess.AddFile("f2", models.FileContent{Name: "b.txt", Type: "Text"})
	sess.AddFile("f1", models.FileContent{Name: "a-v2.txt", Type: "Text"})

	files := sess.Files()
	if len(files) != 2 {
		t.Fatalf("files = %d", len(files))
	}
	// Re-adding an id replaces content but keeps upload order.
	if files[0].Name != "a-v2.txt" || files[1].Name != "b.txt" {
		t.Fatalf("files = %+v", files)
	}

	if _, ok := sess.File("f2"); !ok {
		t.Fatal("File lookup failed")
	}
	sess.RemoveFile("f2")
	if _, ok := sess.File("f2"); ok {
		t.Fatal("file survived removal")
	}
	sess.RemoveFile("f2")
	if got := len(sess.Files()); got != 1 {
		t.Fatalf("files = %d", got)
	}
}
