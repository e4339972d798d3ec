package memory

import (
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/modelfleet/modelfleet/models"
)

func newTestStore() *Store {
	return NewStore(log.New(io.Discard, "", 0))
}

func chunk(fileID, fileName string, index int, text string) models.DocumentChunk {
	return models.DocumentChunk{FileID: fileID, FileName: fileName, Index: index, Text: text, Type: "text"}
}

func TestConversationIsAppendOnlyCopy(t *testing.T) {
	s := newTestStore()
	s.AddMessage(models.Turn{ID: "1", Role: models.RoleUser, Content: "hi", CreatedAt: time.Now()})
	s.AddMessage(models.Turn{ID: "2", Role: models.RoleAssistant, Content: "hello", Model: "alpha"})

	got := s.Conversation()
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	got[0].Content = "mutated"
	if s.Conversation()[0].Content != "hi" {
		t.Fatal("caller mutation leaked into store")
	}
}

func TestRelevantContextMatchesAnyTerm(t *testing.T) {
	s := newTestStore()
	s.AddDocument("f1", []models.DocumentChunk{
		chunk("f1", "invoice.txt", 1, "The invoice covers March."),
		chunk("f1", "invoice.txt", 2, "Total due: 42 dollars."),
	})
	s.AddDocument("f2", []models.DocumentChunk{
		chunk("f2", "notes.txt", 1, "Unrelated meeting notes."),
	})

	got := s.RelevantContext("invoice total")
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2", len(got))
	}
	// A chunk matching one term of a multi-term query is included.
	if got[0].Index != 1 || got[1].Index != 2 {
		t.Fatalf("order = %d,%d, want chunk order", got[0].Index, got[1].Index)
	}
	for _, c := range got {
		if c.FileID != "f1" {
			t.Fatalf("unexpected file %s in results", c.FileID)
		}
	}
}

func TestRelevantContextIsCaseInsensitive(t *testing.T) {
	s := newTestStore()
	s.AddDocument("f1", []models.DocumentChunk{
		chunk("f1", "a.txt", 1, "ALPHA content here"),
	})
	if got := s.RelevantContext("alpha"); len(got) != 1 {
		t.Fatalf("chunks = %d, want 1", len(got))
	}
	if got := s.RelevantContext(""); got != nil {
		t.Fatalf("empty query returned %d chunks", len(got))
	}
}

func TestRelevantContextFollowsInsertionOrder(t *testing.T) {
	s := newTestStore()
	s.AddDocument("later", []models.DocumentChunk{chunk("later", "b.txt", 1, "shared word")})
	s.AddDocument("earlier", []models.DocumentChunk{chunk("earlier", "a.txt", 1, "shared word")})

	got := s.RelevantContext("shared")
	if len(got) != 2 {
		t.Fatalf("chunks = %d", len(got))
	}
	if got[0].FileID != "later" || got[1].FileID != "earlier" {
		t.Fatalf("order = %s,%s, want insertion order", got[0].FileID, got[1].FileID)
	}
}

func TestAddDocumentReplacesPriorChunks(t *testing.T) {
	s := newTestStore()
	s.AddDocument("f1", []models.DocumentChunk{chunk("f1", "a.txt", 1, "old wording")})
	s.AddDocument("f1", []models.DocumentChunk{chunk("f1", "a.txt", 1, "new wording")})

	if got := s.RelevantContext("old"); len(got) != 0 {
		t.Fatalf("stale chunks survived replacement: %d", len(got))
	}
	got := s.RelevantContext("new")
	if len(got) != 1 || got[0].Text != "new wording" {
		t.Fatalf("replacement missing: %+v", got)
	}
}

func TestRemoveDocument(t *testing.T) {
	s := newTestStore()
	s.AddDocument("f1", []models.DocumentChunk{chunk("f1", "a.txt", 1, "keep me")})
	s.RemoveDocument("f1")
	if got := s.RelevantContext("keep"); len(got) != 0 {
		t.Fatalf("chunks survived removal: %d", len(got))
	}
	// Unknown ids are a no-op.
	s.RemoveDocument("never-added")
}

func TestSearchChunksRanked(t *testing.T) {
	s := newTestStore()
	s.AddDocument("f1", []models.DocumentChunk{
		chunk("f1", "guide.txt", 1, "deployment checklist for the staging cluster"),
		chunk("f1", "guide.txt", 2, "rollback instructions"),
	})

	got := s.SearchChunks("deployment", 5)
	if len(got) != 1 {
		t.Fatalf("hits = %d, want 1", len(got))
	}
	if got[0].Index != 1 {
		t.Fatalf("hit = %+v", got[0])
	}
	if s.SearchChunks("deployment", 0) != nil {
		t.Fatal("k=0 must return nil")
	}
}

func TestChatHistoryRendering(t *testing.T) {
	s := newTestStore()
	s.AddMessage(models.Turn{Role: models.RoleUser, Content: "question"})
	s.AddMessage(models.Turn{Role: models.RoleAssistant, Content: "answer", Model: "alpha"})
	s.AddMessage(models.Turn{Role: models.RoleSystem, Content: "Error from beta: down"})

	got := s.ChatHistory()
	want := "user: question\nassistant (alpha): answer\nsystem: Error from beta: down\n"
	if got != want {
		t.Fatalf("history = %q, want %q", got, want)
	}
}

func TestClearEmptiesEverything(t *testing.T) {
	s := newTestStore()
	s.AddMessage(models.Turn{Role: models.RoleUser, Content: "hi"})
	s.AddDocument("f1", []models.DocumentChunk{chunk("f1", "a.txt", 1, "indexed text")})

	s.Clear()

	if len(s.Conversation()) != 0 {
		t.Fatal("turns survived clear")
	}
	if got := s.RelevantContext("indexed"); len(got) != 0 {
		t.Fatal("chunks survived clear")
	}
	if got := s.SearchChunks("indexed", 5); len(got) != 0 {
		t.Fatal("index entries survived clear")
	}
	// The store is reusable after clearing.
	s.AddDocument("f2", []models.DocumentChunk{chunk("f2", "b.txt", 1, "fresh")})
	if got := s.RelevantContext("fresh"); len(got) != 1 {
		t.Fatalf("store unusable after clear: %d", len(got))
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	s := newTestStore()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.AddMessage(models.Turn{Role: models.RoleUser, Content: strings.Repeat("x", i%7)})
		}
		close(done)
	}()
	for i := 0; i < 100; i++ {
		_ = s.Conversation()
		_ = s.ChatHistory()
	}
	<-done
	if len(s.Conversation()) != 100 {
		t.Fatalf("turns = %d", len(s.Conversation()))
	}
}
