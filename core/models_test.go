package core

import (
	"testing"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "same content produces same ID",
			content: "test content",
		},
		{
			name:    "empty string",
			content: "",
		},
		{
			name:    "long content",
			content: "This is a much longer piece of content that should still hash consistently",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := IDFromContent(tt.content)
			id2 := IDFromContent(tt.content)

			if id1 != id2 {
				t.Errorf("IDFromContent() produced different IDs for same content: %d vs %d", id1, id2)
			}
		})
	}
}

func TestIDFromContent_Different(t *testing.T) {
	id1 := IDFromContent("content1")
	id2 := IDFromContent("content2")

	if id1 == id2 {
		t.Errorf("IDFromContent() produced same ID for different content")
	}
}

func TestChunkID(t *testing.T) {
	a := ChunkID("t1", "doc", 1, 0)
	if a != ChunkID("t1", "doc", 1, 0) {
		t.Errorf("ChunkID() is not deterministic")
	}

	others := []ID{
		ChunkID("t2", "doc", 1, 0),
		ChunkID("t1", "other", 1, 0),
		ChunkID("t1", "doc", 2, 0),
		ChunkID("t1", "doc", 1, 1),
	}
	for i, id := range others {
		if id == a {
			t.Errorf("ChunkID() collision with variant %d", i)
		}
	}
}

func TestContentHash(t *testing.T) {
	h := ContentHash("hello")
	if len(h) != 64 {
		t.Errorf("ContentHash() length = %d, want 64", len(h))
	}
	if h != ContentHash("hello") {
		t.Errorf("ContentHash() is not deterministic")
	}
	if h == ContentHash("hello!") {
		t.Errorf("ContentHash() collision")
	}
}

func TestTaskState_Terminal(t *testing.T) {
	tests := []struct {
		state TaskState
		want  bool
	}{
		{TaskPending, false},
		{TaskProcessing, false},
		{TaskSucceeded, true},
		{TaskFailed, true},
		{TaskCancelled, true},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChunk_Indexed(t *testing.T) {
	c := &Chunk{Vector: []float32{1}}
	if !c.Indexed() {
		t.Errorf("chunk with vector should be indexed")
	}
	c.Superseded = true
	if c.Indexed() {
		t.Errorf("superseded chunk should not be indexed")
	}
	if (&Chunk{}).Indexed() {
		t.Errorf("chunk without vector should not be indexed")
	}
}
