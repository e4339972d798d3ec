package models

import (
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one immutable entry of the conversation sequence. Assistant
// turns carry the name of the model that produced them.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	FileIDs   []string  `json:"file_ids,omitempty"`
}

// DocumentChunk is one bounded segment of a source document, ordered by
// Index within its file and addressable through the owning file ID.
type DocumentChunk struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	Index    int    `json:"index"` // 1-based
	Text     string `json:"text"`
	Type     string `json:"type"`
}

// FileContent is the normalized output of document processing for one
// file: the full extracted text plus chunk metadata.
type FileContent struct {
	Text     string       `json:"text"`
	Type     string       `json:"type"`
	Name     string       `json:"name"`
	Metadata FileMetadata `json:"metadata"`
}

// FileMetadata describes the chunk structure of a processed file.
type FileMetadata struct {
	Chunks     int `json:"chunks"`
	TotalPages int `json:"total_pages"`
}
