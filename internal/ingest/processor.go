// Package ingest normalizes raw uploaded files into text and derives the
// ordered document chunks handed to the memory store. The chat core
// never parses raw files itself; this package is its collaborator.
package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/go-shiori/go-readability"

	"github.com/modelfleet/modelfleet/config"
	"github.com/modelfleet/modelfleet/models"
)

// ProcessingError reports a failure for one file. Other files of the
// same batch are unaffected.
type ProcessingError struct {
	FileName string
	Err      error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing %s: %v", e.FileName, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Processor turns raw files into normalized content and chunks.
type Processor struct {
	splitter Splitter
	maxBytes int64
	logger   *log.Logger
}

// NewProcessor builds a processor from configuration.
func NewProcessor(cfg config.IngestConfig, logger *log.Logger) *Processor {
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	cfg = cfg.Normalize()
	return &Processor{
		splitter: NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		maxBytes: cfg.MaxFileBytes,
		logger:   logger,
	}
}

// FileType classifies a file by extension and MIME type.
func FileType(name, mimeType string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	mimeType = strings.ToLower(mimeType)

	switch {
	case strings.Contains(mimeType, "pdf"):
		return "PDF"
	case strings.Contains(mimeType, "html"), ext == "html", ext == "htm":
		return "HTML"
	case ext == "txt":
		return "Text"
	case ext == "json":
		return "JSON"
	case ext == "csv":
		return "CSV"
	case ext == "md":
		return "Markdown"
	}
	return "Unknown"
}

// Process normalizes one file into its full text plus ordered chunks
// keyed by fileID. Failures carry the offending file name and never
// affect sibling files.
func (p *Processor) Process(fileID, name, mimeType string, data []byte) (models.FileContent, []models.DocumentChunk, error) {
	if int64(len(data)) > p.maxBytes {
		return models.FileContent{}, nil, &ProcessingError{FileName: name, Err: fmt.Errorf("file exceeds %d bytes", p.maxBytes)}
	}

	fileType := FileType(name, mimeType)
	text, err := p.extract(fileType, name, data)
	if err != nil {
		return models.FileContent{}, nil, &ProcessingError{FileName: name, Err: err}
	}

	parts := p.splitter.Split(text)
	chunks := make([]models.DocumentChunk, 0, len(parts))
	var combined strings.Builder
	for i, part := range parts {
		chunks = append(chunks, models.DocumentChunk{
			FileID:   fileID,
			FileName: name,
			Index:    i + 1,
			Text:     part,
			Type:     fileType,
		})
		fmt.Fprintf(&combined, "--- Chunk %d ---\n%s\n\n", i+1, part)
	}

	content := models.FileContent{
		Text: strings.TrimSpace(combined.String()),
		Type: fileType,
		Name: name,
		Metadata: models.FileMetadata{
			Chunks:     len(chunks),
			TotalPages: 1,
		},
	}
	return content, chunks, nil
}

// BatchResult is the outcome of one file within a batch.
type BatchResult struct {
	FileID  string
	Content models.FileContent
	Chunks  []models.DocumentChunk
	Err     error
}

// ProcessBatch processes every file independently. A failing file yields
// a BatchResult with Err set; the rest of the batch proceeds.
func (p *Processor) ProcessBatch(files []BatchInput) []BatchResult {
	out := make([]BatchResult, 0, len(files))
	for _, f := range files {
		content, chunks, err := p.Process(f.FileID, f.Name, f.MimeType, f.Data)
		if err != nil {
			p.logger.Printf("batch: %v", err)
			out = append(out, BatchResult{FileID: f.FileID, Err: err})
			continue
		}
		out = append(out, BatchResult{FileID: f.FileID, Content: content, Chunks: chunks})
	}
	return out
}

// BatchInput is one raw file of a batch.
type BatchInput struct {
	FileID   string
	Name     string
	MimeType string
	Data     []byte
}

// extract converts the raw bytes of one file into plain text.
func (p *Processor) extract(fileType, name string, data []byte) (string, error) {
	switch fileType {
	case "CSV":
		return renderCSV(data)
	case "JSON":
		return renderJSON(data)
	case "HTML":
		return renderHTML(name, data)
	case "PDF":
		return "", fmt.Errorf("PDF extraction is not supported")
	default:
		return string(data), nil
	}
}

// renderCSV flattens rows into "header: value" lines, one record per
// paragraph, so column semantics survive chunking.
func renderCSV(data []byte) (string, error) {
	r := csv.NewReader(strings.NewReader(string(data)))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("invalid CSV: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	headers := rows[0]
	var b strings.Builder
	for _, row := range rows[1:] {
		for i, value := range row {
			if i < len(headers) {
				fmt.Fprintf(&b, "%s: %s\n", headers[i], value)
			}
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func renderJSON(data []byte) (string, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(pretty), nil
}

func renderHTML(name string, data []byte) (string, error) {
	u, _ := url.Parse("file:///" + name)
	article, err := readability.FromReader(strings.NewReader(string(data)), u)
	if err != nil {
		return "", fmt.Errorf("extracting HTML: %w", err)
	}
	return article.TextContent, nil
}
