package server

import (
	"io"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/modelfleet/modelfleet/internal/ingest"
)

type uploadedFile struct {
	FileID string `json:"file_id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Chunks int    `json:"chunks"`
	Error  string `json:"error,omitempty"`
}

// uploadFiles ingests a multipart batch. Each file is processed
// independently; a failing file is reported in place without aborting
// the rest of the batch.
func (s *Server) uploadFiles(c echo.Context) error {
	sess, err := s.resolveSession(c)
	if err != nil {
		return err
	}
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "expected multipart form")
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files attached")
	}

	batch := make([]ingest.BatchInput, 0, len(headers))
	names := make(map[string]string, len(headers))
	out := make([]uploadedFile, 0, len(headers))
	for _, fh := range headers {
		id := uuid.New().String()
		names[id] = fh.Filename
		data, err := readPart(fh)
		if err != nil {
			out = append(out, uploadedFile{FileID: id, Name: fh.Filename, Error: err.Error()})
			continue
		}
		batch = append(batch, ingest.BatchInput{
			FileID:   id,
			Name:     fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Data:     data,
		})
	}

	results := s.processor.ProcessBatch(batch)
	for _, r := range results {
		if r.Err != nil {
			out = append(out, uploadedFile{FileID: r.FileID, Name: names[r.FileID], Error: r.Err.Error()})
			continue
		}
		sess.AddFile(r.FileID, r.Content)
		sess.Memory.AddDocument(r.FileID, r.Chunks)
		out = append(out, uploadedFile{
			FileID: r.FileID,
			Name:   r.Content.Name,
			Type:   r.Content.Type,
			Chunks: r.Content.Metadata.Chunks,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"files": out})
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

func (s *Server) listFiles(c echo.Context) error {
	sess, err := s.resolveSession(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"files": sess.Files()})
}

// removeFile drops a file from the session and unindexes its chunks.
// Removing an unknown id is a no-op.
func (s *Server) removeFile(c echo.Context) error {
	sess, err := s.resolveSession(c)
	if err != nil {
		return err
	}
	id := c.Param("id")
	sess.RemoveFile(id)
	sess.Memory.RemoveDocument(id)
	return c.NoContent(http.StatusNoContent)
}

// searchChunks runs a ranked full-text query over the session's
// indexed document chunks.
func (s *Server) searchChunks(c echo.Context) error {
	sess, err := s.resolveSession(c)
	if err != nil {
		return err
	}
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing query parameter q")
	}
	chunks := sess.Memory.SearchChunks(query, 10)
	return c.JSON(http.StatusOK, map[string]interface{}{"chunks": chunks})
}
