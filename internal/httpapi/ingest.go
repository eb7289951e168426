package httpapi

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/corpora-labs/ragserve/internal/ingest"
	"github.com/corpora-labs/ragserve/internal/storage"
)

// handleIngest accepts either a JSON body naming a server-side path or a
// multipart upload whose files are ingested directly from memory.
func (s *Server) handleIngest(c fiber.Ctx) error {
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		return s.ingestUpload(c)
	}

	var body struct {
		Path string `json:"path"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return errJSON(c, fiber.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
	}
	if strings.TrimSpace(body.Path) == "" {
		return errJSON(c, fiber.StatusBadRequest, errors.New("path is required"))
	}

	result, err := s.pipeline.IngestPath(c.Context(), body.Path)
	if err != nil {
		return ingestError(c, err)
	}
	return c.JSON(result)
}

func (s *Server) ingestUpload(c fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return errJSON(c, fiber.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err))
	}

	var blobs []ingest.Blob
	for _, headers := range form.File {
		for _, header := range headers {
			f, err := header.Open()
			if err != nil {
				return errJSON(c, fiber.StatusBadRequest, fmt.Errorf("open %s: %w", header.Filename, err))
			}
			content, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return errJSON(c, fiber.StatusBadRequest, fmt.Errorf("read %s: %w", header.Filename, err))
			}
			blobs = append(blobs, ingest.Blob{Name: header.Filename, Content: content})
		}
	}
	if len(blobs) == 0 {
		return errJSON(c, fiber.StatusBadRequest, errors.New("no files in upload"))
	}

	result, err := s.pipeline.IngestBlobs(c.Context(), blobs)
	if err != nil {
		return ingestError(c, err)
	}
	return c.JSON(result)
}

func ingestError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ingest.ErrNoContent):
		return errJSON(c, fiber.StatusBadRequest, err)
	case errors.Is(err, storage.ErrQdrantUnreachable):
		return errJSON(c, fiber.StatusServiceUnavailable, err)
	case errors.Is(err, storage.ErrDimensionMismatch):
		return errJSON(c, fiber.StatusInternalServerError, err)
	default:
		return errJSON(c, fiber.StatusInternalServerError, err)
	}
}
