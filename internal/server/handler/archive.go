package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/updownlabs/sidepricer/internal/domain"
)

// archivePrefix roots every archive request. Keys outside it are rejected so
// the endpoints cannot read arbitrary bucket contents (raw scrape dumps live
// under raw/).
const archivePrefix = "archive/"

// ArchiveHandler serves the cold-storage archive: listing the JSONL files
// the retention pipeline produced and streaming individual files back.
type ArchiveHandler struct {
	blobs  domain.BlobReader // nil when the running mode has no object storage
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. blobs may be nil, in which
// case both endpoints answer 503.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logger}
}

// archiveObject is the JSON rendering of one archived file.
type archiveObject struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified"`
}

// ListArchive lists archived files, optionally narrowed by prefix. The
// prefix is always anchored under archive/.
// GET /api/archive?prefix=fills/
func (h *ArchiveHandler) ListArchive(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage not configured")
		return
	}

	prefix, ok := archiveKey(r.URL.Query().Get("prefix"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid prefix")
		return
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archive failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archive")
		return
	}

	objects := make([]archiveObject, 0, len(infos))
	for _, info := range infos {
		objects = append(objects, archiveObject{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified.UTC().Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"prefix":  prefix,
		"objects": objects,
	})
}

// DownloadArchive streams one archived file.
// GET /api/archive/{key...}
func (h *ArchiveHandler) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage not configured")
		return
	}

	key, ok := archiveKey(pathParam(r, "key"))
	if !ok || key == archivePrefix {
		writeError(w, http.StatusBadRequest, "invalid archive key")
		return
	}

	body, err := h.blobs.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive file not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: download archive failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read archive file")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// archiveKey anchors a caller-supplied key or prefix under archive/ and
// rejects path traversal. An empty input maps to the archive root.
func archiveKey(in string) (string, bool) {
	if strings.Contains(in, "..") {
		return "", false
	}
	in = strings.TrimPrefix(in, "/")
	if in == "" {
		return archivePrefix, true
	}
	if !strings.HasPrefix(in, archivePrefix) {
		in = archivePrefix + in
	}
	return in, true
}
