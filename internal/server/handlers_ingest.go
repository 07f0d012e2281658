package server

import (
	"io"
	"net/http"

	ragerr "github.com/ragkb/ragkb/internal/errors"
	"github.com/ragkb/ragkb/internal/ingest"
)

// maxUploadBytes bounds one multipart ingest request held in memory.
const maxUploadBytes = 256 << 20

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, ragerr.ValidationError("expected multipart form upload", err).
			WithSuggestion("send files as multipart/form-data under the 'files' field"))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, ragerr.ValidationError("no files in upload", nil).
			WithSuggestion("send files as multipart/form-data under the 'files' field"))
		return
	}

	files := make([]ingest.File, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			writeError(w, ragerr.Wrap(ragerr.ErrCodeIngestFailed, err))
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeError(w, ragerr.Wrap(ragerr.ErrCodeIngestFailed, err))
			return
		}
		files = append(files, ingest.File{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	summary, err := s.deps.Pipeline.Ingest(r.Context(), files)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
