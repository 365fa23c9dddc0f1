package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"pollchat/internal/files"
)

const maxUploadBytes = 50 << 20

type uploadResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
}

// UploadRoutes returns a sub-router mounted at /api/uploads. The response of
// POST / is the file reference a file message is sent with.
func UploadRoutes(store *files.Local) chi.Router {
	r := chi.NewRouter()

	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			badRequest(w, "failed to parse multipart form")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			badRequest(w, "missing file")
			return
		}
		defer file.Close()

		path, size, err := store.Save(header.Filename, file)
		if err != nil {
			hlog.FromRequest(r).Warn().Err(err).Str("filename", header.Filename).Msg("upload failed")
			badRequest(w, "could not save file")
			return
		}
		writeJSON(w, http.StatusCreated, uploadResponse{Success: true, Path: path, Name: header.Filename, Size: size})
	})

	r.Get("/{filename}", func(w http.ResponseWriter, r *http.Request) {
		p, err := store.Resolve(chi.URLParam(r, "filename"))
		if err != nil {
			badRequest(w, "invalid filename")
			return
		}
		http.ServeFile(w, r, p)
	})

	return r
}
