package files

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const (
	maxMemoryForParse = 32 << 20
	fileFormKey       = "file"
)

// UploadHandler stores the multipart field "file". Request bodies over maxBytes are refused.
func UploadHandler(store *Store, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

		if err := r.ParseMultipartForm(maxMemoryForParse); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "File is too large")
				return
			}
			writeError(w, http.StatusBadRequest, "No file uploaded")
			return
		}

		uploadedFile, fileHeader, err := r.FormFile(fileFormKey)
		if err != nil {
			writeError(w, http.StatusBadRequest, "No file uploaded")
			return
		}
		defer uploadedFile.Close()

		info, err := store.Save(fileHeader.Filename, uploadedFile)
		if err != nil {
			if errors.Is(err, ErrInvalidFilename) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			log.Error().Err(err).Str("service", "files").Msg("can't save uploaded file")
			writeError(w, http.StatusInternalServerError, "can't save file")
			return
		}

		log.Info().
			Str("service", "files").
			Str("filename", info.Filename).
			Int64("size", info.Size).
			Msg("file uploaded")

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(info); err != nil {
			log.Error().Err(err).Str("service", "files").Msg("can't encode file info")
		}
	}
}

func DownloadHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")

		path, err := store.Path(filename)
		switch {
		case errors.Is(err, ErrInvalidFilename):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, ErrFileNotFound):
			writeError(w, http.StatusNotFound, err.Error())
			return
		case err != nil:
			log.Error().Err(err).Str("service", "files").Str("filename", filename).Msg("can't stat file")
			writeError(w, http.StatusInternalServerError, "can't read file")
			return
		}

		w.Header().Set("Content-Disposition", `attachment; filename="`+downloadName(filename)+`"`)
		http.ServeFile(w, r, path)
	}
}

// downloadName strips the uuid prefix added on upload
func downloadName(filename string) string {
	const uuidLen = 36
	if len(filename) > uuidLen+1 && filename[uuidLen] == '-' {
		filename = filename[uuidLen+1:]
	}
	return strings.ReplaceAll(filename, `"`, "")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
