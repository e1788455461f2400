package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// avatarExtensions maps accepted upload MIME types to the extension the file
// is stored under.
var avatarExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// handleUploadAvatar handles POST /api/avatar.
// Accepts a multipart image upload, saves it to disk and records the filename
// on the user's profile. A new upload replaces the previous one.
func (s *Server) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	nickname := getIdentityFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.maxAvatarBytes+1024) // small overhead for multipart headers

	if err := r.ParseMultipartForm(s.maxAvatarBytes); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size > s.maxAvatarBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("avatar exceeds maximum size of %d bytes", s.maxAvatarBytes))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mime.TypeByExtension(filepath.Ext(header.Filename))
	}
	ext, ok := avatarExtensions[mimeType]
	if !ok {
		writeError(w, http.StatusBadRequest, "avatar must be a png, jpeg, gif or webp image")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	user, err := s.store.GetUser(r.Context(), nickname)
	if err != nil || user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	// The filename is random per upload so caches never serve a stale image.
	fileName := uuid.New().String() + ext
	if err := os.MkdirAll(s.avatarStoragePath, 0o755); err != nil {
		s.logger.Warn("failed to create avatar directory", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save avatar")
		return
	}
	if err := os.WriteFile(filepath.Join(s.avatarStoragePath, fileName), data, 0o644); err != nil {
		s.logger.Warn("failed to write avatar", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save avatar")
		return
	}

	if err := s.store.SetAvatar(r.Context(), nickname, fileName); err != nil {
		s.logger.Warn("failed to record avatar", "nickname", nickname, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save avatar")
		return
	}

	// Best effort removal of the replaced file.
	if user.Avatar != "" && user.Avatar != fileName {
		_ = os.Remove(filepath.Join(s.avatarStoragePath, filepath.Base(user.Avatar)))
	}

	s.logger.Info("avatar updated", "nickname", nickname, "size", len(data))
	writeJSON(w, http.StatusOK, map[string]string{"avatar": fileName})
}

// handleGetAvatar handles GET /avatars/{filename}.
func (s *Server) handleGetAvatar(w http.ResponseWriter, r *http.Request) {
	fileName := filepath.Base(chi.URLParam(r, "filename"))
	if fileName == "." || fileName == ".." || strings.ContainsAny(fileName, `/\`) {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	filePath := filepath.Join(s.avatarStoragePath, fileName)

	// Reject symlinks to prevent path traversal.
	fi, err := os.Lstat(filePath)
	if err != nil {
		writeError(w, http.StatusNotFound, "avatar not found")
		return
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	mimeType := mime.TypeByExtension(filepath.Ext(fileName))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'")
	http.ServeFile(w, r, filePath)
}
