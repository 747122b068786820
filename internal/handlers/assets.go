package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/reelsmith/reelsmith-backend/internal/app"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
	"github.com/reelsmith/reelsmith-backend/internal/platform/storage"
)

// assetKinds maps accepted upload extensions to the asset kind recorded in
// job payloads.
var assetKinds = map[string]string{
	".jpg":  "image",
	".jpeg": "image",
	".png":  "image",
	".webp": "image",
	".mp4":  "video",
	".mov":  "video",
	".webm": "video",
	".mp3":  "audio",
	".m4a":  "audio",
	".wav":  "audio",
}

type AssetHandler struct {
	log        *logger.Logger
	store      storage.Store
	maxAssetMb int
}

func NewAssetHandler(log *logger.Logger, store storage.Store, defaults *app.Defaults) *AssetHandler {
	maxMb := defaults.Limits.MaxAssetMb
	if maxMb <= 0 {
		maxMb = 20
	}
	return &AssetHandler{
		log:        log.With("handler", "AssetHandler"),
		store:      store,
		maxAssetMb: maxMb,
	}
}

// UploadAsset accepts a multipart file, stores it under uploads/, and returns
// the URI the caller references from a job payload.
func (h *AssetHandler) UploadAsset(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "MISSING_FILE", errors.New("multipart field 'file' is required"))
		return
	}
	if fileHeader.Size > int64(h.maxAssetMb)<<20 {
		RespondError(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
			fmt.Errorf("file exceeds %dMB limit", h.maxAssetMb))
		return
	}
	name := sanitizeFilename(fileHeader.Filename)
	kind, ok := assetKinds[strings.ToLower(filepath.Ext(name))]
	if !ok {
		RespondError(c, http.StatusBadRequest, "UNSUPPORTED_TYPE",
			fmt.Errorf("unsupported file type %q", filepath.Ext(name)))
		return
	}

	uri, err := h.put(c, fileHeader, name)
	if err != nil {
		h.log.Error("asset upload failed", "filename", name, "error", err)
		RespondError(c, http.StatusInternalServerError, "UPLOAD_FAILED", err)
		return
	}
	h.log.Info("asset uploaded", "filename", name, "kind", kind, "bytes", fileHeader.Size)

	c.JSON(http.StatusCreated, gin.H{
		"uri":      uri,
		"kind":     kind,
		"filename": name,
		"bytes":    fileHeader.Size,
	})
}

func (h *AssetHandler) put(c *gin.Context, fh *multipart.FileHeader, name string) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	key := fmt.Sprintf("uploads/%s/%s", uuid.New(), name)
	return h.store.Put(c.Request.Context(), key, f)
}

// sanitizeFilename strips path components and characters that are unsafe in
// object keys.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" || strings.Trim(out, "._") == "" {
		out = "asset"
	}
	return out
}
