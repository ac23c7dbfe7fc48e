package gateway

import (
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Shockvaluemedia/directfanz-messaging/internal/domain"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/identity"
	"github.com/Shockvaluemedia/directfanz-messaging/pkg/log"
	"github.com/Shockvaluemedia/directfanz-messaging/pkg/storage"
)

const uploadURLTTL = 24 * time.Hour

// AttachmentHandler is the HTTP side of file sharing. Blobs are
// uploaded here before the message that references them is sent, and
// read back through the download route when the storage backend has no
// presignable URL of its own.
type AttachmentHandler struct {
	verifier identity.Verifier
	blobs    storage.Store
}

func NewAttachmentHandler(verifier identity.Verifier, blobs storage.Store) *AttachmentHandler {
	return &AttachmentHandler{verifier: verifier, blobs: blobs}
}

// RegisterRoutes mounts the attachment endpoints.
func (h *AttachmentHandler) RegisterRoutes(r *gin.Engine) {
	r.POST("/attachments", h.Upload)
	r.GET("/attachments/*key", h.Download)
}

func (h *AttachmentHandler) authenticate(c *gin.Context) (*domain.User, bool) {
	user, err := h.verifier.Verify(c.Request.Context(), bearerToken(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": domain.CodeAuthenticationFailed})
		return nil, false
	}
	return user, true
}

// Upload accepts one multipart file, enforces the per-type size
// ceiling, and stores it under a key the client then references in a
// send_message attachment.
func (h *AttachmentHandler) Upload(c *gin.Context) {
	user, ok := h.authenticate(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.CodeBadRequest})
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	limit, allowed := domain.AttachmentSizeLimit(mimeType)
	if !allowed || header.Size <= 0 || header.Size > limit {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.CodeInvalidAttachment})
		return
	}

	key := "attachments/" + user.ID + "/" + uuid.New().String() + filepath.Ext(header.Filename)
	ctx := c.Request.Context()
	if err := h.blobs.Write(ctx, key, file, header.Size, mimeType); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("attachment_key", key).Msg("attachment upload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": domain.CodeInternalError})
		return
	}

	url, err := h.blobs.GetURL(ctx, key, uploadURLTTL)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("attachment_key", key).Msg("failed to resolve url for fresh upload")
	}
	c.JSON(http.StatusCreated, gin.H{
		"key":        key,
		"url":        url,
		"name":       header.Filename,
		"mime_type":  mimeType,
		"size_bytes": header.Size,
	})
}

// Download streams a stored blob back to an authenticated client.
func (h *AttachmentHandler) Download(c *gin.Context) {
	if _, ok := h.authenticate(c); !ok {
		return
	}

	key := strings.TrimPrefix(c.Param("key"), "/")
	ctx := c.Request.Context()
	info, err := h.blobs.Stat(ctx, key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": domain.CodeNotFound})
		return
	}

	rc, err := h.blobs.Read(ctx, key)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("attachment_key", key).Msg("attachment read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": domain.CodeInternalError})
		return
	}
	defer rc.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, info.Size, contentType, rc, nil)
}
