package gateway

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Shockvaluemedia/directfanz-messaging/internal/domain"
	"github.com/Shockvaluemedia/directfanz-messaging/internal/identity"
	"github.com/Shockvaluemedia/directfanz-messaging/pkg/storage"
)

func newAttachmentServer(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	blobs, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	verifier := identity.NewJWTVerifier("test-secret", "directfanz")
	token, err := verifier.Sign(&domain.User{ID: "fan-1", DisplayName: "Ada", Role: domain.RoleFan}, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	r := gin.New()
	NewAttachmentHandler(verifier, blobs).RegisterRoutes(r)
	return r, token
}

func multipartFile(t *testing.T, name, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func TestAttachmentUploadAndDownload(t *testing.T) {
	r, token := newAttachmentServer(t)
	content := []byte("png bytes")

	body, contentType := multipartFile(t, "selfie.png", "image/png", content)
	req := httptest.NewRequest(http.MethodPost, "/attachments", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Key       string `json:"key"`
		Name      string `json:"name"`
		MIMEType  string `json:"mime_type"`
		SizeBytes int64  `json:"size_bytes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(resp.Key, "attachments/fan-1/") || !strings.HasSuffix(resp.Key, ".png") {
		t.Errorf("key = %q, want attachments/fan-1/<id>.png", resp.Key)
	}
	if resp.SizeBytes != int64(len(content)) || resp.MIMEType != "image/png" {
		t.Errorf("metadata = %+v", resp)
	}

	req = httptest.NewRequest(http.MethodGet, "/attachments/"+resp.Key, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Errorf("downloaded %q, want %q", rec.Body.Bytes(), content)
	}
}

func TestAttachmentUploadRejections(t *testing.T) {
	r, token := newAttachmentServer(t)

	// No credentials.
	body, contentType := multipartFile(t, "f.png", "image/png", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/attachments", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous upload status = %d, want 401", rec.Code)
	}

	// Disallowed MIME type.
	body, contentType = multipartFile(t, "evil.exe", "application/x-msdownload", []byte("x"))
	req = httptest.NewRequest(http.MethodPost, "/attachments", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("exe upload status = %d, want 400", rec.Code)
	}

	// Unknown key.
	req = httptest.NewRequest(http.MethodGet, "/attachments/attachments/fan-1/missing.png", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing blob status = %d, want 404", rec.Code)
	}
}
