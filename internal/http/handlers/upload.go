// Multipart upload staging.
//
// Images and screenshots are staged in the upload directory while the
// request is forwarded, then removed whatever the outcome. A file is
// accepted only when its extension, declared Content-Type and sniffed
// content all name the same allowed image type.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/tbourn/phishguard-gateway/internal/http/middleware"
	"github.com/tbourn/phishguard-gateway/internal/services"
)

// allowedImages maps an extension to the MIME types acceptable for it.
// SVG is XML, so the sniffer may report it under its XML parents.
var allowedImages = map[string][]string{
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".png":  {"image/png"},
	".gif":  {"image/gif"},
	".webp": {"image/webp"},
	".svg":  {"image/svg+xml", "text/xml", "application/xml"},
}

// uploadError carries the status an upload problem maps to.
type uploadError struct {
	status int
	code   string
	msg    string
}

func (e *uploadError) Error() string { return e.msg }

// stageUpload saves the multipart file under field, if any. The returned
// cleanup is never nil and must be called once the upstream call finished.
func (h *Handlers) stageUpload(c *gin.Context, field string) (*services.Upload, func(), error) {
	noop := func() {}

	fh, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, noop, nil
	}
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, noop, h.tooLarge()
		}
		return nil, noop, &uploadError{http.StatusBadRequest, ErrCodeBadRequest, "invalid multipart body"}
	}
	if fh.Size > h.uploadMax {
		return nil, noop, h.tooLarge()
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	allowed, ok := allowedImages[ext]
	if !ok {
		return nil, noop, unsupported(fmt.Sprintf("%s: only jpg, jpeg, png, gif, webp and svg images are accepted", field))
	}
	declared, _, _ := mime.ParseMediaType(fh.Header.Get("Content-Type"))
	if !contains(allowed, strings.ToLower(declared)) {
		return nil, noop, unsupported(fmt.Sprintf("%s: declared content type %q is not an allowed image type", field, declared))
	}

	src, err := fh.Open()
	if err != nil {
		return nil, noop, err
	}
	defer src.Close()

	dst, err := os.CreateTemp(h.uploadDir, "upload-*"+ext)
	if err != nil {
		return nil, noop, err
	}
	path := dst.Name()
	cleanup := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			middleware.LoggerFrom(c).Warn().Err(err).Str("path", path).Msg("upload cleanup failed")
		}
	}

	n, err := io.Copy(dst, io.LimitReader(src, h.uploadMax+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	if n > h.uploadMax {
		cleanup()
		return nil, noop, h.tooLarge()
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	if !sniffedAs(mt, allowed) {
		cleanup()
		return nil, noop, unsupported(fmt.Sprintf("%s: content does not match its declared type", field))
	}

	return &services.Upload{Path: path, Filename: filepath.Base(fh.Filename), ContentType: declared}, cleanup, nil
}

func (h *Handlers) tooLarge() error {
	return &uploadError{
		status: http.StatusRequestEntityTooLarge,
		code:   ErrCodePayloadTooLarge,
		msg:    fmt.Sprintf("File too large (max %d MiB)", h.uploadMax>>20),
	}
}

func unsupported(msg string) error {
	return &uploadError{http.StatusUnsupportedMediaType, ErrCodeUnsupportedMedia, msg}
}

// sniffedAs walks the detected type and its parents looking for an allowed one.
func sniffedAs(mt *mimetype.MIME, allowed []string) bool {
	for m := mt; m != nil; m = m.Parent() {
		base, _, _ := mime.ParseMediaType(m.String())
		if contains(allowed, base) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// failUpload writes an upload problem, or falls through to respondError.
func (h *Handlers) failUpload(c *gin.Context, err error) {
	var ue *uploadError
	if errors.As(err, &ue) {
		fail(c, ue.status, ue.code, ue.msg)
		return
	}
	h.respondError(c, err)
}
