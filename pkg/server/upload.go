package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/segmentio/ksuid"

	"storysmith/pkg/utils"
)

const (
	maxAudioSize = 10 << 20
	maxFormBody  = 12 << 20
	bodyLimit    = "12M"
	audioDir     = "audio_uploads"
)

// Form messages for rejected uploads.
const (
	msgAudioTooLarge = "Audio file must be smaller than 10MB."
	msgAudioType     = "Please upload a valid audio file."
)

// formTooLarge parses the form under a maxFormBody cap and reports whether
// the body went over it.
func formTooLarge(c echo.Context) bool {
	req := c.Request()
	if req.ContentLength > maxFormBody {
		return true
	}
	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxFormBody)
	err := req.ParseMultipartForm(32 << 20)
	var tooBig *http.MaxBytesError
	return errors.As(err, &tooBig)
}

// readAudio returns the optional audio upload, or nil when none was sent.
// A rejected upload comes back with the message to show on the form.
func readAudio(c echo.Context) (*multipart.FileHeader, string) {
	fh, err := c.FormFile("audio_file")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, ""
	}
	if err != nil {
		return nil, msgAudioType
	}
	if fh.Size == 0 && fh.Filename == "" {
		return nil, ""
	}
	if fh.Size > maxAudioSize {
		return nil, msgAudioTooLarge
	}
	if !strings.HasPrefix(fh.Header.Get("Content-Type"), "audio/") {
		return nil, msgAudioType
	}
	return fh, ""
}

// saveAudio writes the upload under mediaRoot/audio_uploads and returns its
// media-relative path. Existing names get a unique suffix.
func saveAudio(mediaRoot string, fh *multipart.FileHeader) (string, error) {
	name := utils.SanitizeFilename(filepath.Base(fh.Filename))
	if name == "" {
		name = "audio"
	}
	dir := filepath.Join(mediaRoot, audioDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if utils.Exists(filepath.Join(dir, name)) {
		ext := filepath.Ext(name)
		name = fmt.Sprintf("%s_%s%s", strings.TrimSuffix(name, ext), ksuid.New().String(), ext)
	}

	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return audioDir + "/" + name, nil
}
