package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/bft-labs/tagcam/internal/ports"
)

// Upload body encodings.
const (
	// ModeBinary sends the JPEG as the request body with a Content-Length.
	ModeBinary = "binary"

	// ModeMultipart streams a multipart/form-data body with chunked
	// transfer encoding.
	ModeMultipart = "multipart"
)

// DefaultBoundary is the fixed multipart boundary token.
const DefaultBoundary = "tagcam-image-boundary-7MA4YWxkTrZu0gW"

// SerialHeader carries the decimal tag serial number.
const SerialHeader = "rfid-serial-number"

const maxErrorBody = 512

// SenderConfig contains configuration for the image sender.
type SenderConfig struct {
	// URL is the full upload endpoint, e.g. http://host:8000/post.
	URL string

	// Mode is ModeBinary or ModeMultipart. Empty means ModeBinary.
	Mode string

	// Boundary overrides DefaultBoundary in multipart mode.
	Boundary string

	// AuthKey, when set, is sent as a bearer token.
	AuthKey string
}

// ImageSender implements ports.ImageSender using HTTP. Every request asks
// for the connection to be closed afterwards, so each attempt runs on a
// fresh connection.
type ImageSender struct {
	cfg    SenderConfig
	client ports.HTTPClient
	logger ports.Logger
}

// NewImageSender creates a new HTTP image sender.
func NewImageSender(cfg SenderConfig, client ports.HTTPClient, logger ports.Logger) *ImageSender {
	if cfg.Mode == "" {
		cfg.Mode = ModeBinary
	}
	if cfg.Boundary == "" {
		cfg.Boundary = DefaultBoundary
	}
	return &ImageSender{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

// Send performs one upload attempt.
func (s *ImageSender) Send(ctx context.Context, up ports.UploadRequest) error {
	var (
		req    *http.Request
		finish func()
		err    error
	)
	switch s.cfg.Mode {
	case ModeMultipart:
		req, finish, err = s.multipartRequest(ctx, up)
	case ModeBinary:
		req, err = s.binaryRequest(ctx, up)
	default:
		return fmt.Errorf("unknown upload mode %q", s.cfg.Mode)
	}
	if err != nil {
		return err
	}
	if finish != nil {
		defer finish()
	}

	req.Close = true
	req.Header.Set(SerialHeader, strconv.FormatUint(up.Tag.SerialNumber, 10))
	if s.cfg.AuthKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.AuthKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}

	s.logger.Debug("upload accepted",
		ports.String("job", up.JobID),
		ports.Int("status", resp.StatusCode),
		ports.String("mode", s.cfg.Mode),
	)
	return nil
}

func (s *ImageSender) binaryRequest(ctx context.Context, up ports.UploadRequest) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(up.Image))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Content-Disposition", "inline; filename="+up.Filename)
	return req, nil
}

// multipartRequest streams the body through a pipe. The unknown length
// makes the transport use chunked encoding.
//
// The writer goroutine reads up.Image, which belongs to the caller only
// until Send returns. finish closes the pipe and waits for the goroutine,
// so a server that answers before reading the whole body cannot leave it
// running.
func (s *ImageSender) multipartRequest(ctx context.Context, up ports.UploadRequest) (*http.Request, func(), error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	if err := writer.SetBoundary(s.cfg.Boundary); err != nil {
		return nil, nil, fmt.Errorf("set boundary: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, pr)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = -1
	req.Header.Set("Content-Type", writer.FormDataContentType())

	done := make(chan struct{})
	go func() {
		defer close(done)
		pw.CloseWithError(writeImagePart(writer, up))
	}()
	finish := func() {
		_ = pr.Close()
		<-done
	}
	return req, finish, nil
}

func writeImagePart(writer *multipart.Writer, up ports.UploadRequest) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, up.Filename))
	h.Set("Content-Type", "image/jpeg")

	part, err := writer.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(up.Image); err != nil {
		return fmt.Errorf("write image part: %w", err)
	}
	return writer.Close()
}
