package collector

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"

	"go.uber.org/zap"

	"github.com/ctolnik/session-agent/zapctx"
)

const (
	uploadEndpoint = "/screenshots/upload"
	uploadField    = "image"
	uploadFilename = "screenshot.png"
)

// UploadScreenshot streams the PNG at path to the collector as a
// multipart form with a single image field.
func (s *HTTPSink) UploadScreenshot(ctx context.Context, path string) error {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open screenshot: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeImagePart(mw, f))
	}()

	if err := s.client.PostMultipart(ctx, uploadEndpoint, token, pr, mw.FormDataContentType()); err != nil {
		pr.CloseWithError(err)
		return err
	}

	zapctx.Debug(ctx, "screenshot uploaded", zap.String("path", path))
	return nil
}

func writeImagePart(mw *multipart.Writer, src io.Reader) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, uploadField, uploadFilename))
	h.Set("Content-Type", "image/png")

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return mw.Close()
}
