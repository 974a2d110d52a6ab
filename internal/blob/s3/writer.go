package s3blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/zcombinatorio/percent-sub003/internal/domain"
)

// ReportWriter implements domain.ReportWriter with the SDK upload manager,
// which switches to multipart uploads for large bodies.
type ReportWriter struct {
	c        *Client
	uploader *manager.Uploader
}

// NewReportWriter creates a ReportWriter.
func NewReportWriter(c *Client) *ReportWriter {
	return &ReportWriter{
		c: c,
		uploader: manager.NewUploader(c.s3, func(u *manager.Uploader) {
			u.Concurrency = 2
		}),
	}
}

// Put uploads data to path under the configured prefix.
func (w *ReportWriter) Put(ctx context.Context, path string, data []byte, contentType string) error {
	key := w.c.objectKey(path)
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", key, err)
	}
	return nil
}

var _ domain.ReportWriter = (*ReportWriter)(nil)
