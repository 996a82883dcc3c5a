package sink

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alphafeed/marketpipe/internal/domain"
)

// S3Client is the slice of the S3 API the archiver uses.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive appends raw envelope payloads to object storage, keyed by domain,
// ingest date, and content hash. Rewriting the same key with the same content
// is a no-op, which keeps archival idempotent under redelivery.
type S3Archive struct {
	client  S3Client
	bucket  string
	timeout time.Duration
	now     func() time.Time
}

func NewS3Archive(client S3Client, bucket string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, timeout: 10 * time.Second, now: time.Now}
}

func (a *S3Archive) AppendRawBlob(ctx context.Context, d domain.Domain, hash string, payload []byte) error {
	key := fmt.Sprintf("%s/%s/%s.json", d, a.now().UTC().Format("2006-01-02"), hash)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	return classify("s3_archive", err)
}
