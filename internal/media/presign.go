// Package media handles photo blobs. The store keeps only storage keys;
// the bytes go straight to object storage through presigned URLs, so
// neither the sync engine nor the store ever proxies image data.
package media

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const presignTTL = 15 * time.Minute

// Presigner issues presigned PUT/GET URLs for couple media.
type Presigner struct {
	bucket string
	client *s3.PresignClient
}

type S3Settings struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

func NewPresigner(ctx context.Context, st S3Settings) (*Presigner, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(st.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			st.AccessKey,
			st.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if st.Endpoint != "" {
			o.BaseEndpoint = aws.String(st.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Presigner{bucket: st.Bucket, client: s3.NewPresignClient(client)}, nil
}

// NewStorageKey returns a fresh couple-scoped object key.
func NewStorageKey(coupleID string) string {
	d := time.Now()
	return fmt.Sprintf("couples/%s/%d/%d/%d/%s", coupleID, d.Year(), d.Month(), d.Day(), uuid.New())
}

// PresignPut returns a URL the device PUTs the photo bytes to.
func (p *Presigner) PresignPut(ctx context.Context, key string) (string, error) {
	req, err := p.client.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: &p.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(presignTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign put: %w", err)
	}
	return req.URL, nil
}

// PresignGet returns a URL the device fetches the photo bytes from.
func (p *Presigner) PresignGet(ctx context.Context, key string) (string, error) {
	req, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &p.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(presignTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign get: %w", err)
	}
	return req.URL, nil
}
