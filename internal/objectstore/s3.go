// Package objectstore implements the object store gateway (spec §4.A): a
// thin put/get facade over an S3-compatible endpoint, used for both the
// staging bucket (raw uploads) and the warehouse bucket (table data and
// query results).
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/lakeflow/control-plane/internal/config"
	"github.com/lakeflow/control-plane/internal/domain"
)

// Gateway is the object store gateway described in spec §4.A. It is
// constructed once at the composition root and shared across the
// coordinator and worker.
type Gateway struct {
	client *s3.Client
}

// New builds a Gateway configured for an S3-compatible endpoint, grounded
// on the teacher's query.S3Presigner construction (path-style addressing,
// static credentials, explicit base endpoint).
func New(cfg *config.Config) *Gateway {
	scheme := "http"
	if cfg.StoreUseTLS {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s", scheme, cfg.StoreEndpoint)

	client := s3.New(s3.Options{
		Region: cfg.StoreRegion,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.StoreAccessKey, cfg.StoreSecretKey, "",
		),
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: true,
	})

	return &Gateway{client: client}
}

// Put uploads a stream of size bytes to bucket/path, creating the bucket
// lazily if it does not yet exist.
func (g *Gateway) Put(ctx context.Context, bucket, path string, body io.Reader, size int64, contentType string) error {
	path = normalizePath(path)

	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(path),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err == nil {
		return nil
	}
	if !isNoSuchBucket(err) {
		return domain.ErrStorage(err, "put object %s/%s: %v", bucket, path, err)
	}

	if _, createErr := g.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); createErr != nil && !isBucketAlreadyOwned(createErr) {
		return domain.ErrStorage(createErr, "create bucket %s: %v", bucket, createErr)
	}

	_, err = g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(path),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return domain.ErrStorage(err, "put object %s/%s after bucket creation: %v", bucket, path, err)
	}
	return nil
}

// Get returns a stream reading bucket/path. The caller must Close it.
func (g *Gateway) Get(ctx context.Context, bucket, path string) (io.ReadCloser, error) {
	path = normalizePath(path)

	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, domain.ErrNotFound("object %s/%s not found", bucket, path)
		}
		return nil, domain.ErrStorage(err, "get object %s/%s: %v", bucket, path, err)
	}
	return out.Body, nil
}

// Delete removes bucket/path. A missing object is not an error — deleting
// a transient upload that has already been cleaned up is a no-op.
func (g *Gateway) Delete(ctx context.Context, bucket, path string) error {
	path = normalizePath(path)
	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return domain.ErrStorage(err, "delete object %s/%s: %v", bucket, path, err)
	}
	return nil
}

func normalizePath(path string) string {
	return strings.TrimPrefix(path, "/")
}

func isNoSuchBucket(err error) bool {
	return errorCodeContains(err, "NoSuchBucket")
}

func isBucketAlreadyOwned(err error) bool {
	return errorCodeContains(err, "BucketAlreadyOwnedByYou") || errorCodeContains(err, "BucketAlreadyExists")
}

func isNoSuchKey(err error) bool {
	return errorCodeContains(err, "NoSuchKey") || errorCodeContains(err, "NotFound")
}

func errorCodeContains(err error, code string) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == code
	}
	return strings.Contains(err.Error(), code)
}
