// Package s3 implements the object store on Amazon S3 or S3-compatible
// storage. S3 objects are immutable and offer no server-side compose, so
// appends are emulated by rewriting: the existing staging object and the
// new chunk are streamed back as one object. Layout:
//
//	staging/<uploadId>/data   accumulating payload
//	measurements/<uploadId>   committed payload
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/marmos91/sensorsink/pkg/store/object"
)

const (
	stagingPrefix = "staging/"
	durablePrefix = "measurements/"
	dataSuffix    = "/data"
)

// Store is an S3-backed object store scoped to one bucket.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewClientFromConfig creates an S3 client from configuration parameters.
// A non-empty endpoint targets S3-compatible servers such as MinIO.
func NewClientFromConfig(
	ctx context.Context,
	endpoint,
	region,
	accessKeyID,
	secretAccessKey string,
	forcePathStyle bool,
) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID,
			secretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
		o.UsePathStyle = forcePathStyle
	})
	return client, nil
}

// New creates a store over the given bucket. The bucket must exist; a
// HeadBucket call fails fast on access problems.
func New(ctx context.Context, client *s3.Client, bucket string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("accessing bucket %q: %w", bucket, err)
	}
	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
	}, nil
}

func dataKey(uploadID string) string    { return stagingPrefix + uploadID + dataSuffix }
func durableKey(uploadID string) string { return durablePrefix + uploadID }

// Append rewrites the staging object as (existing bytes, chunk). The first
// chunk skips the read-back and uploads directly. Counting the chunk bytes
// through a plain counter keeps the return value accurate even when the
// uploader buffers internally.
func (s *Store) Append(ctx context.Context, uploadID string, r io.Reader, size int64) (int64, error) {
	key := dataKey(uploadID)
	counted := &countingReader{r: r}

	existing, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	switch {
	case isNotFoundError(err):
		_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   counted,
		})
		if err != nil {
			return counted.n, fmt.Errorf("writing staging object: %w", err)
		}
		return counted.n, nil
	case err != nil:
		return 0, fmt.Errorf("reading staging object: %w", err)
	}
	defer existing.Body.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   io.MultiReader(existing.Body, counted),
	})
	if err != nil {
		return counted.n, fmt.Errorf("rewriting staging object: %w", err)
	}
	return counted.n, nil
}

// BytesUploaded returns the staging object size.
func (s *Store) BytesUploaded(ctx context.Context, uploadID string) (int64, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(dataKey(uploadID)),
	})
	if isNotFoundError(err) {
		return 0, fmt.Errorf("%w: %s", object.ErrNotFound, uploadID)
	}
	if err != nil {
		return 0, fmt.Errorf("heading staging object: %w", err)
	}
	return aws.ToInt64(head.ContentLength), nil
}

// Exists reports whether the staging object exists.
func (s *Store) Exists(ctx context.Context, uploadID string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(dataKey(uploadID)),
	})
	if isNotFoundError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the staging object; missing objects are ignored.
func (s *Store) Delete(ctx context.Context, uploadID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(dataKey(uploadID)),
	})
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("deleting staging object: %w", err)
	}
	return nil
}

// Promote server-side copies the staging object to the durable key and
// removes the staging copy.
func (s *Store) Promote(ctx context.Context, uploadID string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(durableKey(uploadID)),
		CopySource: aws.String(s.bucket + "/" + dataKey(uploadID)),
	})
	if isNotFoundError(err) {
		return fmt.Errorf("%w: %s", object.ErrNotFound, uploadID)
	}
	if err != nil {
		return fmt.Errorf("copying %s to durable area: %w", uploadID, err)
	}
	return s.Delete(ctx, uploadID)
}

// ListStaged enumerates the staging prefix, keyed by upload id.
func (s *Store) ListStaged(ctx context.Context) ([]object.StagedUpload, error) {
	byID := make(map[string]*object.StagedUpload)

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(stagingPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing staging area: %w", err)
		}

		for _, obj := range page.Contents {
			rest := strings.TrimPrefix(aws.ToString(obj.Key), stagingPrefix)
			id, _, ok := strings.Cut(rest, "/")
			if !ok || id == "" {
				continue
			}

			entry, found := byID[id]
			if !found {
				entry = &object.StagedUpload{UploadID: id}
				byID[id] = entry
			}
			if strings.HasSuffix(aws.ToString(obj.Key), dataSuffix) {
				entry.Size = aws.ToInt64(obj.Size)
			}
			if obj.LastModified != nil && obj.LastModified.After(entry.LastModified) {
				entry.LastModified = *obj.LastModified
			}
		}
	}

	staged := make([]object.StagedUpload, 0, len(byID))
	for _, entry := range byID {
		staged = append(staged, *entry)
	}
	return staged, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "404"
	}
	return false
}
