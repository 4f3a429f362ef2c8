package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store is the production BlobStore backend, grounded on the source's
// internal/storage/s3.go client construction but without its
// encryption-at-rest scheme (out of spec scope; see DESIGN.md).
type S3Store struct {
	client *s3.Client
	bucket string
}

func NewS3Store(ctx context.Context, bucket string) (*S3Store, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("blobstore: load aws config: %w", err)
	}
	return &S3Store{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (st *S3Store) Put(ctx context.Context, hash string, data []byte, ext string) (string, error) {
	key := pathFor(hash, ext)
	_, err := st.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &st.bucket, Key: &key})
	if err == nil {
		return key, nil // content-addressed write is idempotent
	}
	_, err = st.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &st.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: s3 put %s: %w", key, err)
	}
	return key, nil
}

func (st *S3Store) Get(ctx context.Context, ref string) ([]byte, error) {
	out, err := st.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &st.bucket, Key: &ref})
	if err != nil {
		return nil, fmt.Errorf("blobstore: s3 get %s: %w", ref, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (st *S3Store) Delete(ctx context.Context, ref string) error {
	_, err := st.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &st.bucket, Key: &ref})
	var noKey *types.NoSuchKey
	if err != nil && !errors.As(err, &noKey) {
		return fmt.Errorf("blobstore: s3 delete %s: %w", ref, err)
	}
	return nil
}
