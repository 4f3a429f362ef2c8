// Package blobstore implements byte storage addressed by content hash
// (spec.md §2 BlobStore), with a local-disk backend for development and an
// S3 backend for production, selected by BLOB_BACKEND. Grounded on the
// source's internal/storage/s3.go layout convention, simplified: the
// source's PBKDF2/AES encryption-at-rest scheme is dropped (see DESIGN.md)
// since content-addressed storage has no encryption requirement in scope.
package blobstore

import "context"

// BlobStore is the capability interface the Controller and PipelineEngine
// depend on.
type BlobStore interface {
	// Put stores bytes under the given content hash and returns an opaque
	// blob reference. Idempotent: storing the same hash twice is a no-op.
	Put(ctx context.Context, hash string, data []byte, ext string) (ref string, err error)
	// Get retrieves bytes by blob reference.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Delete removes the blob. Missing blobs are not an error.
	Delete(ctx context.Context, ref string) error
}

// pathFor implements the `{hash_prefix}/{hash}.ext` layout from spec.md §6.
func pathFor(hash, ext string) string {
	if len(hash) < 2 {
		return hash + "." + ext
	}
	return hash[:2] + "/" + hash + "." + ext
}
