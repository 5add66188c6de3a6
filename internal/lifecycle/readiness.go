package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainguard-dev/clog"
	"github.com/kballard/go-shellquote"
)

// Readiness is the out-of-band signal a guest uses to report that its
// startup script finished. The guest PUTs an object keyed by its identity to
// a presigned URL; the object's existence is the signal.
type Readiness struct {
	store  ObjectStore
	bucket string

	mu      sync.Mutex
	ensured bool
}

// NewReadiness returns a readiness channel stored in bucket. The bucket is
// created on first use if it does not exist.
func NewReadiness(store ObjectStore, bucket string) *Readiness {
	return &Readiness{store: store, bucket: bucket}
}

// Bucket returns the bucket holding the readiness markers.
func (r *Readiness) Bucket() string {
	return r.bucket
}

func (r *Readiness) ensureBucket(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ensured {
		return nil
	}

	exists, err := r.store.BucketExists(ctx, r.bucket)
	if err != nil {
		return fmt.Errorf("checking readiness bucket %s: %w", r.bucket, err)
	}
	if !exists {
		clog.FromContext(ctx).Info("creating readiness bucket", "bucket", r.bucket)
		if err := r.store.CreateBucket(ctx, r.bucket); err != nil {
			return fmt.Errorf("creating readiness bucket %s: %w", r.bucket, err)
		}
	}
	r.ensured = true
	return nil
}

// Exists reports whether the guest has written its readiness marker.
func (r *Readiness) Exists(ctx context.Context, id Identity) (bool, error) {
	if err := r.ensureBucket(ctx); err != nil {
		return false, err
	}
	return r.store.ObjectExists(ctx, r.bucket, id.ObjectKey())
}

// Clear deletes the readiness marker. Clearing a marker that was never
// written is not an error.
func (r *Readiness) Clear(ctx context.Context, id Identity) error {
	if err := r.ensureBucket(ctx); err != nil {
		return err
	}
	return r.store.DeleteObject(ctx, r.bucket, id.ObjectKey())
}

// PresignedPutURL returns a URL the guest can PUT its marker to without
// holding credentials.
func (r *Readiness) PresignedPutURL(ctx context.Context, id Identity) (string, error) {
	if err := r.ensureBucket(ctx); err != nil {
		return "", err
	}
	return r.store.PresignedPutURL(ctx, r.bucket, id.ObjectKey())
}

// NotifyScript returns the shell snippet appended to the startup script that
// writes the readiness marker once everything before it has run.
func NotifyScript(url string) string {
	return "# signal readiness\n" + shellquote.Join(
		"curl", "--silent", "--show-error", "--fail", "--retry", "5",
		"-X", "PUT", "--data-binary", "ready", url,
	) + "\n"
}
