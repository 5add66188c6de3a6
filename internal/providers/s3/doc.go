// Package s3 stores guest readiness markers in S3 or an S3-compatible
// object store.
package s3
