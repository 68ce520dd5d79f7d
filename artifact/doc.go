// Package artifact contains core.ArtifactStore implementations.
//
// Artifacts are binary blobs scoped by session. Every Save bumps the
// artifact's version, starting at 1, and Get returns the latest version.
// InMemoryStore lives here; the s3 sub-package stores artifacts in an S3
// compatible bucket.
package artifact
