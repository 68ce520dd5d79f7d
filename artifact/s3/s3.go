// Package s3 implements core.ArtifactStore on Amazon S3 or any S3 compatible
// object store (MinIO, R2, ...).
//
// Each artifact is one object at "<prefix>/<sessionID>/<artifactID>". The
// current version number travels in the object's user metadata.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/hupe1980/agenttree/artifact"
	"github.com/hupe1980/agenttree/core"
)

const versionMetadataKey = "agenttree-version"

// Client abstracts the S3 API operations used by Store.
// The *s3.Client type satisfies this interface.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Options configures a Store.
type Options struct {
	// Prefix is prepended to all object keys. Empty means no prefix.
	Prefix string
}

// Store is a core.ArtifactStore backed by an S3 bucket. The caller configures
// the client (credentials, region, endpoint).
type Store struct {
	client Client
	bucket string
	prefix string
}

var _ core.ArtifactStore = (*Store)(nil)

// New creates an S3-backed artifact store.
func New(client Client, bucket string, optFns ...func(o *Options)) *Store {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{client: client, bucket: bucket, prefix: strings.TrimSuffix(opts.Prefix, "/")}
}

func (s *Store) sessionPrefix(sessionID string) string {
	if s.prefix == "" {
		return sessionID + "/"
	}
	return s.prefix + "/" + sessionID + "/"
}

func (s *Store) key(sessionID, artifactID string) string {
	return s.sessionPrefix(sessionID) + artifactID
}

// Save uploads a new version of the artifact and returns its number.
//
// Versions are derived from the current object's metadata, so concurrent
// writers to the same artifact may produce the same number.
func (s *Store) Save(ctx context.Context, sessionID, artifactID string, data []byte) (int, error) {
	current, err := s.version(ctx, sessionID, artifactID)
	if err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return 0, err
	}
	next := current + 1

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(sessionID, artifactID)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      map[string]string{versionMetadataKey: strconv.Itoa(next)},
	})
	if err != nil {
		return 0, fmt.Errorf("s3: put %s: %w", artifactID, err)
	}
	return next, nil
}

// Get downloads the latest artifact bytes.
func (s *Store) Get(ctx context.Context, sessionID, artifactID string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(sessionID, artifactID)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3: get %s: %w", artifactID, artifact.ErrNotFound)
		}
		return nil, fmt.Errorf("s3: get %s: %w", artifactID, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// List returns the sorted artifact ids stored for the session.
func (s *Store) List(ctx context.Context, sessionID string) ([]string, error) {
	prefix := s.sessionPrefix(sessionID)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	ids := []string{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list %s: %w", sessionID, err)
		}
		for _, obj := range page.Contents {
			ids = append(ids, strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the artifact or returns artifact.ErrNotFound.
func (s *Store) Delete(ctx context.Context, sessionID, artifactID string) error {
	if _, err := s.version(ctx, sessionID, artifactID); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(sessionID, artifactID)),
	})
	if err != nil {
		return fmt.Errorf("s3: delete %s: %w", artifactID, err)
	}
	return nil
}

func (s *Store) version(ctx context.Context, sessionID, artifactID string) (int, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(sessionID, artifactID)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("s3: head %s: %w", artifactID, artifact.ErrNotFound)
		}
		return 0, fmt.Errorf("s3: head %s: %w", artifactID, err)
	}
	v, err := strconv.Atoi(out.Metadata[versionMetadataKey])
	if err != nil {
		// Objects written by other tools count as version 1.
		return 1, nil
	}
	return v, nil
}

// isNotFound reports whether err indicates the object does not exist.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
