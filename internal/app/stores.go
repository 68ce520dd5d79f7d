package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hupe1980/agenttree/artifact"
	"github.com/hupe1980/agenttree/artifact/s3"
	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/internal/config"
	"github.com/hupe1980/agenttree/logging"
	"github.com/hupe1980/agenttree/session"
	"github.com/hupe1980/agenttree/session/badger"
	"github.com/hupe1980/agenttree/session/postgres"
	"github.com/hupe1980/agenttree/session/sqlite"
)

func noClose(context.Context) error { return nil }

// OpenSessionStore opens the configured session backend. The returned func
// closes it.
func OpenSessionStore(ctx context.Context, cfg config.SessionConfig, logger logging.Logger) (core.SessionStore, func(context.Context) error, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return session.NewInMemoryStore(), noClose, nil

	case config.BackendSQLite:
		store, err := sqlite.New(ctx, cfg.Path, func(o *sqlite.Options) { o.Logger = logger })
		if err != nil {
			return nil, nil, err
		}
		return store, func(context.Context) error { return store.Close() }, nil

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: connect: %w", err)
		}
		store := postgres.New(pool, func(o *postgres.Options) {
			o.Logger = logger
			if cfg.TablePrefix != "" {
				o.TablePrefix = cfg.TablePrefix
			}
		})
		if err := store.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, func(context.Context) error { pool.Close(); return nil }, nil

	case config.BackendBadger:
		store, err := badger.New(func(o *badger.Options) {
			o.Dir = cfg.Dir
			o.Logger = logger
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func(context.Context) error { return store.Close() }, nil

	default:
		return nil, nil, core.NewConfigError("session", "unknown backend %q", cfg.Backend)
	}
}

// OpenArtifactStore opens the configured artifact backend.
func OpenArtifactStore(cfg config.ArtifactConfig) (core.ArtifactStore, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return artifact.NewInMemoryStore(), nil
	case config.BackendS3:
		return s3.New(newS3Client(cfg), cfg.Bucket, func(o *s3.Options) { o.Prefix = cfg.Prefix }), nil
	default:
		return nil, core.NewConfigError("artifact", "unknown backend %q", cfg.Backend)
	}
}

// newS3Client builds a client from cfg and the standard AWS_* credential
// variables. A custom endpoint switches to path-style addressing, which
// S3-compatible servers such as MinIO expect.
func newS3Client(cfg config.ArtifactConfig) *awss3.Client {
	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	creds := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		c := aws.Credentials{
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			Source:          "agenttree-env",
		}
		if !c.HasKeys() {
			return aws.Credentials{}, errors.New("s3: AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
		}
		return c, nil
	})

	return awss3.New(awss3.Options{
		Region:      region,
		Credentials: aws.NewCredentialsCache(creds),
	}, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
}
