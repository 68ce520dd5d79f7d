package core

import "context"

// ArtifactStore defines the interface for artifact persistence. Artifacts are
// scoped by session. Save returns the version number written, starting at 1.
type ArtifactStore interface {
	Save(ctx context.Context, sessionID, artifactID string, data []byte) (int, error)
	Get(ctx context.Context, sessionID, artifactID string) ([]byte, error)
	List(ctx context.Context, sessionID string) ([]string, error)
	Delete(ctx context.Context, sessionID, artifactID string) error
}
