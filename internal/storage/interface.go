package storage

import (
	"context"
	"fmt"
	"strings"
)

// Blob is the object store holding source and rendered audio.
// Implementations can be local filesystem, S3, GCS, etc.
type Blob interface {
	// Put stores content at the given key.
	Put(ctx context.Context, key string, content []byte, contentType string) error

	// Get retrieves content from the given key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists checks if an object exists at the given key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object at the given key.
	Delete(ctx context.Context, key string) error

	// URL returns the fetchable URL for a stored key.
	URL(key string) string
}

// Type represents the storage backend in use.
type Type string

const (
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
)

// SourceAudioKey builds the key for an uploaded source clip.
func SourceAudioKey(memberID, projectID, filename string) string {
	return fmt.Sprintf("audio/source/%s/%s/%s", memberID, projectID, filename)
}

// SynthesizedKey builds the key for one synthesized speech clip.
func SynthesizedKey(projectID, taskID string, detailID int64) string {
	return fmt.Sprintf("audio/tts/%s/%s/%d.wav", projectID, taskID, detailID)
}

// MergedKey builds the key for a concat job's output artifact.
func MergedKey(projectID, taskID string) string {
	return fmt.Sprintf("audio/merged/%s/%s.wav", projectID, taskID)
}

// IsRemoteRef reports whether an audio reference is an absolute URL rather
// than a blob key.
func IsRemoteRef(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}
