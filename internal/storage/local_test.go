package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocal(t.TempDir(), "https://cdn.example.com/")
	require.NoError(t, err)

	key := MergedKey("proj-1", "task-1")
	content := []byte("RIFF....WAVE")

	require.NoError(t, s.Put(ctx, key, content, "audio/wav"))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete(ctx, key))

	exists, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.Get(ctx, key)
	assert.Error(t, err)
}

func TestLocalURL(t *testing.T) {
	s, err := NewLocal(t.TempDir(), "https://cdn.example.com")
	require.NoError(t, err)

	assert.Equal(t,
		"https://cdn.example.com/audio/merged/p/t.wav",
		s.URL("audio/merged/p/t.wav"))
}

func TestLocalKeyTraversal(t *testing.T) {
	base := t.TempDir()
	s, err := NewLocal(base, "https://cdn.example.com")
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "../../escape.wav", []byte("x"), "audio/wav"))

	// The written object must stay under the base path.
	exists, err := s.Exists(context.Background(), "../../escape.wav")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "audio/source/m1/p1/take.wav", SourceAudioKey("m1", "p1", "take.wav"))
	assert.Equal(t, "audio/tts/p1/t1/42.wav", SynthesizedKey("p1", "t1", 42))
	assert.Equal(t, "audio/merged/p1/t1.wav", MergedKey("p1", "t1"))

	assert.True(t, IsRemoteRef("https://cdn/a.wav"))
	assert.True(t, IsRemoteRef("http://cdn/a.wav"))
	assert.False(t, IsRemoteRef("audio/source/m/p/a.wav"))
}
