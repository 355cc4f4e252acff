package merge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicestudio/conversion-service/internal/storage"
)

// makeClip returns a WAV of the given duration with a non-zero fill so
// content and silence are distinguishable.
func makeClip(f Format, seconds float64, fill byte) []byte {
	frames := int(seconds * float64(f.SampleRate))
	pcm := make([]byte, frames*f.blockAlign())
	for i := range pcm {
		pcm[i] = fill
	}
	return encodeWAV(f, pcm)
}

func newTestEngine(t *testing.T) (*Engine, *storage.Local) {
	t.Helper()
	blob, err := storage.NewLocal(t.TempDir(), "https://cdn.test")
	require.NoError(t, err)
	return NewEngine(blob, nil, zerolog.Nop()), blob
}

// tempMergeDirs lists audiomerge work dirs currently present.
func tempMergeDirs(t *testing.T) map[string]bool {
	t.Helper()
	entries, err := os.ReadDir(os.TempDir())
	require.NoError(t, err)
	dirs := make(map[string]bool)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "audiomerge-") {
			dirs[e.Name()] = true
		}
	}
	return dirs
}

func assertNoNewTempDirs(t *testing.T, before map[string]bool) {
	t.Helper()
	for name := range tempMergeDirs(t) {
		assert.True(t, before[name], "leftover merge work dir %s", name)
	}
}

func TestMergeDurationIsSumOfSegmentsAndSilence(t *testing.T) {
	engine, blob := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, blob.Put(ctx, "audio/source/a.wav", makeClip(testFormat, 2.0, 0x11), "audio/wav"))
	require.NoError(t, blob.Put(ctx, "audio/source/b.wav", makeClip(testFormat, 3.0, 0x22), "audio/wav"))

	segments := []Segment{
		{DetailID: 1, Sequence: 1, SourceRef: "audio/source/a.wav", SilenceSeconds: 0.5, Included: true},
		{DetailID: 2, Sequence: 2, SourceRef: "audio/source/b.wav", Included: true},
	}

	before := tempMergeDirs(t)
	url, err := engine.Merge(ctx, segments, "audio/merged/p/t.wav")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/audio/merged/p/t.wav", url)
	assertNoNewTempDirs(t, before)

	merged, err := blob.Get(ctx, "audio/merged/p/t.wav")
	require.NoError(t, err)
	f, pcm, err := decodeWAV(merged)
	require.NoError(t, err)
	assert.Equal(t, testFormat, f)
	assert.InDelta(t, 5.5, f.Duration(pcm), 1.0/float64(testFormat.SampleRate))
}

func TestMergeOrdersBySequenceNotInputOrder(t *testing.T) {
	engine, blob := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, blob.Put(ctx, "first.wav", makeClip(testFormat, 0.1, 0xAA), "audio/wav"))
	require.NoError(t, blob.Put(ctx, "second.wav", makeClip(testFormat, 0.1, 0xBB), "audio/wav"))

	// Out of order on purpose.
	segments := []Segment{
		{DetailID: 2, Sequence: 9, SourceRef: "second.wav", Included: true},
		{DetailID: 1, Sequence: 3, SourceRef: "first.wav", Included: true},
	}

	_, err := engine.Merge(ctx, segments, "out.wav")
	require.NoError(t, err)

	merged, err := blob.Get(ctx, "out.wav")
	require.NoError(t, err)
	_, pcm, err := decodeWAV(merged)
	require.NoError(t, err)

	// Sequence 3 renders before sequence 9.
	assert.Equal(t, byte(0xAA), pcm[0])
	assert.Equal(t, byte(0xBB), pcm[len(pcm)-1])
}

func TestMergeExcludesUncheckedSegments(t *testing.T) {
	engine, blob := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, blob.Put(ctx, "keep.wav", makeClip(testFormat, 1.0, 0x11), "audio/wav"))
	require.NoError(t, blob.Put(ctx, "skip.wav", makeClip(testFormat, 4.0, 0x22), "audio/wav"))

	segments := []Segment{
		{DetailID: 1, Sequence: 1, SourceRef: "keep.wav", Included: true},
		{DetailID: 2, Sequence: 2, SourceRef: "skip.wav", SilenceSeconds: 10, Included: false},
	}

	_, err := engine.Merge(ctx, segments, "out.wav")
	require.NoError(t, err)

	merged, err := blob.Get(ctx, "out.wav")
	require.NoError(t, err)
	f, pcm, err := decodeWAV(merged)
	require.NoError(t, err)
	// Excluded segments contribute neither content nor silence.
	assert.InDelta(t, 1.0, f.Duration(pcm), 1.0/float64(testFormat.SampleRate))
}

func TestMergeNoSegments(t *testing.T) {
	engine, blob := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Merge(ctx, []Segment{
		{DetailID: 1, Sequence: 1, SourceRef: "a.wav", Included: false},
	}, "out.wav")
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, FailureNoSegments, kind)

	// No artifact was created.
	exists, err := blob.Exists(ctx, "out.wav")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMergeDuplicateSequence(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Merge(context.Background(), []Segment{
		{DetailID: 1, Sequence: 5, SourceRef: "a.wav", Included: true},
		{DetailID: 2, Sequence: 5, SourceRef: "b.wav", Included: true},
	}, "out.wav")
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, FailureMerge, kind)
}

func TestMergeSourceFetchFailureCleansUp(t *testing.T) {
	engine, blob := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, blob.Put(ctx, "ok.wav", makeClip(testFormat, 1.0, 0x11), "audio/wav"))

	segments := []Segment{
		{DetailID: 1, Sequence: 1, SourceRef: "ok.wav", Included: true},
		{DetailID: 2, Sequence: 2, SourceRef: "missing.wav", Included: true},
	}

	before := tempMergeDirs(t)
	_, err := engine.Merge(ctx, segments, "out.wav")
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, FailureSourceFetch, kind)
	assertNoNewTempDirs(t, before)

	// No partial output uploaded.
	exists, err := blob.Exists(ctx, "out.wav")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMergeFormatMismatch(t *testing.T) {
	engine, blob := newTestEngine(t)
	ctx := context.Background()

	stereo := Format{Channels: 2, SampleRate: 44100, BitsPerSample: 16}
	require.NoError(t, blob.Put(ctx, "mono.wav", makeClip(testFormat, 0.5, 0x11), "audio/wav"))
	require.NoError(t, blob.Put(ctx, "stereo.wav", makeClip(stereo, 0.5, 0x22), "audio/wav"))

	before := tempMergeDirs(t)
	_, err := engine.Merge(ctx, []Segment{
		{DetailID: 1, Sequence: 1, SourceRef: "mono.wav", Included: true},
		{DetailID: 2, Sequence: 2, SourceRef: "stereo.wav", Included: true},
	}, "out.wav")
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, FailureMerge, kind)
	assertNoNewTempDirs(t, before)
}

func TestMergeFetchesRemoteSources(t *testing.T) {
	clip := makeClip(testFormat, 1.5, 0x33)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/a.wav" {
			w.Header().Set("Content-Type", "audio/wav")
			w.Write(clip)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	engine, blob := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Merge(ctx, []Segment{
		{DetailID: 1, Sequence: 1, SourceRef: srv.URL + "/a.wav", Included: true},
	}, "out.wav")
	require.NoError(t, err)

	merged, err := blob.Get(ctx, "out.wav")
	require.NoError(t, err)
	f, pcm, err := decodeWAV(merged)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, f.Duration(pcm), 1.0/float64(testFormat.SampleRate))

	// HTTP 404 surfaces as a source fetch failure.
	_, err = engine.Merge(ctx, []Segment{
		{DetailID: 2, Sequence: 1, SourceRef: srv.URL + "/nope.wav", Included: true},
	}, "out2.wav")
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, FailureSourceFetch, kind)
}
