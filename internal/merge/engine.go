// Package merge renders a concat job: ordered audio segments joined with
// per-segment trailing silence into one uploaded artifact.
package merge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/voicestudio/conversion-service/internal/storage"
)

var (
	mergeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "merge_duration_seconds",
		Help:    "Time taken to render a concat job",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	mergeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merge_failures_total",
		Help: "Total merge failures by failure kind",
	}, []string{"kind"})

	mergeSegments = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "merge_segments_count",
		Help:    "Number of included segments per merge job",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
	})
)

// Segment is one candidate entry of a merge job. Only included segments are
// rendered; Sequence defines their order and must be unique.
type Segment struct {
	DetailID       int64
	Sequence       int
	SourceRef      string
	SilenceSeconds float64
	Included       bool
}

// Engine downloads segment sources, synthesizes inter-segment silence,
// concatenates everything in sequence order and uploads the result. All
// intermediate files live in one scoped temp directory removed before Merge
// returns, success or not.
type Engine struct {
	blob   storage.Blob
	client *http.Client
	logger zerolog.Logger
}

func NewEngine(blob storage.Blob, client *http.Client, logger zerolog.Logger) *Engine {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Engine{blob: blob, client: client, logger: logger}
}

// Merge renders the job and returns the URL of the uploaded artifact.
// Failures carry a FailureKind; no partial output is ever uploaded.
func (e *Engine) Merge(ctx context.Context, segments []Segment, outputKey string) (string, error) {
	start := time.Now()
	url, err := e.merge(ctx, segments, outputKey)
	if err != nil {
		if kind, ok := KindOf(err); ok {
			mergeFailures.WithLabelValues(string(kind)).Inc()
		}
		return "", err
	}
	mergeDuration.Observe(time.Since(start).Seconds())
	return url, nil
}

func (e *Engine) merge(ctx context.Context, segments []Segment, outputKey string) (string, error) {
	included := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if s.Included {
			included = append(included, s)
		}
	}
	if len(included) == 0 {
		return "", failuref(FailureNoSegments, "no segments selected for merge")
	}
	mergeSegments.Observe(float64(len(included)))

	sort.Slice(included, func(i, j int) bool {
		return included[i].Sequence < included[j].Sequence
	})
	for i := 1; i < len(included); i++ {
		if included[i].Sequence == included[i-1].Sequence {
			return "", failuref(FailureMerge, "duplicate audio sequence %d (details %d and %d)",
				included[i].Sequence, included[i-1].DetailID, included[i].DetailID)
		}
	}

	workDir, err := os.MkdirTemp("", "audiomerge-*")
	if err != nil {
		return "", failure(FailureMerge, err)
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			e.logger.Warn().Err(rmErr).Str("dir", workDir).Msg("Failed to remove merge work dir")
		}
	}()

	clips, err := e.prepareClips(ctx, workDir, included)
	if err != nil {
		return "", err
	}

	outPath := filepath.Join(workDir, "merged.wav")
	if err := concatClips(clips, outPath); err != nil {
		return "", err
	}

	merged, err := os.ReadFile(outPath)
	if err != nil {
		return "", failure(FailureMerge, err)
	}
	if err := e.blob.Put(ctx, outputKey, merged, "audio/wav"); err != nil {
		return "", failure(FailureUpload, err)
	}

	e.logger.Info().
		Str("output_key", outputKey).
		Int("segments", len(included)).
		Int("bytes", len(merged)).
		Msg("Merged audio uploaded")
	return e.blob.URL(outputKey), nil
}

// prepareClips fetches every source into the work dir and synthesizes the
// trailing silence clips, returning file paths in render order.
func (e *Engine) prepareClips(ctx context.Context, workDir string, included []Segment) ([]string, error) {
	clips := make([]string, 0, len(included)*2)

	for i, seg := range included {
		data, err := e.fetchSource(ctx, seg.SourceRef)
		if err != nil {
			return nil, failuref(FailureSourceFetch, "segment %d (detail %d): %w", seg.Sequence, seg.DetailID, err)
		}

		srcPath := filepath.Join(workDir, fmt.Sprintf("segment_%03d.wav", i))
		if err := os.WriteFile(srcPath, data, 0o600); err != nil {
			return nil, failure(FailureSourceFetch, err)
		}
		clips = append(clips, srcPath)

		if seg.SilenceSeconds > 0 {
			format, _, err := decodeWAV(data)
			if err != nil {
				return nil, failuref(FailureSilence, "segment %d (detail %d): %w", seg.Sequence, seg.DetailID, err)
			}
			clip, err := silenceWAV(format, seg.SilenceSeconds)
			if err != nil {
				return nil, failuref(FailureSilence, "segment %d (detail %d): %w", seg.Sequence, seg.DetailID, err)
			}
			silPath := filepath.Join(workDir, fmt.Sprintf("silence_%03d.wav", i))
			if err := os.WriteFile(silPath, clip, 0o600); err != nil {
				return nil, failure(FailureSilence, err)
			}
			clips = append(clips, silPath)
		}
	}
	return clips, nil
}

// concatClips joins format-consistent WAV files into one output file.
func concatClips(clips []string, outPath string) error {
	var format Format
	var pcm []byte

	for i, path := range clips {
		data, err := os.ReadFile(path)
		if err != nil {
			return failure(FailureMerge, err)
		}
		f, samples, err := decodeWAV(data)
		if err != nil {
			return failuref(FailureMerge, "%s: %w", filepath.Base(path), err)
		}
		if i == 0 {
			format = f
		} else if f != format {
			return failuref(FailureMerge, "format mismatch: %s has %+v, expected %+v", filepath.Base(path), f, format)
		}
		pcm = append(pcm, samples...)
	}

	if err := os.WriteFile(outPath, encodeWAV(format, pcm), 0o600); err != nil {
		return failure(FailureMerge, err)
	}
	return nil
}

// fetchSource resolves an audio reference: absolute URLs over HTTP, anything
// else as a blob store key.
func (e *Engine) fetchSource(ctx context.Context, ref string) ([]byte, error) {
	if !storage.IsRemoteRef(ref) {
		return e.blob.Get(ctx, ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", ref, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
