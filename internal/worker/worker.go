// Package worker consumes queued conversion tasks, drives them through the
// status state machine, and pushes outcome events to clients.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/voicestudio/conversion-service/internal/adapter"
	"github.com/voicestudio/conversion-service/internal/broker"
	"github.com/voicestudio/conversion-service/internal/merge"
	"github.com/voicestudio/conversion-service/internal/message"
	"github.com/voicestudio/conversion-service/internal/notify"
	"github.com/voicestudio/conversion-service/internal/storage"
	"github.com/voicestudio/conversion-service/internal/task"
)

var (
	tasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasks_processed_total",
		Help: "Consumed task messages, by kind and outcome",
	}, []string{"kind", "outcome"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "task_duration_seconds",
		Help:    "Wall time spent executing a task",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"kind"})
)

// TaskStore is the slice of the task store the worker needs.
type TaskStore interface {
	Get(ctx context.Context, id string) (task.Task, error)
	Transition(ctx context.Context, in task.TransitionInput) error
}

// Notifier delivers outcome events toward the submitting client.
type Notifier interface {
	Notify(ctx context.Context, clientID string, ev notify.Event) error
}

// Merger renders an ordered set of segments into one artifact.
type Merger interface {
	Merge(ctx context.Context, segments []merge.Segment, outputKey string) (string, error)
}

// Worker runs one consumer loop per task kind. All loops share the same
// dependencies; per-message state lives on the stack.
type Worker struct {
	store    TaskStore
	consumer broker.Consumer
	notifier Notifier
	tts      adapter.Synthesizer
	vc       adapter.VoiceConverter
	merger   Merger
	blob     storage.Blob
	logger   zerolog.Logger
}

type Config struct {
	Store    TaskStore
	Consumer broker.Consumer
	Notifier Notifier
	TTS      adapter.Synthesizer
	VC       adapter.VoiceConverter
	Merger   Merger
	Blob     storage.Blob
	Logger   zerolog.Logger
}

func New(cfg Config) *Worker {
	return &Worker{
		store:    cfg.Store,
		consumer: cfg.Consumer,
		notifier: cfg.Notifier,
		tts:      cfg.TTS,
		vc:       cfg.VC,
		merger:   cfg.Merger,
		blob:     cfg.Blob,
		logger:   cfg.Logger,
	}
}

// Run consumes every task kind until the context is cancelled or a consumer
// channel fails. Message handling errors never stop the loops; they are
// settled per delivery with ack/nack.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, kind := range task.Kinds {
		kind := kind
		g.Go(func() error {
			deliveries, err := w.consumer.Consume(ctx, kind)
			if err != nil {
				return fmt.Errorf("consume %s: %w", kind, err)
			}
			w.logger.Info().Str("kind", string(kind)).Msg("Worker consuming")
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case d, ok := <-deliveries:
					if !ok {
						return fmt.Errorf("consume %s: delivery channel closed", kind)
					}
					w.handle(ctx, d)
				}
			}
		})
	}
	return g.Wait()
}

// handle settles exactly one delivery. Undecodable bodies are dead-lettered;
// everything else is acked, because requeueing a message whose task row is
// already advanced would only replay a no-op.
func (w *Worker) handle(ctx context.Context, d broker.Delivery) {
	msg, err := message.Decode(d.Kind, d.Body)
	if err != nil {
		w.logger.Error().Err(err).Str("kind", string(d.Kind)).Msg("Undecodable task message, dropping")
		tasksProcessed.WithLabelValues(string(d.Kind), "poison").Inc()
		w.nack(d, false)
		return
	}

	meta := msg.Meta()
	log := w.logger.With().
		Str("task_id", meta.TaskID).
		Str("member_id", meta.MemberID).
		Str("kind", string(d.Kind)).
		Logger()

	t, err := w.store.Get(ctx, meta.TaskID)
	if errors.Is(err, task.ErrNotFound) {
		log.Warn().Msg("Message references unknown task, dropping")
		tasksProcessed.WithLabelValues(string(d.Kind), "orphan").Inc()
		w.ack(d)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Task lookup failed, requeueing")
		w.nack(d, true)
		return
	}

	// Redelivery after the task already finished is a no-op.
	if t.Status.Terminal() {
		log.Info().Str("status", string(t.Status)).Msg("Task already settled, dropping duplicate")
		tasksProcessed.WithLabelValues(string(d.Kind), "duplicate").Inc()
		w.ack(d)
		return
	}

	err = w.store.Transition(ctx, task.TransitionInput{
		ID:      t.ID,
		From:    task.StatusNew,
		To:      task.StatusRunnable,
		Message: "picked up by worker",
	})
	if errors.Is(err, task.ErrStatusConflict) {
		log.Info().Str("status", string(t.Status)).Msg("Task claimed elsewhere, dropping")
		tasksProcessed.WithLabelValues(string(d.Kind), "conflict").Inc()
		w.ack(d)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Claim transition failed, requeueing")
		w.nack(d, true)
		return
	}

	start := time.Now()
	resultURLs, execErr := w.execute(ctx, msg)
	taskDuration.WithLabelValues(string(d.Kind)).Observe(time.Since(start).Seconds())

	if execErr != nil {
		log.Error().Err(execErr).Msg("Task failed")
		w.settle(ctx, log, t.ID, meta.MemberID, string(d.Kind), task.StatusFailed, execErr.Error(), nil)
		tasksProcessed.WithLabelValues(string(d.Kind), "failed").Inc()
	} else {
		log.Info().Int("results", len(resultURLs)).Msg("Task completed")
		w.settle(ctx, log, t.ID, meta.MemberID, string(d.Kind), task.StatusCompleted, "", resultURLs)
		tasksProcessed.WithLabelValues(string(d.Kind), "completed").Inc()
	}
	w.ack(d)
}

// settle records the terminal status and pushes the outcome event. A failed
// status write is logged but does not fail the delivery: the row is still
// RUNNABLE and an operator can requeue it.
func (w *Worker) settle(ctx context.Context, log zerolog.Logger, taskID, memberID, kind string, to task.Status, failure string, resultURLs []string) {
	in := task.TransitionInput{
		ID:      taskID,
		From:    task.StatusRunnable,
		To:      to,
		Message: failure,
	}
	if len(resultURLs) > 0 {
		if encoded, err := json.Marshal(resultURLs); err == nil {
			s := string(encoded)
			in.ResultMessage = &s
		}
	}
	if failure != "" {
		in.ResultMessage = &failure
	}

	if err := w.store.Transition(ctx, in); err != nil {
		log.Error().Err(err).Str("to", string(to)).Msg("Terminal transition failed")
	}

	ev := notify.Event{
		TaskID:     taskID,
		Kind:       kind,
		Status:     string(to),
		Message:    failure,
		ResultURLs: resultURLs,
	}
	if err := w.notifier.Notify(ctx, memberID, ev); err != nil {
		log.Warn().Err(err).Msg("Outcome notification failed")
	}
}

func (w *Worker) execute(ctx context.Context, msg message.Message) ([]string, error) {
	switch m := msg.(type) {
	case message.TTS:
		return w.executeTTS(ctx, m)
	case message.VC:
		return w.executeVC(ctx, m)
	case message.Concat:
		return w.executeConcat(ctx, m)
	}
	return nil, fmt.Errorf("no handler for %s message", msg.Kind())
}

// executeTTS synthesizes every detail and stores each rendering under a
// deterministic key, so a re-run overwrites instead of accumulating.
func (w *Worker) executeTTS(ctx context.Context, m message.TTS) ([]string, error) {
	urls := make([]string, 0, len(m.Details))
	for _, d := range m.Details {
		audio, err := w.tts.SynthesizeSpeech(ctx, d.Text, adapter.VoiceParams{VoiceID: d.VoiceID})
		if err != nil {
			return nil, fmt.Errorf("synthesize detail %d: %w", d.DetailID, err)
		}
		key := storage.SynthesizedKey(m.ProjectID, m.Meta_.TaskID, d.DetailID)
		if err := w.blob.Put(ctx, key, audio, "audio/wav"); err != nil {
			return nil, fmt.Errorf("store synthesized detail %d: %w", d.DetailID, err)
		}
		urls = append(urls, w.blob.URL(key))
	}
	return urls, nil
}

func (w *Worker) executeVC(ctx context.Context, m message.VC) ([]string, error) {
	urls := make([]string, 0, len(m.Details))
	for _, d := range m.Details {
		converted, err := w.vc.ConvertVoice(ctx, d.SourceAudioURL, m.TargetVoiceID)
		if err != nil {
			return nil, fmt.Errorf("convert detail %d: %w", d.DetailID, err)
		}
		urls = append(urls, converted)
	}
	return urls, nil
}

func (w *Worker) executeConcat(ctx context.Context, m message.Concat) ([]string, error) {
	segments := make([]merge.Segment, 0, len(m.Details))
	for _, d := range m.Details {
		segments = append(segments, merge.Segment{
			DetailID:       d.DetailID,
			Sequence:       d.AudioSequence,
			SourceRef:      d.AudioURL,
			SilenceSeconds: d.SilenceSeconds,
			Included:       d.Checked,
		})
	}
	url, err := w.merger.Merge(ctx, segments, storage.MergedKey(m.ProjectID, m.Meta_.TaskID))
	if err != nil {
		return nil, fmt.Errorf("merge project %s: %w", m.ProjectID, err)
	}
	return []string{url}, nil
}

func (w *Worker) ack(d broker.Delivery) {
	if err := d.Ack(); err != nil {
		w.logger.Warn().Err(err).Str("kind", string(d.Kind)).Msg("Ack failed")
	}
}

func (w *Worker) nack(d broker.Delivery, requeue bool) {
	if err := d.Nack(requeue); err != nil {
		w.logger.Warn().Err(err).Str("kind", string(d.Kind)).Msg("Nack failed")
	}
}
