// Package producer accepts conversion job submissions, persists them, and
// hands them to the queue.
package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/voicestudio/conversion-service/internal/broker"
	"github.com/voicestudio/conversion-service/internal/message"
	"github.com/voicestudio/conversion-service/internal/task"
)

var (
	// ErrInvalidRequest marks client errors found before anything was
	// persisted or published.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrQueueUnavailable marks submissions persisted but not published.
	// The task row stays NEW and the stuck-task sweeper republishes it.
	ErrQueueUnavailable = errors.New("task queue unavailable")
)

var (
	tasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasks_submitted_total",
		Help: "Tasks accepted and published, by kind",
	}, []string{"kind"})

	submitFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasks_submit_failures_total",
		Help: "Failed submissions, by stage",
	}, []string{"stage"})
)

// TaskCreator is the slice of the task store the producer needs.
type TaskCreator interface {
	Create(ctx context.Context, in task.CreateInput) (task.Task, error)
}

// Producer validates submissions, writes the task row, and publishes the
// queue message. The row is written first so a publish failure leaves a
// NEW task behind for the sweeper instead of a message with no record.
type Producer struct {
	store  TaskCreator
	pub    broker.Publisher
	logger zerolog.Logger

	now   func() time.Time
	newID func() string
}

func New(store TaskCreator, pub broker.Publisher, logger zerolog.Logger) *Producer {
	return &Producer{
		store:  store,
		pub:    pub,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// TTSRequest submits a speech-synthesis job.
type TTSRequest struct {
	MemberID  string
	ProjectID string
	Details   []message.TTSDetail
}

// VCRequest submits a voice-conversion job.
type VCRequest struct {
	MemberID      string
	ProjectID     string
	TargetVoiceID string
	Details       []message.VCDetail
}

// ConcatRequest submits an audio-merge job.
type ConcatRequest struct {
	MemberID  string
	ProjectID string
	Details   []message.ConcatDetail
}

// SubmitTTS validates, persists, and enqueues a synthesis job.
func (p *Producer) SubmitTTS(ctx context.Context, req TTSRequest) (task.Task, error) {
	if err := validateCommon(req.MemberID, req.ProjectID, len(req.Details)); err != nil {
		return task.Task{}, err
	}
	for i, d := range req.Details {
		if d.Text == "" {
			return task.Task{}, fmt.Errorf("%w: detail %d has empty text", ErrInvalidRequest, i)
		}
		if d.VoiceID == "" {
			return task.Task{}, fmt.Errorf("%w: detail %d has no voice id", ErrInvalidRequest, i)
		}
	}

	msg := message.TTS{
		Meta_:     p.meta(req.MemberID),
		ProjectID: req.ProjectID,
		Details:   req.Details,
	}
	return p.submit(ctx, req.ProjectID, msg)
}

// SubmitVC validates, persists, and enqueues a voice-conversion job.
func (p *Producer) SubmitVC(ctx context.Context, req VCRequest) (task.Task, error) {
	if err := validateCommon(req.MemberID, req.ProjectID, len(req.Details)); err != nil {
		return task.Task{}, err
	}
	if req.TargetVoiceID == "" {
		return task.Task{}, fmt.Errorf("%w: target voice id is required", ErrInvalidRequest)
	}
	for i, d := range req.Details {
		if d.SourceAudioURL == "" {
			return task.Task{}, fmt.Errorf("%w: detail %d has no source audio url", ErrInvalidRequest, i)
		}
	}

	msg := message.VC{
		Meta_:         p.meta(req.MemberID),
		ProjectID:     req.ProjectID,
		TargetVoiceID: req.TargetVoiceID,
		Details:       req.Details,
	}
	return p.submit(ctx, req.ProjectID, msg)
}

// SubmitConcat validates, persists, and enqueues a merge job. Validation
// covers only what would make the message itself unusable; whether the
// referenced audio exists is the worker's problem.
func (p *Producer) SubmitConcat(ctx context.Context, req ConcatRequest) (task.Task, error) {
	if err := validateCommon(req.MemberID, req.ProjectID, len(req.Details)); err != nil {
		return task.Task{}, err
	}
	seen := make(map[int]struct{}, len(req.Details))
	for i, d := range req.Details {
		if d.SilenceSeconds < 0 {
			return task.Task{}, fmt.Errorf("%w: detail %d has negative silence duration", ErrInvalidRequest, i)
		}
		if !d.Checked {
			continue
		}
		if d.AudioURL == "" {
			return task.Task{}, fmt.Errorf("%w: detail %d is included but has no audio url", ErrInvalidRequest, i)
		}
		if _, dup := seen[d.AudioSequence]; dup {
			return task.Task{}, fmt.Errorf("%w: duplicate audio sequence %d", ErrInvalidRequest, d.AudioSequence)
		}
		seen[d.AudioSequence] = struct{}{}
	}

	msg := message.Concat{
		Meta_:     p.meta(req.MemberID),
		ProjectID: req.ProjectID,
		Details:   req.Details,
	}
	return p.submit(ctx, req.ProjectID, msg)
}

func (p *Producer) meta(memberID string) message.Meta {
	return message.Meta{
		TaskID:    p.newID(),
		MemberID:  memberID,
		Timestamp: p.now().UTC(),
	}
}

// submit stores the task row with the exact message body, then publishes
// that body. The stored payload is what the sweeper republishes, so the two
// must be byte-identical.
func (p *Producer) submit(ctx context.Context, projectID string, msg message.Message) (task.Task, error) {
	body, err := message.Encode(msg)
	if err != nil {
		submitFailures.WithLabelValues("encode").Inc()
		return task.Task{}, err
	}

	meta := msg.Meta()
	t, err := p.store.Create(ctx, task.CreateInput{
		ID:        meta.TaskID,
		ProjectID: projectID,
		Kind:      msg.Kind(),
		Payload:   body,
	})
	if err != nil {
		submitFailures.WithLabelValues("store").Inc()
		return task.Task{}, fmt.Errorf("persist task: %w", err)
	}

	if err := p.pub.Publish(ctx, msg.Kind(), body); err != nil {
		submitFailures.WithLabelValues("publish").Inc()
		p.logger.Error().Err(err).
			Str("task_id", t.ID).
			Str("kind", string(msg.Kind())).
			Msg("Task stored but publish failed, leaving NEW for sweeper")
		return t, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	tasksSubmitted.WithLabelValues(string(msg.Kind())).Inc()
	p.logger.Info().
		Str("task_id", t.ID).
		Str("project_id", projectID).
		Str("kind", string(msg.Kind())).
		Msg("Task submitted")
	return t, nil
}

func validateCommon(memberID, projectID string, details int) error {
	if memberID == "" {
		return fmt.Errorf("%w: member id is required", ErrInvalidRequest)
	}
	if projectID == "" {
		return fmt.Errorf("%w: project id is required", ErrInvalidRequest)
	}
	if details == 0 {
		return fmt.Errorf("%w: at least one detail is required", ErrInvalidRequest)
	}
	return nil
}
