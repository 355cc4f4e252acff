// Package handlers holds the HTTP endpoints of the conversion service.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/voicestudio/conversion-service/internal/message"
	"github.com/voicestudio/conversion-service/internal/producer"
	"github.com/voicestudio/conversion-service/internal/task"
)

// Submitter accepts validated job submissions.
type Submitter interface {
	SubmitTTS(ctx context.Context, req producer.TTSRequest) (task.Task, error)
	SubmitVC(ctx context.Context, req producer.VCRequest) (task.Task, error)
	SubmitConcat(ctx context.Context, req producer.ConcatRequest) (task.Task, error)
}

// TaskReader reads task rows and their transition trail.
type TaskReader interface {
	Get(ctx context.Context, id string) (task.Task, error)
	History(ctx context.Context, taskID string) ([]task.History, error)
}

// TaskHandlers serves submission and status endpoints.
type TaskHandlers struct {
	producer Submitter
	store    TaskReader
	logger   zerolog.Logger
}

func NewTaskHandlers(p Submitter, store TaskReader, logger zerolog.Logger) *TaskHandlers {
	return &TaskHandlers{producer: p, store: store, logger: logger}
}

// SubmitTaskRequest represents a job submission
type SubmitTaskRequest struct {
	Type          string              `json:"type" binding:"required" jsonschema:"required,enum=tts,enum=vc,enum=concat"`
	MemberID      string              `json:"memberId" binding:"required" jsonschema:"required"`
	ProjectID     string              `json:"projectId" binding:"required" jsonschema:"required"`
	TargetVoiceID string              `json:"targetVoiceId"`
	Details       []SubmitTaskDetail  `json:"details" binding:"required" jsonschema:"required"`
}

// SubmitTaskDetail is one submission detail. Which fields matter depends on
// the task type; unknown ones are ignored.
type SubmitTaskDetail struct {
	DetailID       int64   `json:"detailId" jsonschema:"required"`
	Text           string  `json:"text"`
	VoiceID        string  `json:"voiceId"`
	SourceAudioURL string  `json:"sourceAudioUrl"`
	AudioSequence  int     `json:"audioSequence"`
	AudioURL       string  `json:"audioUrl"`
	SilenceSeconds float64 `json:"silenceSeconds"`
	Checked        bool    `json:"checked"`
}

// SubmitTaskResponse represents an accepted submission
type SubmitTaskResponse struct {
	TaskID string `json:"taskId" jsonschema:"required"`
	Status string `json:"status" jsonschema:"required"`
}

// SubmitTask accepts a conversion job and queues it for processing
func (h *TaskHandlers) SubmitTask(c *gin.Context) {
	var req SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind, err := task.ParseKind(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	var created task.Task
	switch kind {
	case task.KindTTS:
		details := make([]message.TTSDetail, 0, len(req.Details))
		for _, d := range req.Details {
			details = append(details, message.TTSDetail{DetailID: d.DetailID, Text: d.Text, VoiceID: d.VoiceID})
		}
		created, err = h.producer.SubmitTTS(ctx, producer.TTSRequest{
			MemberID:  req.MemberID,
			ProjectID: req.ProjectID,
			Details:   details,
		})
	case task.KindVC:
		details := make([]message.VCDetail, 0, len(req.Details))
		for _, d := range req.Details {
			details = append(details, message.VCDetail{DetailID: d.DetailID, SourceAudioURL: d.SourceAudioURL})
		}
		created, err = h.producer.SubmitVC(ctx, producer.VCRequest{
			MemberID:      req.MemberID,
			ProjectID:     req.ProjectID,
			TargetVoiceID: req.TargetVoiceID,
			Details:       details,
		})
	case task.KindConcat:
		details := make([]message.ConcatDetail, 0, len(req.Details))
		for _, d := range req.Details {
			details = append(details, message.ConcatDetail{
				DetailID:       d.DetailID,
				AudioSequence:  d.AudioSequence,
				AudioURL:       d.AudioURL,
				SilenceSeconds: d.SilenceSeconds,
				Checked:        d.Checked,
			})
		}
		created, err = h.producer.SubmitConcat(ctx, producer.ConcatRequest{
			MemberID:  req.MemberID,
			ProjectID: req.ProjectID,
			Details:   details,
		})
	}

	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, SubmitTaskResponse{TaskID: created.ID, Status: string(created.Status)})
	case errors.Is(err, producer.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, producer.ErrQueueUnavailable):
		// The task row exists and the sweeper will publish it; tell the
		// client it was accepted anyway.
		h.logger.Warn().Err(err).Str("task_id", created.ID).Msg("Accepted task pending republish")
		c.JSON(http.StatusAccepted, SubmitTaskResponse{TaskID: created.ID, Status: string(created.Status)})
	default:
		h.logger.Error().Err(err).Msg("Task submission failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit task"})
	}
}

// TaskResponse represents a task row
type TaskResponse struct {
	ID            string    `json:"id" jsonschema:"required"`
	ProjectID     string    `json:"projectId" jsonschema:"required"`
	Kind          string    `json:"kind" jsonschema:"required"`
	Status        string    `json:"status" jsonschema:"required"`
	TrackingID    *string   `json:"trackingId"`
	ResultMessage *string   `json:"resultMessage"`
	CreatedAt     time.Time `json:"createdAt" jsonschema:"required"`
	UpdatedAt     time.Time `json:"updatedAt" jsonschema:"required"`
}

// GetTask returns a task by id
func (h *TaskHandlers) GetTask(c *gin.Context) {
	t, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, task.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("task_id", c.Param("id")).Msg("Task lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task"})
		return
	}

	c.JSON(http.StatusOK, TaskResponse{
		ID:            t.ID,
		ProjectID:     t.ProjectID,
		Kind:          string(t.Kind),
		Status:        string(t.Status),
		TrackingID:    t.TrackingID,
		ResultMessage: t.ResultMessage,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	})
}

// TaskHistoryEntry represents one status transition
type TaskHistoryEntry struct {
	OldStatus string    `json:"oldStatus" jsonschema:"required"`
	NewStatus string    `json:"newStatus" jsonschema:"required"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt" jsonschema:"required"`
}

// TaskHistoryResponse represents the transition trail, oldest first
type TaskHistoryResponse struct {
	TaskID  string             `json:"taskId" jsonschema:"required"`
	History []TaskHistoryEntry `json:"history" jsonschema:"required"`
}

// GetTaskHistory returns the transition trail for a task
func (h *TaskHandlers) GetTaskHistory(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.store.Get(c.Request.Context(), id); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		h.logger.Error().Err(err).Str("task_id", id).Msg("Task lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task"})
		return
	}

	records, err := h.store.History(c.Request.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("task_id", id).Msg("Task history lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task history"})
		return
	}

	entries := make([]TaskHistoryEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, TaskHistoryEntry{
			OldStatus: string(r.OldStatus),
			NewStatus: string(r.NewStatus),
			Message:   r.Message,
			CreatedAt: r.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, TaskHistoryResponse{TaskID: id, History: entries})
}
