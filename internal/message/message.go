// Package message defines the JSON payloads exchanged over the task queue
// and the routing that steers them to the right consumer.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/voicestudio/conversion-service/internal/task"
)

// Exchange is the single direct exchange all task messages go through.
const Exchange = "conversion.tasks"

// QueueName returns the durable queue bound for a kind.
func QueueName(kind task.Kind) string {
	return "tasks." + string(kind)
}

// RoutingKey returns the routing key for a kind. The key equals the kind
// string; the binding is what makes it significant.
func RoutingKey(kind task.Kind) string {
	return string(kind)
}

// Meta is carried by every queue message.
type Meta struct {
	TaskID    string    `json:"taskId"`
	MemberID  string    `json:"memberId"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is any payload that can be dispatched through the queue.
type Message interface {
	Kind() task.Kind
	Meta() Meta
}

// TTSDetail is one text fragment to synthesize.
type TTSDetail struct {
	DetailID int64  `json:"detailId"`
	Text     string `json:"text"`
	VoiceID  string `json:"voiceId"`
}

// TTS requests speech synthesis for a project's details.
type TTS struct {
	Meta_     Meta        `json:"meta"`
	ProjectID string      `json:"projectId"`
	Details   []TTSDetail `json:"details"`
}

func (m TTS) Kind() task.Kind { return task.KindTTS }
func (m TTS) Meta() Meta      { return m.Meta_ }

// VCDetail is one source audio reference to convert.
type VCDetail struct {
	DetailID       int64  `json:"detailId"`
	SourceAudioURL string `json:"sourceAudioUrl"`
}

// VC requests voice conversion of source audio into a target voice.
type VC struct {
	Meta_         Meta       `json:"meta"`
	ProjectID     string     `json:"projectId"`
	TargetVoiceID string     `json:"targetVoiceId"`
	Details       []VCDetail `json:"details"`
}

func (m VC) Kind() task.Kind { return task.KindVC }
func (m VC) Meta() Meta      { return m.Meta_ }

// ConcatDetail is one ordered merge segment. AudioSequence defines render
// order and must be unique within a job; SilenceSeconds is appended after
// the segment and is never negative.
type ConcatDetail struct {
	DetailID       int64   `json:"detailId"`
	AudioSequence  int     `json:"audioSequence"`
	AudioURL       string  `json:"audioUrl"`
	SilenceSeconds float64 `json:"silenceSeconds"`
	Checked        bool    `json:"checked"`
}

// Concat requests merging a project's audio segments into one artifact.
type Concat struct {
	Meta_     Meta           `json:"meta"`
	ProjectID string         `json:"projectId"`
	Details   []ConcatDetail `json:"details"`
}

func (m Concat) Kind() task.Kind { return task.KindConcat }
func (m Concat) Meta() Meta      { return m.Meta_ }

// Encode serializes a message for publishing.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Kind(), err)
	}
	return body, nil
}

// Decode parses a queue message body for the given kind.
func Decode(kind task.Kind, body []byte) (Message, error) {
	switch kind {
	case task.KindTTS:
		var m TTS
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("decode tts message: %w", err)
		}
		return m, nil
	case task.KindVC:
		var m VC
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("decode vc message: %w", err)
		}
		return m, nil
	case task.KindConcat:
		var m Concat
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("decode concat message: %w", err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("decode message: unknown kind %q", kind)
}
