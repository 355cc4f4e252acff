package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicestudio/conversion-service/internal/task"
)

func TestRouting(t *testing.T) {
	assert.Equal(t, "tasks.tts", QueueName(task.KindTTS))
	assert.Equal(t, "tasks.vc", QueueName(task.KindVC))
	assert.Equal(t, "tasks.concat", QueueName(task.KindConcat))

	// The routing key is the kind string itself.
	for _, k := range task.Kinds {
		assert.Equal(t, string(k), RoutingKey(k))
	}
}

func TestDecodeByKind(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	concat := Concat{
		Meta_:     Meta{TaskID: "t-1", MemberID: "m-1", Timestamp: ts},
		ProjectID: "p-1",
		Details: []ConcatDetail{
			{DetailID: 10, AudioSequence: 1, AudioURL: "https://cdn/a.wav", SilenceSeconds: 0.5, Checked: true},
			{DetailID: 11, AudioSequence: 2, AudioURL: "https://cdn/b.wav", Checked: true},
		},
	}
	body, err := Encode(concat)
	require.NoError(t, err)

	decoded, err := Decode(task.KindConcat, body)
	require.NoError(t, err)
	assert.Equal(t, task.KindConcat, decoded.Kind())
	assert.Equal(t, "t-1", decoded.Meta().TaskID)
	assert.Equal(t, "m-1", decoded.Meta().MemberID)

	got, ok := decoded.(Concat)
	require.True(t, ok)
	assert.Len(t, got.Details, 2)
	assert.Equal(t, 0.5, got.Details[0].SilenceSeconds)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode(task.Kind("transcode"), []byte(`{}`))
	require.Error(t, err)
}

func TestDecodeMalformedBody(t *testing.T) {
	_, err := Decode(task.KindTTS, []byte(`{"meta":`))
	require.Error(t, err)
}
