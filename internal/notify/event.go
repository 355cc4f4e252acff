package notify

// EventName is the SSE event name used for every push to a client.
const EventName = "taskUpdate"

// Statuses carried by push events. Task outcomes reuse the task status
// vocabulary; CONNECTED is sent once when a channel is established.
const (
	StatusConnected = "CONNECTED"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Event is one status/result push to a client.
type Event struct {
	TaskID     string   `json:"taskId,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	Status     string   `json:"status"`
	Message    string   `json:"message,omitempty"`
	ResultURLs []string `json:"resultUrls,omitempty"`
}

func connectedEvent() Event {
	return Event{Status: StatusConnected, Message: "notification channel established"}
}
