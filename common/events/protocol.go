package events

// Frame types on the real-time channel that are not events
const (
	FrameJoin  = "join:project"
	FrameLeave = "leave:project"

	FrameJoined = "joined"
	FrameLeft   = "left"
	FrameError  = "error"
)

// ClientFrame is a message from client to server
type ClientFrame struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
}

// Ack answers a ClientFrame
type Ack struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId,omitempty"`
	Error     string `json:"error,omitempty"`
}
