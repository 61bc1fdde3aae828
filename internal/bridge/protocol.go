package bridge

// The worker speaks a line-oriented JSON protocol on stdin/stdout: one
// request object per line in, one response object per line out. Exactly one
// request is ever outstanding, so responses correlate to requests by FIFO
// order alone. That implicit correlation is an invariant: the dispatch loop
// must never pipeline a second request before the first resolves.

// Turn is a single prior conversation exchange sent to the worker as
// context. Non-empty history changes the correct answer, so such requests
// bypass the response cache entirely.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// wireRequest is the serialized form of one request line.
type wireRequest struct {
	Query               string `json:"query"`
	UserID              string `json:"userId"`
	ConversationHistory []Turn `json:"conversationHistory,omitempty"`
}

// wireError is the error payload of a failed worker response.
type wireError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// wireResponse is the deserialized form of one response line. The worker
// emits a distinguished readiness message ({"success":true,"message":"Ready"})
// exactly once after startup, before any request is dispatched.
type wireResponse struct {
	Success  bool       `json:"success"`
	Answer   string     `json:"answer,omitempty"`
	Contexts []string   `json:"contexts,omitempty"`
	Message  string     `json:"message,omitempty"`
	Error    *wireError `json:"error,omitempty"`
}

// readyMessage is the payload of the readiness handshake.
const readyMessage = "Ready"

func (r *wireResponse) isReady() bool {
	return r.Success && r.Message == readyMessage
}
