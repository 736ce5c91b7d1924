package call

// Wire events for the media-stream protocol, one JSON object per message.

const (
	eventConnected = "connected"
	eventStart     = "start"
	eventMedia     = "media"
	eventStop      = "stop"
	eventMark      = "mark"
)

type mediaPayload struct {
	Payload string `json:"payload"`
}

type markPayload struct {
	Name string `json:"name,omitempty"`
}

// inboundEvent covers every inbound event shape; unused fields stay zero.
type inboundEvent struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	CallSID   string        `json:"callSid,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
}

// outboundMedia carries synthesized agent audio back to the caller.
type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}
