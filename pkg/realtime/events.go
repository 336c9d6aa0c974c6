package realtime

import (
	"encoding/json"
	"fmt"
)

// Inbound event types.
const (
	EventSessionCreated        = "session.created"
	EventSessionUpdated        = "session.updated"
	EventAudioDelta            = "response.audio.delta"
	EventAudioTranscriptDelta  = "response.audio_transcript.delta"
	EventAudioDone             = "response.audio.done"
	EventResponseDone          = "response.done"
	EventFunctionArgumentsDone = "response.function_call_arguments.done"
	EventSpeechStarted         = "input_audio_buffer.speech_started"
	EventSpeechStopped         = "input_audio_buffer.speech_stopped"
	EventInputCommitted        = "input_audio_buffer.committed"
	EventInputTranscription    = "conversation.item.input_audio_transcription.completed"
	EventError                 = "error"
)

// Tool is a function descriptor advertised in the session.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Transcription selects the model used to transcribe user audio.
type Transcription struct {
	Model string `json:"model"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// SessionConfig is the body of a session.update event.
type SessionConfig struct {
	Modalities              []string       `json:"modalities,omitempty"`
	Instructions            string         `json:"instructions,omitempty"`
	Voice                   string         `json:"voice,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string         `json:"output_audio_format,omitempty"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
	Tools                   []Tool         `json:"tools,omitempty"`
	ToolChoice              string         `json:"tool_choice,omitempty"`
	Temperature             float64        `json:"temperature,omitempty"`

	// ManualTurns sends "turn_detection": null when TurnDetection is nil.
	// Omitting the field leaves the service default, which is server VAD.
	ManualTurns bool `json:"-"`
}

func (s SessionConfig) MarshalJSON() ([]byte, error) {
	type plain SessionConfig
	if !s.ManualTurns || s.TurnDetection != nil {
		return json.Marshal(plain(s))
	}
	return json.Marshal(struct {
		plain
		TurnDetection *TurnDetection `json:"turn_detection"`
	}{plain: plain(s)})
}

// OutboundEvent is any client event. The client adds "type" and
// "event_id" when it is sent.
type OutboundEvent interface {
	EventType() string
}

// SessionUpdate configures the session.
type SessionUpdate struct {
	Session SessionConfig `json:"session"`
}

func (SessionUpdate) EventType() string { return "session.update" }

// InputAudioBufferAppend carries one base64 audio chunk.
type InputAudioBufferAppend struct {
	Audio string `json:"audio"`
}

func (InputAudioBufferAppend) EventType() string { return "input_audio_buffer.append" }

// InputAudioBufferCommit marks the end of the user's utterance.
type InputAudioBufferCommit struct{}

func (InputAudioBufferCommit) EventType() string { return "input_audio_buffer.commit" }

// InputAudioBufferClear discards uncommitted input audio.
type InputAudioBufferClear struct{}

func (InputAudioBufferClear) EventType() string { return "input_audio_buffer.clear" }

// ResponseCreate asks the service to generate a reply.
type ResponseCreate struct{}

func (ResponseCreate) EventType() string { return "response.create" }

// ResponseCancel interrupts the reply in progress.
type ResponseCancel struct{}

func (ResponseCancel) EventType() string { return "response.cancel" }

// ConversationItem is a conversation item. Only function call outputs
// are sent by this client.
type ConversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// ConversationItemCreate adds an item to the conversation.
type ConversationItemCreate struct {
	Item ConversationItem `json:"item"`
}

func (ConversationItemCreate) EventType() string { return "conversation.item.create" }

// marshalEvent encodes ev with its type and id first.
func marshalEvent(ev OutboundEvent, eventID string) ([]byte, error) {
	head, err := json.Marshal(struct {
		EventID string `json:"event_id,omitempty"`
		Type    string `json:"type"`
	}{eventID, ev.EventType()})
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("realtime: marshal %s: %w", ev.EventType(), err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("realtime: %s does not encode as an object", ev.EventType())
	}
	if string(body) == "{}" {
		return head, nil
	}

	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head[:len(head)-1]...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}

// SessionInfo is the session object echoed by session.created and
// session.updated.
type SessionInfo struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Voice string `json:"voice"`
}

// ResponseInfo is the response object carried by response.done.
type ResponseInfo struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Event is a decoded server event. Which fields are set depends on Type.
type Event struct {
	Type       string        `json:"type"`
	EventID    string        `json:"event_id,omitempty"`
	Session    *SessionInfo  `json:"session,omitempty"`
	Response   *ResponseInfo `json:"response,omitempty"`
	ResponseID string        `json:"response_id,omitempty"`
	ItemID     string        `json:"item_id,omitempty"`

	// Delta carries base64 audio for response.audio.delta and text for
	// response.audio_transcript.delta.
	Delta string `json:"delta,omitempty"`

	// Transcript is the finished transcript of a user turn.
	Transcript string `json:"transcript,omitempty"`

	// Function call fields of response.function_call_arguments.done.
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	Error *APIError `json:"error,omitempty"`
}

// Decode parses one inbound message. A message that is not a JSON object
// or has no type is ErrMalformedEvent.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	if ev.Type == EventError && ev.Error == nil {
		ev.Error = &APIError{Message: "error event without details"}
	}
	return ev, nil
}

// Samples decodes the audio of a response.audio.delta event.
func (e Event) Samples() ([]int16, error) {
	return DecodeSamples(e.Delta)
}
