// Package retell speaks the wire dialect of the telephony platform's
// custom-LLM websocket.
//
// Inbound frames carry an interaction_type discriminator, outbound frames a
// response_type discriminator. Parsing is strict about shape (missing
// required fields are schema violations) and lenient about extras, so
// platform-side schema drift never tears a session down. All outbound
// serialization goes through the canonical encoder: keys sorted, compact
// separators, nil optionals omitted. The same canonical form feeds every
// content hash in the runtime, which is what makes replay digests stable.
package retell

import (
	"encoding/json"
	"errors"
	"fmt"
)

// InteractionType discriminates inbound frames.
type InteractionType string

const (
	InteractionPingPong         InteractionType = "ping_pong"
	InteractionCallDetails      InteractionType = "call_details"
	InteractionUpdateOnly       InteractionType = "update_only"
	InteractionResponseRequired InteractionType = "response_required"
	InteractionReminderRequired InteractionType = "reminder_required"
	InteractionClear            InteractionType = "clear"
)

// Utterance is one transcript line.
type Utterance struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transcript roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Turn-taking hints on update_only frames.
const (
	TurnAgent = "agent_turn"
	TurnUser  = "user_turn"
)

// Inbound is a parsed platform frame.
type Inbound struct {
	Type       InteractionType
	Timestamp  int64          // ping_pong
	Call       map[string]any // call_details
	Transcript []Utterance    // update_only, response_required, reminder_required
	Turntaking string         // update_only, optional
	ResponseID int64          // response_required, reminder_required

	// ToolCallTranscript is the transcript_with_tool_calls payload, kept
	// opaque: the runtime only consumes the plain transcript.
	ToolCallTranscript json.RawMessage
}

// ErrBadJSON marks frames that are not valid JSON at all. The session is
// torn down on these.
var ErrBadJSON = errors.New("retell: malformed json frame")

// ErrSchema marks valid JSON that does not satisfy the frame schema. These
// are dropped and counted, never fatal.
var ErrSchema = errors.New("retell: schema violation")

// ParseInbound decodes one inbound wire frame.
func ParseInbound(data []byte) (*Inbound, error) {
	var env struct {
		InteractionType         string          `json:"interaction_type"`
		Timestamp               *int64          `json:"timestamp"`
		Call                    json.RawMessage `json:"call"`
		Transcript              json.RawMessage `json:"transcript"`
		TranscriptWithToolCalls json.RawMessage `json:"transcript_with_tool_calls"`
		Turntaking              *string         `json:"turntaking"`
		ResponseID              *int64          `json:"response_id"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	in := &Inbound{
		Type:               InteractionType(env.InteractionType),
		ToolCallTranscript: env.TranscriptWithToolCalls,
	}
	switch in.Type {
	case InteractionPingPong:
		if env.Timestamp == nil {
			return nil, fmt.Errorf("%w: ping_pong missing timestamp", ErrSchema)
		}
		in.Timestamp = *env.Timestamp

	case InteractionCallDetails:
		if len(env.Call) == 0 {
			return nil, fmt.Errorf("%w: call_details missing call", ErrSchema)
		}
		if err := json.Unmarshal(env.Call, &in.Call); err != nil {
			return nil, fmt.Errorf("%w: call_details call: %v", ErrSchema, err)
		}

	case InteractionUpdateOnly:
		ts, err := parseTranscript(env.Transcript)
		if err != nil {
			return nil, err
		}
		in.Transcript = ts
		if env.Turntaking != nil {
			if *env.Turntaking != TurnAgent && *env.Turntaking != TurnUser {
				return nil, fmt.Errorf("%w: bad turntaking %q", ErrSchema, *env.Turntaking)
			}
			in.Turntaking = *env.Turntaking
		}

	case InteractionResponseRequired, InteractionReminderRequired:
		if env.ResponseID == nil {
			return nil, fmt.Errorf("%w: %s missing response_id", ErrSchema, in.Type)
		}
		in.ResponseID = *env.ResponseID
		ts, err := parseTranscript(env.Transcript)
		if err != nil {
			return nil, err
		}
		in.Transcript = ts

	case InteractionClear:
		// No payload.

	default:
		return nil, fmt.Errorf("%w: unknown interaction_type %q", ErrSchema, env.InteractionType)
	}
	return in, nil
}

func parseTranscript(raw json.RawMessage) ([]Utterance, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: missing transcript", ErrSchema)
	}
	var ts []Utterance
	if err := json.Unmarshal(raw, &ts); err != nil {
		return nil, fmt.Errorf("%w: transcript: %v", ErrSchema, err)
	}
	for i, u := range ts {
		if u.Role != RoleUser && u.Role != RoleAgent {
			return nil, fmt.Errorf("%w: transcript[%d] bad role %q", ErrSchema, i, u.Role)
		}
	}
	return ts, nil
}

// LastUserText returns the content of the final user utterance, or "".
func LastUserText(transcript []Utterance) string {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == RoleUser {
			return transcript[i].Content
		}
	}
	return ""
}

// LastAgentText returns the content of the final agent utterance, or "".
func LastAgentText(transcript []Utterance) string {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == RoleAgent {
			return transcript[i].Content
		}
	}
	return ""
}
