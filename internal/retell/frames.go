package retell

import (
	"encoding/json"
	"fmt"
)

// Outbound is a frame the runtime can write to the platform.
type Outbound interface {
	// ResponseType returns the wire discriminator.
	ResponseType() string
}

// Outbound response_type discriminators.
const (
	ResponseTypeConfig             = "config"
	ResponseTypeUpdateAgent        = "update_agent"
	ResponseTypePingPong           = "ping_pong"
	ResponseTypeResponse           = "response"
	ResponseTypeAgentInterrupt     = "agent_interrupt"
	ResponseTypeToolCallInvocation = "tool_call_invocation"
	ResponseTypeToolCallResult     = "tool_call_result"
	ResponseTypeMetadata           = "metadata"
)

// ConnectionOptions is the payload of the config frame.
type ConnectionOptions struct {
	AutoReconnect           bool `json:"auto_reconnect"`
	CallDetails             bool `json:"call_details"`
	TranscriptWithToolCalls bool `json:"transcript_with_tool_calls"`
}

// ConfigFrame announces session options right after connect.
type ConfigFrame struct {
	Options ConnectionOptions `json:"config"`
}

func (*ConfigFrame) ResponseType() string { return ResponseTypeConfig }

// AgentOptions tunes platform-side turn taking. Nil fields are left at the
// platform default.
type AgentOptions struct {
	Responsiveness          *float64 `json:"responsiveness,omitempty"`
	InterruptionSensitivity *float64 `json:"interruption_sensitivity,omitempty"`
	ReminderTriggerMS       *int64   `json:"reminder_trigger_ms,omitempty"`
	ReminderMaxCount        *int64   `json:"reminder_max_count,omitempty"`
}

// UpdateAgentFrame pushes AgentOptions mid-session.
type UpdateAgentFrame struct {
	AgentConfig AgentOptions `json:"agent_config"`
}

func (*UpdateAgentFrame) ResponseType() string { return ResponseTypeUpdateAgent }

// PingPongFrame echoes a keepalive.
type PingPongFrame struct {
	Timestamp int64 `json:"timestamp"`
}

func (*PingPongFrame) ResponseType() string { return ResponseTypePingPong }

// ResponseFrame is one speech chunk for a turn. ContentComplete marks the
// terminal chunk of the response id.
type ResponseFrame struct {
	ResponseID            int64   `json:"response_id"`
	Content               string  `json:"content"`
	ContentComplete       bool    `json:"content_complete"`
	NoInterruptionAllowed *bool   `json:"no_interruption_allowed,omitempty"`
	EndCall               *bool   `json:"end_call,omitempty"`
	TransferNumber        *string `json:"transfer_number,omitempty"`
	DigitToPress          *string `json:"digit_to_press,omitempty"`
}

func (*ResponseFrame) ResponseType() string { return ResponseTypeResponse }

// AgentInterruptFrame lets the agent speak outside a turn. Reserved: the
// runtime models it but never emits it unprompted.
type AgentInterruptFrame struct {
	InterruptID           int64   `json:"interrupt_id"`
	Content               string  `json:"content"`
	ContentComplete       bool    `json:"content_complete"`
	NoInterruptionAllowed *bool   `json:"no_interruption_allowed,omitempty"`
	EndCall               *bool   `json:"end_call,omitempty"`
	TransferNumber        *string `json:"transfer_number,omitempty"`
	DigitToPress          *string `json:"digit_to_press,omitempty"`
}

func (*AgentInterruptFrame) ResponseType() string { return ResponseTypeAgentInterrupt }

// ToolCallInvocationFrame announces a tool call. Arguments is canonical
// JSON.
type ToolCallInvocationFrame struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
}

func (*ToolCallInvocationFrame) ResponseType() string { return ResponseTypeToolCallInvocation }

// ToolCallResultFrame reports a tool call's outcome.
type ToolCallResultFrame struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
}

func (*ToolCallResultFrame) ResponseType() string { return ResponseTypeToolCallResult }

// MetadataFrame carries opaque metadata to the platform.
type MetadataFrame struct {
	Metadata any `json:"metadata"`
}

func (*MetadataFrame) ResponseType() string { return ResponseTypeMetadata }

var (
	_ Outbound = (*ConfigFrame)(nil)
	_ Outbound = (*UpdateAgentFrame)(nil)
	_ Outbound = (*PingPongFrame)(nil)
	_ Outbound = (*ResponseFrame)(nil)
	_ Outbound = (*AgentInterruptFrame)(nil)
	_ Outbound = (*ToolCallInvocationFrame)(nil)
	_ Outbound = (*ToolCallResultFrame)(nil)
	_ Outbound = (*MetadataFrame)(nil)
)

// EncodeOutbound serializes a frame in canonical wire form, injecting the
// response_type discriminator.
func EncodeOutbound(o Outbound) ([]byte, error) {
	raw, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("retell: encode %s: %w", o.ResponseType(), err)
	}
	node, err := decodeCanonical(raw)
	if err != nil {
		return nil, fmt.Errorf("retell: encode %s: %w", o.ResponseType(), err)
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("retell: encode %s: frame is not an object", o.ResponseType())
	}
	obj["response_type"] = o.ResponseType()
	return appendCanonical(nil, obj)
}

// ParseOutbound decodes a wire frame back into its typed form. Used by the
// loopback tests and trace tooling, not by the runtime hot path.
func ParseOutbound(data []byte) (Outbound, error) {
	var probe struct {
		ResponseType string `json:"response_type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("retell: parse outbound: %w", err)
	}
	var o Outbound
	switch probe.ResponseType {
	case ResponseTypeConfig:
		o = &ConfigFrame{}
	case ResponseTypeUpdateAgent:
		o = &UpdateAgentFrame{}
	case ResponseTypePingPong:
		o = &PingPongFrame{}
	case ResponseTypeResponse:
		o = &ResponseFrame{}
	case ResponseTypeAgentInterrupt:
		o = &AgentInterruptFrame{}
	case ResponseTypeToolCallInvocation:
		o = &ToolCallInvocationFrame{}
	case ResponseTypeToolCallResult:
		o = &ToolCallResultFrame{}
	case ResponseTypeMetadata:
		o = &MetadataFrame{}
	default:
		return nil, fmt.Errorf("retell: parse outbound: unknown response_type %q", probe.ResponseType)
	}
	if err := json.Unmarshal(data, o); err != nil {
		return nil, fmt.Errorf("retell: parse outbound %s: %w", probe.ResponseType, err)
	}
	return o, nil
}

// Bool returns a pointer to v, for optional frame fields.
func Bool(v bool) *bool { return &v }

// String returns a pointer to v, for optional frame fields.
func String(v string) *string { return &v }

// Float returns a pointer to v, for optional frame fields.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for optional frame fields.
func Int(v int64) *int64 { return &v }
