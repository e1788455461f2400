// Package protocol defines the JSON frames exchanged between a Parley client
// and the relay over the persistent WebSocket connection.
//
// Every frame carries a "type" field that determines which of the remaining
// fields are meaningful.
package protocol

// Frame is the single wire format for all messages in both directions.
//
// Client → relay: {type:"msg", to, text} and {type:"typing", to}.
// Relay → client: {type:"msg", from, to, text}, {type:"typing", from} and
// {type:"error", code, to, message}.
type Frame struct {
	Type    string `json:"type"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Text    string `json:"text,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Frame type constants.
const (
	TypeChat   = "msg"
	TypeTyping = "typing"
	TypeError  = "error"
)

// Error codes carried in TypeError frames.
const (
	CodeUnknownRecipient = "unknown_recipient"
)

// ChatFrame builds an outbound chat frame as delivered to the recipient.
func ChatFrame(from, to, text string) Frame {
	return Frame{Type: TypeChat, From: from, To: to, Text: text}
}

// TypingFrame builds an outbound typing notice as delivered to the recipient.
func TypingFrame(from string) Frame {
	return Frame{Type: TypeTyping, From: from}
}

// UnknownRecipientFrame builds the error frame sent back to a sender whose
// chat message addressed an identity that was never registered.
func UnknownRecipientFrame(to string) Frame {
	return Frame{
		Type:    TypeError,
		Code:    CodeUnknownRecipient,
		To:      to,
		Message: "recipient is not a registered identity",
	}
}
