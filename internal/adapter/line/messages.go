package line

// Message is an outbound Messaging API message object.
type Message interface {
	messageType() string
}

// TextMessage is a plain text message.
type TextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewText builds a text message.
func NewText(text string) TextMessage {
	return TextMessage{Type: "text", Text: text}
}

func (TextMessage) messageType() string { return "text" }

// FlexMessage carries a flex container (bubble or carousel).
type FlexMessage struct {
	Type     string         `json:"type"`
	AltText  string         `json:"altText"`
	Contents map[string]any `json:"contents"`
}

// NewFlex builds a flex message around contents.
func NewFlex(altText string, contents map[string]any) FlexMessage {
	return FlexMessage{Type: "flex", AltText: altText, Contents: contents}
}

func (FlexMessage) messageType() string { return "flex" }
