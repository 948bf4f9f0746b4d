// Package event models LINE Messaging webhook events as a closed set of
// typed variants parsed once at the gateway boundary.
package event

import (
	"encoding/json"
	"time"
)

// Type is the variant tag of an Event.
type Type string

const (
	TypeMessage      Type = "message"
	TypeFollow       Type = "follow"
	TypeUnfollow     Type = "unfollow"
	TypePostback     Type = "postback"
	TypeJoin         Type = "join"
	TypeLeave        Type = "leave"
	TypeMemberJoined Type = "memberJoined"
	TypeMemberLeft   Type = "memberLeft"
	TypeUnknown      Type = "unknown"
)

// Source identifies who triggered the event.
type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// Target returns the id a push message should be addressed to.
func (s Source) Target() string {
	switch {
	case s.GroupID != "":
		return s.GroupID
	case s.RoomID != "":
		return s.RoomID
	default:
		return s.UserID
	}
}

// Header holds the fields shared by every event.
type Header struct {
	Type           string
	Mode           string
	Source         Source
	Timestamp      time.Time
	ReplyToken     string
	WebhookEventID string
	Redelivery     bool
}

// Event is implemented by every variant in this package.
type Event interface {
	Kind() Type
	Meta() *Header
}

func (h *Header) Meta() *Header { return h }

type MessageEvent struct {
	Header
	Message Message
}

type FollowEvent struct{ Header }

type UnfollowEvent struct{ Header }

type PostbackEvent struct {
	Header
	Data   string
	Params map[string]string
}

type JoinEvent struct{ Header }

type LeaveEvent struct{ Header }

type MemberJoinedEvent struct {
	Header
	Members []Source
}

type MemberLeftEvent struct {
	Header
	Members []Source
}

// UnknownEvent carries an event whose type is not modelled or whose payload
// could not be decoded.
type UnknownEvent struct {
	Header
	Raw json.RawMessage
}

func (*MessageEvent) Kind() Type      { return TypeMessage }
func (*FollowEvent) Kind() Type       { return TypeFollow }
func (*UnfollowEvent) Kind() Type     { return TypeUnfollow }
func (*PostbackEvent) Kind() Type     { return TypePostback }
func (*JoinEvent) Kind() Type         { return TypeJoin }
func (*LeaveEvent) Kind() Type        { return TypeLeave }
func (*MemberJoinedEvent) Kind() Type { return TypeMemberJoined }
func (*MemberLeftEvent) Kind() Type   { return TypeMemberLeft }
func (*UnknownEvent) Kind() Type      { return TypeUnknown }

// MessageType is the content type of a message event.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageAudio    MessageType = "audio"
	MessageFile     MessageType = "file"
	MessageLocation MessageType = "location"
	MessageSticker  MessageType = "sticker"
	MessageUnknown  MessageType = "unknown"
)

// Message is implemented by every message content variant.
type Message interface {
	Kind() MessageType
	MessageID() string
}

type TextMessage struct {
	ID         string
	Text       string
	QuoteToken string
}

type ImageMessage struct {
	ID       string
	Provider string
}

type VideoMessage struct {
	ID       string
	Duration time.Duration
	Provider string
}

type AudioMessage struct {
	ID       string
	Duration time.Duration
	Provider string
}

type FileMessage struct {
	ID       string
	FileName string
	FileSize int64
}

type LocationMessage struct {
	ID        string
	Title     string
	Address   string
	Latitude  float64
	Longitude float64
}

type StickerMessage struct {
	ID           string
	PackageID    string
	StickerID    string
	ResourceType string
	Keywords     []string
}

type UnknownMessage struct {
	ID   string
	Type string
	Raw  json.RawMessage
}

func (*TextMessage) Kind() MessageType     { return MessageText }
func (*ImageMessage) Kind() MessageType    { return MessageImage }
func (*VideoMessage) Kind() MessageType    { return MessageVideo }
func (*AudioMessage) Kind() MessageType    { return MessageAudio }
func (*FileMessage) Kind() MessageType     { return MessageFile }
func (*LocationMessage) Kind() MessageType { return MessageLocation }
func (*StickerMessage) Kind() MessageType  { return MessageSticker }
func (*UnknownMessage) Kind() MessageType  { return MessageUnknown }

func (m *TextMessage) MessageID() string     { return m.ID }
func (m *ImageMessage) MessageID() string    { return m.ID }
func (m *VideoMessage) MessageID() string    { return m.ID }
func (m *AudioMessage) MessageID() string    { return m.ID }
func (m *FileMessage) MessageID() string     { return m.ID }
func (m *LocationMessage) MessageID() string { return m.ID }
func (m *StickerMessage) MessageID() string  { return m.ID }
func (m *UnknownMessage) MessageID() string  { return m.ID }
