package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidJSON is returned when the webhook body is not a JSON object.
var ErrInvalidJSON = errors.New("event: invalid json")

// Batch is a decoded webhook delivery.
type Batch struct {
	Destination string
	Events      []Event
}

// ParseBatch decodes a webhook body. Individual events that cannot be decoded
// become UnknownEvent values instead of failing the batch.
func ParseBatch(body []byte) (*Batch, error) {
	var raw struct {
		Destination string            `json:"destination"`
		Events      []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	batch := &Batch{Destination: raw.Destination, Events: make([]Event, 0, len(raw.Events))}
	for _, item := range raw.Events {
		batch.Events = append(batch.Events, Parse(item))
	}
	return batch, nil
}

type wireMembers struct {
	Members []Source `json:"members"`
}

type wireEvent struct {
	Type            string `json:"type"`
	Mode            string `json:"mode"`
	Timestamp       int64  `json:"timestamp"`
	ReplyToken      string `json:"replyToken"`
	WebhookEventID  string `json:"webhookEventId"`
	DeliveryContext struct {
		IsRedelivery bool `json:"isRedelivery"`
	} `json:"deliveryContext"`
	Source   Source          `json:"source"`
	Message  json.RawMessage `json:"message"`
	Postback *struct {
		Data   string         `json:"data"`
		Params map[string]any `json:"params"`
	} `json:"postback"`
	Joined *wireMembers `json:"joined"`
	Left   *wireMembers `json:"left"`
}

// Parse decodes a single event. It never fails: anything it cannot model is
// returned as *UnknownEvent.
func Parse(raw json.RawMessage) Event {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return &UnknownEvent{Raw: raw}
	}

	h := Header{
		Type:           w.Type,
		Mode:           w.Mode,
		Source:         w.Source,
		ReplyToken:     w.ReplyToken,
		WebhookEventID: w.WebhookEventID,
		Redelivery:     w.DeliveryContext.IsRedelivery,
	}
	if w.Timestamp > 0 {
		h.Timestamp = time.UnixMilli(w.Timestamp).UTC()
	}

	switch Type(w.Type) {
	case TypeMessage:
		msg, err := parseMessage(w.Message)
		if err != nil {
			return &UnknownEvent{Header: h, Raw: raw}
		}
		return &MessageEvent{Header: h, Message: msg}
	case TypeFollow:
		return &FollowEvent{Header: h}
	case TypeUnfollow:
		return &UnfollowEvent{Header: h}
	case TypePostback:
		if w.Postback == nil {
			return &UnknownEvent{Header: h, Raw: raw}
		}
		return &PostbackEvent{Header: h, Data: w.Postback.Data, Params: stringParams(w.Postback.Params)}
	case TypeJoin:
		return &JoinEvent{Header: h}
	case TypeLeave:
		return &LeaveEvent{Header: h}
	case TypeMemberJoined:
		ev := &MemberJoinedEvent{Header: h}
		if w.Joined != nil {
			ev.Members = w.Joined.Members
		}
		return ev
	case TypeMemberLeft:
		ev := &MemberLeftEvent{Header: h}
		if w.Left != nil {
			ev.Members = w.Left.Members
		}
		return ev
	default:
		return &UnknownEvent{Header: h, Raw: raw}
	}
}

type wireMessage struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	Text            string   `json:"text"`
	QuoteToken      string   `json:"quoteToken"`
	Duration        int64    `json:"duration"`
	FileName        string   `json:"fileName"`
	FileSize        int64    `json:"fileSize"`
	Title           string   `json:"title"`
	Address         string   `json:"address"`
	Latitude        float64  `json:"latitude"`
	Longitude       float64  `json:"longitude"`
	PackageID       string   `json:"packageId"`
	StickerID       string   `json:"stickerId"`
	ResourceType    string   `json:"stickerResourceType"`
	Keywords        []string `json:"keywords"`
	ContentProvider struct {
		Type string `json:"type"`
	} `json:"contentProvider"`
}

func parseMessage(raw json.RawMessage) (Message, error) {
	if len(raw) == 0 {
		return nil, errors.New("message payload missing")
	}
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}

	switch MessageType(w.Type) {
	case MessageText:
		return &TextMessage{ID: w.ID, Text: w.Text, QuoteToken: w.QuoteToken}, nil
	case MessageImage:
		return &ImageMessage{ID: w.ID, Provider: w.ContentProvider.Type}, nil
	case MessageVideo:
		return &VideoMessage{ID: w.ID, Duration: time.Duration(w.Duration) * time.Millisecond, Provider: w.ContentProvider.Type}, nil
	case MessageAudio:
		return &AudioMessage{ID: w.ID, Duration: time.Duration(w.Duration) * time.Millisecond, Provider: w.ContentProvider.Type}, nil
	case MessageFile:
		return &FileMessage{ID: w.ID, FileName: w.FileName, FileSize: w.FileSize}, nil
	case MessageLocation:
		return &LocationMessage{ID: w.ID, Title: w.Title, Address: w.Address, Latitude: w.Latitude, Longitude: w.Longitude}, nil
	case MessageSticker:
		return &StickerMessage{ID: w.ID, PackageID: w.PackageID, StickerID: w.StickerID, ResourceType: w.ResourceType, Keywords: w.Keywords}, nil
	default:
		return &UnknownMessage{ID: w.ID, Type: w.Type, Raw: raw}, nil
	}
}

func stringParams(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// ParsePostbackData splits postback data into key/value pairs. Pairs are
// separated by '&', keys and values by the first '=', and both sides are
// percent-decoded. Undecodable parts are kept verbatim; later keys win.
func ParsePostbackData(data string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(data, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		key = unescape(key)
		if key == "" {
			continue
		}
		out[key] = unescape(value)
	}
	return out
}

func unescape(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}
