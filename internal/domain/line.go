package domain

import "time"

// LineContact is the follow record kept for a LINE user who added the bot.
type LineContact struct {
	ID            int64
	LineUserID    string
	DisplayName   string
	PictureURL    string
	StatusMessage string
	IsActive      bool
	FollowedAt    time.Time
	UnfollowedAt  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LineMessage is a persisted inbound message.
type LineMessage struct {
	ID             int64
	IdempotencyKey string
	LineUserID     string
	SourceType     string
	MessageID      string
	MessageType    string
	Content        string
	Metadata       map[string]any
	SentAt         time.Time
	CreatedAt      time.Time
}

// LinePostback is a persisted postback action.
type LinePostback struct {
	ID             int64
	IdempotencyKey string
	LineUserID     string
	Data           string
	Params         map[string]string
	ReceivedAt     time.Time
	CreatedAt      time.Time
}

// LineProfile is the public profile of a LINE user.
type LineProfile struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	PictureURL    string `json:"pictureUrl,omitempty"`
	StatusMessage string `json:"statusMessage,omitempty"`
}
