// Package model holds the chat domain entities shared by the coordinators,
// the remote document store and the local cache, plus the field-map codecs
// for documents.
package model

import "time"

// Chat kinds.
const (
	ChatOneOnOne = "one-on-one"
	ChatGroup    = "group"
)

// Participant roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Message delivery statuses.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Message content types.
const (
	TypeText  = "text"
	TypeImage = "image"
)

// Local-only sync statuses.
const (
	SyncSynced  = "synced"
	SyncPending = "pending"
	SyncFailed  = "failed"
)

type Chat struct {
	ID                  string
	Type                string
	Participants        []string
	CreatedAt           time.Time
	CreatedBy           string
	LastMessageText     string
	LastMessageTime     time.Time
	LastMessageSenderID string
	LastMessageStatus   string

	// Group-only fields. GroupAdminID is always a current participant while
	// the chat exists.
	GroupName        string
	GroupDescription string
	GroupIcon        string
	GroupAdminID     string
	InviteCode       string
	UpdatedAt        time.Time
}

func (c Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

type Participant struct {
	ChatID            string
	UserID            string
	Role              string
	JoinedAt          time.Time
	LastReadMessageID string
	LastReadTimestamp time.Time
	UnreadCount       int
}

// Attachment is the image payload of an image message.
type Attachment struct {
	ImageURL     string
	ThumbnailURL string
	Caption      string
}

type Translation struct {
	Text         string
	TranslatedAt time.Time
}

type Message struct {
	ID       string
	ChatID   string
	SenderID string
	Type     string

	Text         string
	ImageURL     string
	ThumbnailURL string
	Caption      string

	Timestamp time.Time
	Status    string

	Reactions          map[string][]string
	DeletedForMe       []string
	DeletedForEveryone bool
	DeletedAt          time.Time

	Translations     map[string]Translation
	DetectedLanguage string

	// SyncStatus is local-only and never written to the remote store.
	SyncStatus string
}

// Tombstoned reports whether the message should render as a deletion
// placeholder instead of its content.
func (m Message) Tombstoned() bool {
	return m.DeletedForEveryone
}

// DeletedFor reports whether the message is hidden for the given user.
func (m Message) DeletedFor(userID string) bool {
	for _, u := range m.DeletedForMe {
		if u == userID {
			return true
		}
	}
	return m.DeletedForEveryone
}

// statusRank orders the forward delivery pipeline. Failed sits outside the
// pipeline: reachable from anywhere, exited only via retry to sending.
var statusRank = map[string]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// ValidStatusTransition reports whether from→to is a legal delivery status
// change. Legal moves: one step forward in the pipeline, any state to failed,
// and failed back to sending (retry). Same-status is not a transition.
func ValidStatusTransition(from, to string) bool {
	if to == StatusFailed {
		return from != StatusFailed
	}
	if from == StatusFailed {
		return to == StatusSending
	}
	fr, ok := statusRank[from]
	if !ok {
		return false
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	return tr == fr+1
}
