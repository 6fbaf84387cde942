package model

import (
	"time"

	"github.com/MuradAles/OrangeAI-sub003/internal/docstore"
)

// Collections and document paths of the remote store. Subcollections hang off
// the chat id: chats/{id}, chats/{id}/participants/{userId},
// chats/{id}/messages/{id}.
const ChatsCollection = "chats"

func ChatPath(chatID string) docstore.Path {
	return docstore.Path{Collection: ChatsCollection, ID: chatID}
}

func ParticipantsCollection(chatID string) string {
	return ChatsCollection + "/" + chatID + "/participants"
}

func ParticipantPath(chatID, userID string) docstore.Path {
	return docstore.Path{Collection: ParticipantsCollection(chatID), ID: userID}
}

func MessagesCollection(chatID string) string {
	return ChatsCollection + "/" + chatID + "/messages"
}

func MessagePath(chatID, messageID string) docstore.Path {
	return docstore.Path{Collection: MessagesCollection(chatID), ID: messageID}
}

// Timestamps are stored as unix milliseconds so they survive the jsonb round
// trip without precision surprises.

func EncodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func DecodeTime(v interface{}) time.Time {
	ms := asInt64(v)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func asInt64(v interface{}) int64 {
	switch vv := v.(type) {
	case int64:
		return vv
	case int:
		return int64(vv)
	case float64:
		return int64(vv)
	default:
		return 0
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

// Fields renders the chat as a remote document.
func (c Chat) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"type":                c.Type,
		"participants":        toIface(c.Participants),
		"createdAt":           EncodeTime(c.CreatedAt),
		"createdBy":           c.CreatedBy,
		"lastMessageText":     c.LastMessageText,
		"lastMessageTime":     EncodeTime(c.LastMessageTime),
		"lastMessageSenderId": c.LastMessageSenderID,
		"lastMessageStatus":   c.LastMessageStatus,
	}
	if c.Type == ChatGroup {
		f["groupName"] = c.GroupName
		f["groupDescription"] = c.GroupDescription
		f["groupIcon"] = c.GroupIcon
		f["groupAdminId"] = c.GroupAdminID
		f["inviteCode"] = c.InviteCode
		f["updatedAt"] = EncodeTime(c.UpdatedAt)
	}
	return f
}

func ChatFromFields(id string, f map[string]interface{}) Chat {
	participants, _ := docstore.StringSet(f["participants"])
	return Chat{
		ID:                  id,
		Type:                asString(f["type"]),
		Participants:        participants,
		CreatedAt:           DecodeTime(f["createdAt"]),
		CreatedBy:           asString(f["createdBy"]),
		LastMessageText:     asString(f["lastMessageText"]),
		LastMessageTime:     DecodeTime(f["lastMessageTime"]),
		LastMessageSenderID: asString(f["lastMessageSenderId"]),
		LastMessageStatus:   asString(f["lastMessageStatus"]),
		GroupName:           asString(f["groupName"]),
		GroupDescription:    asString(f["groupDescription"]),
		GroupIcon:           asString(f["groupIcon"]),
		GroupAdminID:        asString(f["groupAdminId"]),
		InviteCode:          asString(f["inviteCode"]),
		UpdatedAt:           DecodeTime(f["updatedAt"]),
	}
}

func (p Participant) Fields() map[string]interface{} {
	return map[string]interface{}{
		"role":              p.Role,
		"joinedAt":          EncodeTime(p.JoinedAt),
		"lastReadMessageId": p.LastReadMessageID,
		"lastReadTimestamp": EncodeTime(p.LastReadTimestamp),
		"unreadCount":       p.UnreadCount,
	}
}

func ParticipantFromFields(chatID, userID string, f map[string]interface{}) Participant {
	return Participant{
		ChatID:            chatID,
		UserID:            userID,
		Role:              asString(f["role"]),
		JoinedAt:          DecodeTime(f["joinedAt"]),
		LastReadMessageID: asString(f["lastReadMessageId"]),
		LastReadTimestamp: DecodeTime(f["lastReadTimestamp"]),
		UnreadCount:       int(asInt64(f["unreadCount"])),
	}
}

// Fields renders the message as a remote document. SyncStatus stays local.
func (m Message) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"chatId":             m.ChatID,
		"senderId":           m.SenderID,
		"type":               m.Type,
		"text":               m.Text,
		"timestamp":          EncodeTime(m.Timestamp),
		"status":             m.Status,
		"deletedForEveryone": m.DeletedForEveryone,
	}
	if m.Type == TypeImage {
		f["imageUrl"] = m.ImageURL
		f["thumbnailUrl"] = m.ThumbnailURL
		f["caption"] = m.Caption
	}
	if len(m.Reactions) > 0 {
		reactions := make(map[string]interface{}, len(m.Reactions))
		for emoji, users := range m.Reactions {
			reactions[emoji] = toIface(users)
		}
		f["reactions"] = reactions
	}
	if len(m.DeletedForMe) > 0 {
		f["deletedForMe"] = toIface(m.DeletedForMe)
	}
	if !m.DeletedAt.IsZero() {
		f["deletedAt"] = EncodeTime(m.DeletedAt)
	}
	if len(m.Translations) > 0 {
		translations := make(map[string]interface{}, len(m.Translations))
		for lang, tr := range m.Translations {
			translations[lang] = map[string]interface{}{
				"text":         tr.Text,
				"translatedAt": EncodeTime(tr.TranslatedAt),
			}
		}
		f["translations"] = translations
	}
	if m.DetectedLanguage != "" {
		f["detectedLanguage"] = m.DetectedLanguage
	}
	return f
}

func MessageFromFields(chatID, id string, f map[string]interface{}) Message {
	m := Message{
		ID:                 id,
		ChatID:             chatID,
		SenderID:           asString(f["senderId"]),
		Type:               asString(f["type"]),
		Text:               asString(f["text"]),
		ImageURL:           asString(f["imageUrl"]),
		ThumbnailURL:       asString(f["thumbnailUrl"]),
		Caption:            asString(f["caption"]),
		Timestamp:          DecodeTime(f["timestamp"]),
		Status:             asString(f["status"]),
		DeletedForEveryone: asBool(f["deletedForEveryone"]),
		DeletedAt:          DecodeTime(f["deletedAt"]),
		DetectedLanguage:   asString(f["detectedLanguage"]),
	}

	if raw, ok := f["reactions"].(map[string]interface{}); ok {
		m.Reactions = make(map[string][]string, len(raw))
		for emoji, users := range raw {
			set, err := docstore.StringSet(users)
			if err != nil {
				continue
			}
			m.Reactions[emoji] = set
		}
	}

	m.DeletedForMe, _ = docstore.StringSet(f["deletedForMe"])

	if raw, ok := f["translations"].(map[string]interface{}); ok {
		m.Translations = make(map[string]Translation, len(raw))
		for lang, v := range raw {
			tf, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			m.Translations[lang] = Translation{
				Text:         asString(tf["text"]),
				TranslatedAt: DecodeTime(tf["translatedAt"]),
			}
		}
	}

	return m
}

func toIface(set []string) []interface{} {
	out := make([]interface{}, len(set))
	for i, v := range set {
		out[i] = v
	}
	return out
}
