package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MuradAles/OrangeAI-sub003/internal/model"
)

// UpsertMessage mirrors one message row, including its local sync status.
func (c *Cache) UpsertMessage(m model.Message) error {
	reactions, err := jsonOrEmpty(m.Reactions)
	if err != nil {
		return err
	}
	deletedForMe, err := jsonOrEmpty(m.DeletedForMe)
	if err != nil {
		return err
	}
	translations, err := jsonOrEmpty(m.Translations)
	if err != nil {
		return err
	}

	_, err = c.db.Exec(`insert into messages
			(id, chatId, senderId, text, timestamp, status, type, imageUrl, thumbnailUrl,
			 caption, reactions, deletedForMe, deletedForEveryone, translations,
			 detectedLanguage, syncStatus)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		on conflict (id) do update set
			text = excluded.text,
			status = excluded.status,
			imageUrl = excluded.imageUrl,
			thumbnailUrl = excluded.thumbnailUrl,
			caption = excluded.caption,
			reactions = excluded.reactions,
			deletedForMe = excluded.deletedForMe,
			deletedForEveryone = excluded.deletedForEveryone,
			translations = excluded.translations,
			detectedLanguage = excluded.detectedLanguage,
			syncStatus = excluded.syncStatus`,
		m.ID, m.ChatID, m.SenderID, m.Text, unix(m.Timestamp), m.Status, m.Type,
		m.ImageURL, m.ThumbnailURL, m.Caption, reactions, deletedForMe,
		boolInt(m.DeletedForEveryone), translations, m.DetectedLanguage, m.SyncStatus)
	return err
}

// Message loads one message by chat and id.
func (c *Cache) Message(chatID, messageID string) (model.Message, error) {
	row := c.db.QueryRow(selectMessage+" where id = ? and chatId = ?", messageID, chatID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, ErrNotCached
	}
	return m, err
}

// MessagesByChat returns the chat's messages ordered by timestamp ascending.
func (c *Cache) MessagesByChat(chatID string) ([]model.Message, error) {
	rows, err := c.db.Query(selectMessage+" where chatId = ? order by timestamp asc", chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// PendingMessages lists messages whose remote commit is outstanding or failed,
// oldest first. The sync worker drains this set.
func (c *Cache) PendingMessages() ([]model.Message, error) {
	rows, err := c.db.Query(
		selectMessage+" where syncStatus in (?, ?) order by timestamp asc",
		model.SyncPending, model.SyncFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// SetMessageStatus updates only the delivery status column.
func (c *Cache) SetMessageStatus(chatID, messageID, status string) error {
	return c.execOne(
		"update messages set status = ? where id = ? and chatId = ?",
		status, messageID, chatID)
}

// SetMessageSyncStatus updates only the local sync status column.
func (c *Cache) SetMessageSyncStatus(chatID, messageID, syncStatus string) error {
	return c.execOne(
		"update messages set syncStatus = ? where id = ? and chatId = ?",
		syncStatus, messageID, chatID)
}

// MarkMessageDeleted records a deletion locally: a tombstone for everyone, or
// a per-user hide.
func (c *Cache) MarkMessageDeleted(chatID, messageID string, forUser string, at time.Time) error {
	if forUser == "" {
		return c.execOne(
			"update messages set deletedForEveryone = 1 where id = ? and chatId = ?",
			messageID, chatID)
	}

	m, err := c.Message(chatID, messageID)
	if err != nil {
		return err
	}
	for _, u := range m.DeletedForMe {
		if u == forUser {
			return nil
		}
	}
	deletedForMe, err := json.Marshal(append(m.DeletedForMe, forUser))
	if err != nil {
		return err
	}
	return c.execOne(
		"update messages set deletedForMe = ? where id = ? and chatId = ?",
		string(deletedForMe), messageID, chatID)
}

func (c *Cache) execOne(query string, args ...interface{}) error {
	res, err := c.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotCached
	}
	return nil
}

const selectMessage = `select id, chatId, senderId, text, timestamp, status, type,
	imageUrl, thumbnailUrl, caption, reactions, deletedForMe, deletedForEveryone,
	translations, detectedLanguage, syncStatus from messages`

func scanMessage(r rowScanner) (model.Message, error) {
	var (
		m            model.Message
		text         sql.NullString
		ts           int64
		imageURL     sql.NullString
		thumbURL     sql.NullString
		caption      sql.NullString
		reactions    sql.NullString
		deletedForMe sql.NullString
		deletedAll   int
		translations sql.NullString
		detectedLang sql.NullString
	)
	err := r.Scan(&m.ID, &m.ChatID, &m.SenderID, &text, &ts, &m.Status, &m.Type,
		&imageURL, &thumbURL, &caption, &reactions, &deletedForMe, &deletedAll,
		&translations, &detectedLang, &m.SyncStatus)
	if err != nil {
		return model.Message{}, err
	}

	m.Text = text.String
	m.Timestamp = time.UnixMilli(ts)
	m.ImageURL = imageURL.String
	m.ThumbnailURL = thumbURL.String
	m.Caption = caption.String
	m.DeletedForEveryone = deletedAll != 0
	m.DetectedLanguage = detectedLang.String

	if reactions.String != "" {
		if err := json.Unmarshal([]byte(reactions.String), &m.Reactions); err != nil {
			return model.Message{}, fmt.Errorf("decoding reactions of message %s: %w", m.ID, err)
		}
	}
	if deletedForMe.String != "" {
		if err := json.Unmarshal([]byte(deletedForMe.String), &m.DeletedForMe); err != nil {
			return model.Message{}, fmt.Errorf("decoding deletedForMe of message %s: %w", m.ID, err)
		}
	}
	if translations.String != "" {
		if err := json.Unmarshal([]byte(translations.String), &m.Translations); err != nil {
			return model.Message{}, fmt.Errorf("decoding translations of message %s: %w", m.ID, err)
		}
	}

	return m, nil
}

func collectMessages(rows *sql.Rows) ([]model.Message, error) {
	var messages []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func jsonOrEmpty(v interface{}) (string, error) {
	switch vv := v.(type) {
	case map[string][]string:
		if len(vv) == 0 {
			return "", nil
		}
	case []string:
		if len(vv) == 0 {
			return "", nil
		}
	case map[string]model.Translation:
		if len(vv) == 0 {
			return "", nil
		}
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
