// Package cache is the embedded sqlite mirror of remote chat state. It serves
// offline reads and queues outbound mutations through per-message sync
// statuses; writes here complete before the issuing coordinator call returns
// and are reconciled with the remote store by the sync worker.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/MuradAles/OrangeAI-sub003/internal/model"
)

var ErrNotCached = errors.New("record is not in local cache")

// Cache wraps the sqlite database.
type Cache struct {
	logger *zap.SugaredLogger
	db     *sql.DB
}

// New opens (or creates) the cache database at path and migrates its schema.
func New(logger *zap.SugaredLogger, path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening local cache: %w", err)
	}

	c := &Cache{logger: logger, db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return c, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// User is the locally persisted shape of a user row.
type User struct {
	ID                string
	Username          string
	DisplayName       string
	ProfilePictureURL string
	IsOnline          bool
	LastSeen          time.Time
	CreatedAt         time.Time
}

func (c *Cache) UpsertUser(u User) error {
	_, err := c.db.Exec(`insert into users
			(id, username, displayName, profilePictureUrl, isOnline, lastSeen, createdAt)
		values (?, ?, ?, ?, ?, ?, ?)
		on conflict (id) do update set
			username = excluded.username,
			displayName = excluded.displayName,
			profilePictureUrl = excluded.profilePictureUrl,
			isOnline = excluded.isOnline,
			lastSeen = excluded.lastSeen`,
		u.ID, u.Username, u.DisplayName, u.ProfilePictureURL,
		boolInt(u.IsOnline), unix(u.LastSeen), unix(u.CreatedAt))
	return err
}

func (c *Cache) User(id string) (User, error) {
	var (
		u        User
		isOnline int
		lastSeen sql.NullInt64
		created  sql.NullInt64
	)
	err := c.db.QueryRow(
		"select id, username, displayName, profilePictureUrl, isOnline, lastSeen, createdAt from users where id = ?",
		id).Scan(&u.ID, &u.Username, &u.DisplayName, &u.ProfilePictureURL, &isOnline, &lastSeen, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotCached
	}
	if err != nil {
		return User{}, err
	}
	u.IsOnline = isOnline != 0
	u.LastSeen = fromUnix(lastSeen)
	u.CreatedAt = fromUnix(created)
	return u, nil
}

// UpsertChat mirrors a chat document. unreadCount is the viewing user's local
// counter and survives upserts that do not change it.
func (c *Cache) UpsertChat(chat model.Chat, unreadCount int) error {
	participants, err := json.Marshal(chat.Participants)
	if err != nil {
		return err
	}

	_, err = c.db.Exec(`insert into chats
			(id, type, participants, lastMessageText, lastMessageTime, lastMessageSenderId,
			 lastMessageStatus, unreadCount, groupName, groupIcon, groupDescription,
			 groupAdminId, inviteCode, createdAt, createdBy)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		on conflict (id) do update set
			type = excluded.type,
			participants = excluded.participants,
			lastMessageText = excluded.lastMessageText,
			lastMessageTime = excluded.lastMessageTime,
			lastMessageSenderId = excluded.lastMessageSenderId,
			lastMessageStatus = excluded.lastMessageStatus,
			unreadCount = excluded.unreadCount,
			groupName = excluded.groupName,
			groupIcon = excluded.groupIcon,
			groupDescription = excluded.groupDescription,
			groupAdminId = excluded.groupAdminId,
			inviteCode = excluded.inviteCode`,
		chat.ID, chat.Type, string(participants), chat.LastMessageText,
		unix(chat.LastMessageTime), chat.LastMessageSenderID, chat.LastMessageStatus,
		unreadCount, chat.GroupName, chat.GroupIcon, chat.GroupDescription,
		chat.GroupAdminID, chat.InviteCode, unix(chat.CreatedAt), chat.CreatedBy)
	return err
}

// DeleteChat removes the chat row together with its messages and scroll
// position.
func (c *Cache) DeleteChat(chatID string) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"delete from messages where chatId = ?",
		"delete from scroll_positions where chatId = ?",
		"delete from chats where id = ?",
	} {
		if _, err := tx.Exec(stmt, chatID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (c *Cache) Chat(chatID string) (model.Chat, error) {
	row := c.db.QueryRow(`select id, type, participants, lastMessageText, lastMessageTime,
			lastMessageSenderId, lastMessageStatus, groupName, groupIcon, groupDescription,
			groupAdminId, inviteCode, createdAt, createdBy
		from chats where id = ?`, chatID)
	chat, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Chat{}, ErrNotCached
	}
	return chat, err
}

// Chats lists all cached chats, most recently active first.
func (c *Cache) Chats() ([]model.Chat, error) {
	rows, err := c.db.Query(`select id, type, participants, lastMessageText, lastMessageTime,
			lastMessageSenderId, lastMessageStatus, groupName, groupIcon, groupDescription,
			groupAdminId, inviteCode, createdAt, createdBy
		from chats order by lastMessageTime desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []model.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChat(r rowScanner) (model.Chat, error) {
	var (
		chat            model.Chat
		participants    string
		lastMessageTime sql.NullInt64
		createdAt       sql.NullInt64
		lastText        sql.NullString
		lastSender      sql.NullString
		lastStatus      sql.NullString
		groupName       sql.NullString
		groupIcon       sql.NullString
		groupDesc       sql.NullString
		groupAdmin      sql.NullString
		inviteCode      sql.NullString
		createdBy       sql.NullString
	)
	err := r.Scan(&chat.ID, &chat.Type, &participants, &lastText, &lastMessageTime,
		&lastSender, &lastStatus, &groupName, &groupIcon, &groupDesc,
		&groupAdmin, &inviteCode, &createdAt, &createdBy)
	if err != nil {
		return model.Chat{}, err
	}

	if err := json.Unmarshal([]byte(participants), &chat.Participants); err != nil {
		return model.Chat{}, fmt.Errorf("decoding participants of chat %s: %w", chat.ID, err)
	}
	chat.LastMessageText = lastText.String
	chat.LastMessageTime = fromUnix(lastMessageTime)
	chat.LastMessageSenderID = lastSender.String
	chat.LastMessageStatus = lastStatus.String
	chat.GroupName = groupName.String
	chat.GroupIcon = groupIcon.String
	chat.GroupDescription = groupDesc.String
	chat.GroupAdminID = groupAdmin.String
	chat.InviteCode = inviteCode.String
	chat.CreatedAt = fromUnix(createdAt)
	chat.CreatedBy = createdBy.String
	return chat, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnix(v sql.NullInt64) time.Time {
	if !v.Valid || v.Int64 == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}
