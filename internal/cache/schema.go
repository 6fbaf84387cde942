package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// schemaVersion gates migrations through the metadata table. Bump it together
// with a new migration step.
const schemaVersion = 1

var migrations = []string{
	`create table if not exists users (
		id                text primary key,
		username          text unique,
		displayName       text,
		profilePictureUrl text,
		isOnline          integer not null default 0,
		lastSeen          integer,
		createdAt         integer
	)`,
	`create table if not exists chats (
		id                  text primary key,
		type                text not null,
		participants        text not null,
		lastMessageText     text,
		lastMessageTime     integer,
		lastMessageSenderId text,
		lastMessageStatus   text,
		unreadCount         integer not null default 0,
		groupName           text,
		groupIcon           text,
		groupDescription    text,
		groupAdminId        text,
		inviteCode          text,
		createdAt           integer,
		createdBy           text
	)`,
	`create table if not exists messages (
		id                 text primary key,
		chatId             text not null,
		senderId           text not null,
		text               text,
		timestamp          integer not null,
		status             text not null,
		type               text not null,
		imageUrl           text,
		thumbnailUrl       text,
		caption            text,
		reactions          text,
		deletedForMe       text,
		deletedForEveryone integer not null default 0,
		translations       text,
		detectedLanguage   text,
		syncStatus         text not null
	)`,
	`create index if not exists idx_messages_chatId on messages (chatId)`,
	`create index if not exists idx_messages_timestamp on messages (timestamp)`,
	`create table if not exists scroll_positions (
		chatId            text primary key,
		lastReadMessageId text,
		scrollYPosition   real not null default 0,
		unreadCount       integer not null default 0
	)`,
	`create table if not exists friend_requests (
		id          text primary key,
		fromUserId  text not null,
		toUserId    text not null,
		status      text not null,
		createdAt   integer not null,
		respondedAt integer
	)`,
}

// migrate creates the schema and records the version in metadata. Running it
// against an already-migrated database is a no-op; a database from a newer
// schema is refused rather than mangled.
func (c *Cache) migrate() error {
	_, err := c.db.Exec(`create table if not exists metadata (
		key   text primary key,
		value text
	)`)
	if err != nil {
		return err
	}

	current, err := c.metadataInt("schema_version")
	if err != nil {
		return err
	}
	if current > schemaVersion {
		return fmt.Errorf("local cache schema version %d is newer than supported %d", current, schemaVersion)
	}
	if current == schemaVersion {
		return nil
	}

	for _, stmt := range migrations {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("applying migration: %w", err)
		}
	}

	return c.SetMetadata("schema_version", strconv.Itoa(schemaVersion))
}

func (c *Cache) metadataInt(key string) (int, error) {
	v, err := c.Metadata(key)
	if errors.Is(err, ErrNotCached) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

// Metadata returns the value stored under key, ErrNotCached if absent.
func (c *Cache) Metadata(key string) (string, error) {
	var v string
	err := c.db.QueryRow("select value from metadata where key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotCached
	}
	return v, err
}

// SetMetadata upserts a metadata key.
func (c *Cache) SetMetadata(key, value string) error {
	_, err := c.db.Exec(
		"insert into metadata (key, value) values (?, ?) on conflict (key) do update set value = excluded.value",
		key, value)
	return err
}
