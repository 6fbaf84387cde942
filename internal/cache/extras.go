package cache

import (
	"database/sql"
	"errors"
	"time"
)

// ScrollPosition is the locally remembered read state of one chat.
type ScrollPosition struct {
	ChatID            string
	LastReadMessageID string
	ScrollYPosition   float64
	UnreadCount       int
}

func (c *Cache) SaveScrollPosition(p ScrollPosition) error {
	_, err := c.db.Exec(`insert into scroll_positions
			(chatId, lastReadMessageId, scrollYPosition, unreadCount)
		values (?, ?, ?, ?)
		on conflict (chatId) do update set
			lastReadMessageId = excluded.lastReadMessageId,
			scrollYPosition = excluded.scrollYPosition,
			unreadCount = excluded.unreadCount`,
		p.ChatID, p.LastReadMessageID, p.ScrollYPosition, p.UnreadCount)
	return err
}

func (c *Cache) ScrollPosition(chatID string) (ScrollPosition, error) {
	var p ScrollPosition
	err := c.db.QueryRow(
		"select chatId, lastReadMessageId, scrollYPosition, unreadCount from scroll_positions where chatId = ?",
		chatID).Scan(&p.ChatID, &p.LastReadMessageID, &p.ScrollYPosition, &p.UnreadCount)
	if errors.Is(err, sql.ErrNoRows) {
		return ScrollPosition{}, ErrNotCached
	}
	return p, err
}

// Friend request statuses.
const (
	FriendRequestPending  = "pending"
	FriendRequestAccepted = "accepted"
	FriendRequestRejected = "rejected"
)

type FriendRequest struct {
	ID          string
	FromUserID  string
	ToUserID    string
	Status      string
	CreatedAt   time.Time
	RespondedAt time.Time
}

func (c *Cache) SaveFriendRequest(r FriendRequest) error {
	_, err := c.db.Exec(`insert into friend_requests
			(id, fromUserId, toUserId, status, createdAt, respondedAt)
		values (?, ?, ?, ?, ?, ?)
		on conflict (id) do update set
			status = excluded.status,
			respondedAt = excluded.respondedAt`,
		r.ID, r.FromUserID, r.ToUserID, r.Status, unix(r.CreatedAt), unix(r.RespondedAt))
	return err
}

// RespondFriendRequest flips a pending request to accepted or rejected.
func (c *Cache) RespondFriendRequest(id, status string, at time.Time) error {
	return c.execOne(
		"update friend_requests set status = ?, respondedAt = ? where id = ?",
		status, unix(at), id)
}

// FriendRequestsFor lists requests addressed to the user, newest first.
func (c *Cache) FriendRequestsFor(userID string) ([]FriendRequest, error) {
	rows, err := c.db.Query(`select id, fromUserId, toUserId, status, createdAt, respondedAt
		from friend_requests where toUserId = ? order by createdAt desc`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FriendRequest
	for rows.Next() {
		var (
			r         FriendRequest
			created   sql.NullInt64
			responded sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.FromUserID, &r.ToUserID, &r.Status, &created, &responded); err != nil {
			return nil, err
		}
		r.CreatedAt = fromUnix(created)
		r.RespondedAt = fromUnix(responded)
		out = append(out, r)
	}
	return out, rows.Err()
}
