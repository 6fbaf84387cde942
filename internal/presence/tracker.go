// Package presence tracks online/offline and typing state against the
// ephemeral presence store. Presence is fire-and-forget and sits outside the
// atomic-commit discipline of the rest of the system.
package presence

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrPermissionDenied is returned by store adapters when the session no
// longer has write access, typically mid sign-out.
var ErrPermissionDenied = errors.New("presence store denied the write")

// Record is one user's presence state. LastSeen is meaningful only while
// IsOnline is false.
type Record struct {
	UserID   string
	IsOnline bool
	UserName string
	LastSeen time.Time
}

// TypingRecord marks one user typing in one chat. Records have no server-side
// expiry; a crashed client leaves its record until an explicit StopTyping.
type TypingRecord struct {
	ChatID    string
	UserID    string
	UserName  string
	Timestamp time.Time
}

// Store is the ephemeral presence store boundary. RegisterDisconnect arms a
// compensating write the store applies if the session ends without
// CancelDisconnect. It is an explicit register/cancel pair, not a heartbeat
// timer.
type Store interface {
	SetPresence(ctx context.Context, rec Record) error
	RegisterDisconnect(ctx context.Context, rec Record) error
	CancelDisconnect(ctx context.Context, userID string) error
	SetTyping(ctx context.Context, rec TypingRecord) error
	ClearTyping(ctx context.Context, chatID, userID string) error
	SubscribePresence(ctx context.Context, userID string, onData func(Record), onError func(error)) (func(), error)
	SubscribeTyping(ctx context.Context, chatID string, onData func([]TypingRecord), onError func(error)) (func(), error)
}

// Tracker is the presence coordinator handed to UI-level callers.
type Tracker struct {
	logger *zap.SugaredLogger
	store  Store
	now    func() time.Time
}

func NewTracker(logger *zap.SugaredLogger, store Store) *Tracker {
	return &Tracker{logger: logger, store: store, now: time.Now}
}

// SetOnline publishes the user as online and arms a disconnect fallback that
// flips them offline if the connection drops without an explicit SetOffline.
func (t *Tracker) SetOnline(ctx context.Context, userID, userName string) error {
	now := t.now()
	err := t.store.SetPresence(ctx, Record{
		UserID:   userID,
		IsOnline: true,
		UserName: userName,
		LastSeen: now,
	})
	if err != nil {
		return err
	}

	return t.store.RegisterDisconnect(ctx, Record{
		UserID:   userID,
		IsOnline: false,
		UserName: userName,
	})
}

// SetOffline publishes the user as offline and disarms the disconnect
// fallback so it cannot fire later and clobber a new online session.
// Permission-denied failures are expected during sign-out races and are
// swallowed.
func (t *Tracker) SetOffline(ctx context.Context, userID, userName string) error {
	if err := t.store.CancelDisconnect(ctx, userID); err != nil && !errors.Is(err, ErrPermissionDenied) {
		return err
	}

	err := t.store.SetPresence(ctx, Record{
		UserID:   userID,
		IsOnline: false,
		UserName: userName,
		LastSeen: t.now(),
	})
	if errors.Is(err, ErrPermissionDenied) {
		return nil
	}
	return err
}

// Heartbeat refreshes the online record without re-arming the disconnect
// fallback. Safe to call repeatedly.
func (t *Tracker) Heartbeat(ctx context.Context, userID, userName string) error {
	return t.store.SetPresence(ctx, Record{
		UserID:   userID,
		IsOnline: true,
		UserName: userName,
		LastSeen: t.now(),
	})
}

// StartTyping sets the user's typing record in the chat.
func (t *Tracker) StartTyping(ctx context.Context, chatID, userID, userName string) error {
	return t.store.SetTyping(ctx, TypingRecord{
		ChatID:    chatID,
		UserID:    userID,
		UserName:  userName,
		Timestamp: t.now(),
	})
}

// StopTyping clears the user's typing record in the chat.
func (t *Tracker) StopTyping(ctx context.Context, chatID, userID string) error {
	return t.store.ClearTyping(ctx, chatID, userID)
}

// SubscribeToPresence streams one user's presence records until the returned
// unsubscribe func runs.
func (t *Tracker) SubscribeToPresence(ctx context.Context, userID string, onData func(Record), onError func(error)) (func(), error) {
	return t.store.SubscribePresence(ctx, userID, onData, onError)
}

// SubscribeToTyping streams the chat's typing records, always excluding the
// caller's own record from the delivered list.
func (t *Tracker) SubscribeToTyping(ctx context.Context, chatID, selfUserID string, onData func([]TypingRecord), onError func(error)) (func(), error) {
	return t.store.SubscribeTyping(ctx, chatID, func(records []TypingRecord) {
		others := make([]TypingRecord, 0, len(records))
		for _, r := range records {
			if r.UserID != selfUserID {
				others = append(others, r)
			}
		}
		onData(others)
	}, onError)
}
