package pgstore

import (
	"context"
	"errors"

	"github.com/valyala/fastjson"

	"github.com/MuradAles/OrangeAI-sub003/internal/docstore"
)

// Subscribe delivers an Event for every committed change to the collection.
// A dedicated connection is parked on LISTEN until the returned unsubscribe
// func (or ctx cancellation) tears it down. Deleted documents arrive without
// fields; live ones are re-fetched so subscribers see the post-commit state.
func (s *Store) Subscribe(ctx context.Context, collection string, fn func(docstore.Event)) (func(), error) {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(ctx, "listen "+notifyChannel); err != nil {
		conn.Release()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer conn.Release()

		var p fastjson.Parser
		for {
			notification, err := conn.Conn().WaitForNotification(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					s.logger.Errorf("waiting for notification: %v", err)
				}
				return
			}

			v, err := p.Parse(notification.Payload)
			if err != nil {
				s.logger.Errorf("malformed notify payload %q: %v", notification.Payload, err)
				continue
			}

			if string(v.GetStringBytes("collection")) != collection {
				continue
			}

			path := docstore.Path{
				Collection: collection,
				ID:         string(v.GetStringBytes("id")),
			}

			if v.GetBool("deleted") {
				fn(docstore.Event{Path: path, Deleted: true})
				continue
			}

			doc, err := s.Get(subCtx, path)
			if err != nil {
				// Deleted between notify and fetch; the delete notification
				// for it is already on the wire.
				if errors.Is(err, docstore.ErrNotFound) {
					continue
				}
				if subCtx.Err() == nil {
					s.logger.Errorf("fetching notified document %s: %v", path, err)
				}
				continue
			}

			fn(docstore.Event{Path: path, Fields: doc.Fields, Version: doc.Version})
		}
	}()

	return cancel, nil
}
