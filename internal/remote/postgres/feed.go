package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sethvargo/go-retry"

	"couplesync/internal/models"
	"couplesync/internal/remote"
)

// feedChannel is the NOTIFY channel written by the row triggers.
const feedChannel = "couple_changes"

type feedPayload struct {
	Table  string          `json:"table"`
	Op     string          `json:"op"`
	Record json.RawMessage `json:"record"`
}

// Subscribe opens a dedicated listening connection and delivers decoded
// change events for coupleID until the stop function is called. The
// connection is re-established with capped fibonacci backoff after any
// drop; the periodic full resync covers anything missed in between.
func (s *Store) Subscribe(ctx context.Context, coupleID string, fn func(remote.ChangeEvent)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	go s.listenLoop(ctx, coupleID, fn)
	return cancel, nil
}

func (s *Store) listenLoop(ctx context.Context, coupleID string, fn func(remote.ChangeEvent)) {
	for ctx.Err() == nil {
		conn, err := s.connectListener(ctx)
		if err != nil {
			return
		}
		s.consume(ctx, conn, coupleID, fn)
		_ = conn.Close(context.Background())
	}
}

func (s *Store) connectListener(ctx context.Context) (*pgx.Conn, error) {
	var conn *pgx.Conn
	b := retry.WithCappedDuration(15*time.Second, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		c, err := pgx.Connect(ctx, s.dsn)
		if err != nil {
			return retry.RetryableError(err)
		}
		if _, err := c.Exec(ctx, "listen "+feedChannel); err != nil {
			_ = c.Close(ctx)
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	return conn, err
}

func (s *Store) consume(ctx context.Context, conn *pgx.Conn, coupleID string, fn func(remote.ChangeEvent)) {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn(ctx, "change feed dropped, reconnecting", "error", err)
			}
			return
		}
		var p feedPayload
		if err := json.Unmarshal([]byte(n.Payload), &p); err != nil {
			s.logger.Error(ctx, "bad feed payload", "error", err)
			continue
		}
		ev, err := decodeEvent(p)
		if err != nil {
			s.logger.Error(ctx, "undecodable feed event", "error", err)
			continue
		}
		if coupleID == "" || ev.CoupleID == coupleID {
			fn(ev)
		}
	}
}

func decodeEvent(p feedPayload) (remote.ChangeEvent, error) {
	ev := remote.ChangeEvent{Table: remote.Table(p.Table)}
	switch p.Op {
	case "insert":
		ev.Type = remote.EventInsert
	case "update":
		ev.Type = remote.EventUpdate
	case "delete":
		ev.Type = remote.EventDelete
	default:
		return ev, fmt.Errorf("unknown op %q", p.Op)
	}

	unmarshal := func(v any) error { return json.Unmarshal(p.Record, v) }

	switch ev.Table {
	case remote.TableCouples:
		c := &models.Couple{}
		if err := unmarshal(c); err != nil {
			return ev, err
		}
		ev.Record, ev.CoupleID = c, c.ID
	case remote.TableMissions:
		m := &models.Mission{}
		if err := unmarshal(m); err != nil {
			return ev, err
		}
		ev.Record, ev.CoupleID = m, m.CoupleID
	case remote.TableAlbums:
		a := &models.Album{}
		if err := unmarshal(a); err != nil {
			return ev, err
		}
		ev.Record, ev.CoupleID = a, a.CoupleID
	case remote.TableAlbumPhotos:
		ph := &models.AlbumPhoto{}
		if err := unmarshal(ph); err != nil {
			return ev, err
		}
		ev.Record, ev.CoupleID = ph, ph.CoupleID
	case remote.TableMemories:
		m := &models.Memory{}
		if err := unmarshal(m); err != nil {
			return ev, err
		}
		ev.Record, ev.CoupleID = m, m.CoupleID
	case remote.TableTodos:
		t := &models.Todo{}
		if err := unmarshal(t); err != nil {
			return ev, err
		}
		ev.Record, ev.CoupleID = t, t.CoupleID
	case remote.TableCycles:
		c := &models.CycleSettings{}
		if err := unmarshal(c); err != nil {
			return ev, err
		}
		ev.Record, ev.CoupleID = c, c.CoupleID
	case remote.TableBackgrounds:
		b := &models.Background{}
		if err := unmarshal(b); err != nil {
			return ev, err
		}
		ev.Record, ev.CoupleID = b, b.CoupleID
	case remote.TableLocks:
		l := &models.GenerationLock{}
		if err := unmarshal(l); err != nil {
			return ev, err
		}
		ev.Record, ev.CoupleID = l, l.CoupleID
	default:
		return ev, fmt.Errorf("unknown table %q", p.Table)
	}
	return ev, nil
}
