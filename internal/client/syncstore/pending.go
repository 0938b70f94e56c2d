package syncstore

import (
	"context"
	"errors"
	"fmt"

	"couplesync/internal/client/queue"
	"couplesync/internal/common"
)

// ProcessPendingOperations replays the queue head-first in enqueue
// order. A transient failure stops the pass so order is preserved; the
// failed operation stays at the head with its retry count bumped. Once
// the count passes the cap the stalled state becomes user-visible, but
// the operation is never evicted: a later pass (new connectivity, app
// restart) may still succeed and clear the state.
func (s *Store) ProcessPendingOperations(ctx context.Context) error {
	for _, op := range s.queue.ListPending() {
		err := s.replay(ctx, op)
		switch {
		case err == nil, errors.Is(err, common.ErrConflict), errors.Is(err, common.ErrNotFound):
			// Applied, already applied, or the target is gone. Either way
			// the operation is settled.
			s.queue.Dequeue(ctx, op.ID)
		case errors.Is(err, common.ErrSessionInvalid):
			return err
		default:
			count := s.queue.IncrementRetry(ctx, op.ID)
			s.logger.Warn(ctx, "replay failed", "op_id", op.ID, "type", op.Type, "retries", count, "error", err)
			if count >= s.retryCap && !s.stalled.Swap(true) {
				s.notifier.SyncStalled(ctx, string(op.Type))
			}
			if s.stalled.Load() {
				return fmt.Errorf("operation %s: %w", op.ID, common.ErrSyncStalled)
			}
			return nil
		}
	}
	if s.stalled.Swap(false) {
		s.logger.Info(ctx, "sync recovered, queue drained")
	}
	return nil
}

// replay sends one queued operation to the store.
func (s *Store) replay(ctx context.Context, op queue.Operation) error {
	payload, err := queue.DecodePayload(op)
	if err != nil {
		// Undecodable payloads cannot be retried; settle them as gone.
		s.logger.Error(ctx, "dropping undecodable operation", "op_id", op.ID, "error", err)
		return common.ErrNotFound
	}
	switch p := payload.(type) {
	case *queue.AddTodoPayload:
		return s.remote.Todos().Insert(ctx, &p.Todo)
	case *queue.ToggleTodoPayload:
		return s.remote.Todos().Update(ctx, &p.Todo)
	case *queue.DeleteTodoPayload:
		return s.remote.Todos().Delete(ctx, p.TodoID)
	case *queue.CreateAlbumPayload:
		return s.remote.Albums().Insert(ctx, &p.Album)
	case *queue.RenameAlbumPayload:
		return s.remote.Albums().Update(ctx, &p.Album)
	case *queue.DeleteAlbumPayload:
		return s.remote.Albums().Delete(ctx, p.AlbumID)
	case *queue.AddMemoryPayload:
		return s.remote.Albums().InsertMemory(ctx, &p.Memory)
	case *queue.AddAlbumPhotoPayload:
		return s.remote.Albums().AddPhoto(ctx, &p.Photo)
	case *queue.RemoveAlbumPhotoPayload:
		return s.remote.Albums().RemovePhoto(ctx, p.AlbumID, p.MemoryID)
	case *queue.SetCycleSettingsPayload:
		return s.remote.Cycles().Upsert(ctx, &p.Settings)
	case *queue.SetBackgroundPayload:
		return s.remote.Backgrounds().Upsert(ctx, &p.Background)
	case *queue.AnswerMissionPayload:
		return s.remote.Missions().Update(ctx, &p.Mission)
	default:
		s.logger.Error(ctx, "dropping operation of unknown type", "op_id", op.ID, "type", op.Type)
		return common.ErrNotFound
	}
}
