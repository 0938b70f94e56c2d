// Package queue is the device's durable offline mutation queue. An
// operation accepted while offline is persisted before anyone is
// notified, survives process restart, and is replayed in enqueue order.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"couplesync/internal/models"
)

// OpType tags the closed set of queueable mutations. Replay logic
// switches over every member; adding one without extending
// DecodePayload is a compile-visible hole in that switch.
type OpType string

const (
	OpAddTodo          OpType = "ADD_TODO"
	OpToggleTodo       OpType = "TOGGLE_TODO"
	OpDeleteTodo       OpType = "DELETE_TODO"
	OpCreateAlbum      OpType = "CREATE_ALBUM"
	OpRenameAlbum      OpType = "RENAME_ALBUM"
	OpDeleteAlbum      OpType = "DELETE_ALBUM"
	OpAddMemory        OpType = "ADD_MEMORY"
	OpAddAlbumPhoto    OpType = "ADD_ALBUM_PHOTO"
	OpRemoveAlbumPhoto OpType = "REMOVE_ALBUM_PHOTO"
	OpSetCycleSettings OpType = "SET_CYCLE_SETTINGS"
	OpSetBackground    OpType = "SET_BACKGROUND"
	OpAnswerMission    OpType = "ANSWER_MISSION"
)

// Operation is one queued mutation. Payload is the JSON encoding of the
// typed payload struct matching Type.
type Operation struct {
	ID         string          `json:"id"`
	Type       OpType          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
	RetryCount int             `json:"retry_count"`
}

type AddTodoPayload struct {
	Todo models.Todo `json:"todo"`
}

type ToggleTodoPayload struct {
	Todo models.Todo `json:"todo"`
}

type DeleteTodoPayload struct {
	TodoID string `json:"todo_id"`
}

type CreateAlbumPayload struct {
	Album models.Album `json:"album"`
}

type RenameAlbumPayload struct {
	Album models.Album `json:"album"`
}

type DeleteAlbumPayload struct {
	AlbumID string `json:"album_id"`
}

type AddMemoryPayload struct {
	Memory models.Memory `json:"memory"`
}

type AddAlbumPhotoPayload struct {
	Photo models.AlbumPhoto `json:"photo"`
}

type RemoveAlbumPhotoPayload struct {
	AlbumID  string `json:"album_id"`
	MemoryID string `json:"memory_id"`
}

type SetCycleSettingsPayload struct {
	Settings models.CycleSettings `json:"settings"`
}

type SetBackgroundPayload struct {
	Background models.Background `json:"background"`
}

type AnswerMissionPayload struct {
	Mission models.Mission `json:"mission"`
}

// DecodePayload returns the typed payload for op. The switch is
// exhaustive over OpType.
func DecodePayload(op Operation) (any, error) {
	decode := func(v any) (any, error) {
		if err := json.Unmarshal(op.Payload, v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", op.Type, err)
		}
		return v, nil
	}
	switch op.Type {
	case OpAddTodo:
		return decode(&AddTodoPayload{})
	case OpToggleTodo:
		return decode(&ToggleTodoPayload{})
	case OpDeleteTodo:
		return decode(&DeleteTodoPayload{})
	case OpCreateAlbum:
		return decode(&CreateAlbumPayload{})
	case OpRenameAlbum:
		return decode(&RenameAlbumPayload{})
	case OpDeleteAlbum:
		return decode(&DeleteAlbumPayload{})
	case OpAddMemory:
		return decode(&AddMemoryPayload{})
	case OpAddAlbumPhoto:
		return decode(&AddAlbumPhotoPayload{})
	case OpRemoveAlbumPhoto:
		return decode(&RemoveAlbumPhotoPayload{})
	case OpSetCycleSettings:
		return decode(&SetCycleSettingsPayload{})
	case OpSetBackground:
		return decode(&SetBackgroundPayload{})
	case OpAnswerMission:
		return decode(&AnswerMissionPayload{})
	default:
		return nil, fmt.Errorf("unknown operation type %q", op.Type)
	}
}
