package remote

import "couplesync/internal/models"

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

type Table string

const (
	TableCouples     Table = "couples"
	TableInvites     Table = "invites"
	TableMissions    Table = "missions"
	TableAlbums      Table = "albums"
	TableAlbumPhotos Table = "album_photos"
	TableMemories    Table = "memories"
	TableTodos       Table = "todos"
	TableCycles      Table = "cycle_settings"
	TableBackgrounds Table = "backgrounds"
	TableLocks       Table = "generation_locks"
)

// ChangeEvent is one row-level change delivered by the feed. For deletes
// Record carries the old row.
type ChangeEvent struct {
	Type     EventType
	Table    Table
	CoupleID string
	Record   any
}

func (e ChangeEvent) Couple() *models.Couple {
	c, _ := e.Record.(*models.Couple)
	return c
}

func (e ChangeEvent) Mission() *models.Mission {
	m, _ := e.Record.(*models.Mission)
	return m
}

func (e ChangeEvent) Album() *models.Album {
	a, _ := e.Record.(*models.Album)
	return a
}

func (e ChangeEvent) AlbumPhoto() *models.AlbumPhoto {
	p, _ := e.Record.(*models.AlbumPhoto)
	return p
}

func (e ChangeEvent) Memory() *models.Memory {
	m, _ := e.Record.(*models.Memory)
	return m
}

func (e ChangeEvent) Todo() *models.Todo {
	t, _ := e.Record.(*models.Todo)
	return t
}

func (e ChangeEvent) CycleSettings() *models.CycleSettings {
	s, _ := e.Record.(*models.CycleSettings)
	return s
}

func (e ChangeEvent) Background() *models.Background {
	b, _ := e.Record.(*models.Background)
	return b
}

func (e ChangeEvent) Lock() *models.GenerationLock {
	l, _ := e.Record.(*models.GenerationLock)
	return l
}
