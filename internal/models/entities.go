package models

import "time"

// Mission is one daily mission generated for a couple. Answer1/Answer2
// belong to user1/user2 respectively.
type Mission struct {
	ID        string    `json:"id"`
	CoupleID  string    `json:"couple_id"`
	Date      string    `json:"date"` // YYYY-MM-DD in the couple's timezone
	Prompt    string    `json:"prompt"`
	Answer1   string    `json:"answer1"`
	Answer2   string    `json:"answer2"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Album is shared album metadata; either user may rename it or change
// the cover, conflicts resolve last-write-wins by server timestamp.
type Album struct {
	ID            string    `json:"id"`
	CoupleID      string    `json:"couple_id"`
	Title         string    `json:"title"`
	CoverMemoryID string    `json:"cover_memory_id"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AlbumPhoto is a pure membership link between an album and a memory.
// Its existence is the fact being synchronized.
type AlbumPhoto struct {
	AlbumID  string    `json:"album_id"`
	MemoryID string    `json:"memory_id"`
	CoupleID string    `json:"couple_id"`
	AddedAt  time.Time `json:"added_at"`
}

// Memory is a photo record; the blob itself lives in object storage
// under StorageKey.
type Memory struct {
	ID         string    `json:"id"`
	CoupleID   string    `json:"couple_id"`
	StorageKey string    `json:"storage_key"`
	TakenAt    time.Time `json:"taken_at"`
	CreatedAt  time.Time `json:"created_at"`
}

type Todo struct {
	ID        string    `json:"id"`
	CoupleID  string    `json:"couple_id"`
	Date      string    `json:"date"` // YYYY-MM-DD
	Text      string    `json:"text"`
	Done      bool      `json:"done"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CycleSettings holds cycle-tracking configuration owned by one user but
// optionally visible to the partner.
type CycleSettings struct {
	CoupleID         string    `json:"couple_id"`
	OwnerID          string    `json:"owner_id"`
	CycleLengthDays  int       `json:"cycle_length_days"`
	PeriodLengthDays int       `json:"period_length_days"`
	LastPeriodStart  string    `json:"last_period_start"` // YYYY-MM-DD
	SharingEnabled   bool      `json:"sharing_enabled"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Background is the shared home-screen background reference.
type Background struct {
	CoupleID   string    `json:"couple_id"`
	StorageKey string    `json:"storage_key"`
	SetBy      string    `json:"set_by"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DateIn formats t as a mission/todo date in the given IANA timezone.
// Falls back to UTC when the zone is unknown, so a bad stored timezone
// degrades rather than fails.
func DateIn(t time.Time, tz string) string {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
