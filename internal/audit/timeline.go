package audit

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// EventType menandai varian event pada riwayat order.
type EventType string

const (
	EventStatusChange EventType = "status_change"
	EventNote         EventType = "note"
	EventModification EventType = "modification"
)

// Visibility menentukan siapa yang boleh melihat catatan order.
type Visibility string

const (
	VisibilityInternal Visibility = "internal"
	VisibilityExternal Visibility = "external"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	return v == VisibilityInternal || v == VisibilityExternal
}

// StatusChange adalah satu baris riwayat status order.
type StatusChange struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"-"`
	OrderID    uuid.UUID `json:"orderId"`
	FromStatus string    `json:"fromStatus"`
	ToStatus   string    `json:"toStatus"`
	Action     string    `json:"action"`
	Notes      string    `json:"notes,omitempty"`
	Actor      string    `json:"actor"`
	Timestamp  time.Time `json:"timestamp"`
}

// Note adalah catatan bebas pada order.
type Note struct {
	ID         uuid.UUID  `json:"id"`
	TenantID   uuid.UUID  `json:"-"`
	OrderID    uuid.UUID  `json:"orderId"`
	Note       string     `json:"note"`
	Visibility Visibility `json:"visibility"`
	Actor      string     `json:"actor"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Modification mencatat perubahan item order beserta alasannya.
type Modification struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    uuid.UUID       `json:"-"`
	OrderID     uuid.UUID       `json:"orderId"`
	Action      string          `json:"action"`
	Item        json.RawMessage `json:"item"`
	Reason      string          `json:"reason"`
	Recalculate bool            `json:"recalculate"`
	Actor       string          `json:"actor"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Event adalah tagged union untuk riwayat gabungan; tepat satu payload terisi.
type Event struct {
	Type         EventType     `json:"type"`
	Timestamp    time.Time     `json:"timestamp"`
	StatusChange *StatusChange `json:"statusChange,omitempty"`
	Note         *Note         `json:"note,omitempty"`
	Modification *Modification `json:"modification,omitempty"`
}

// MergeHistory menggabungkan tiga aliran event dan mengurutkannya naik berdasarkan waktu.
// Event dengan waktu sama mempertahankan urutan status, catatan, lalu modifikasi.
func MergeHistory(changes []StatusChange, notes []Note, mods []Modification) []Event {
	events := make([]Event, 0, len(changes)+len(notes)+len(mods))
	for i := range changes {
		events = append(events, Event{Type: EventStatusChange, Timestamp: changes[i].Timestamp, StatusChange: &changes[i]})
	}
	for i := range notes {
		events = append(events, Event{Type: EventNote, Timestamp: notes[i].Timestamp, Note: &notes[i]})
	}
	for i := range mods {
		events = append(events, Event{Type: EventModification, Timestamp: mods[i].Timestamp, Modification: &mods[i]})
	}
	slices.SortStableFunc(events, func(a, b Event) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return events
}
