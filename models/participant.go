package models

import (
	"time"
)

// EventType is one of the five check-in milestones a participant can be marked for.
type EventType string

const (
	EventAttendance EventType = "attendance"
	EventEntry      EventType = "entry"
	EventBreakfast  EventType = "breakfast"
	EventLunch      EventType = "lunch"
	EventDinner     EventType = "dinner"
)

// AllEventTypes is the display order used by the status page and exports.
var AllEventTypes = []EventType{EventAttendance, EventEntry, EventBreakfast, EventLunch, EventDinner}

var eventColumns = map[EventType]string{
	EventAttendance: "attendance_marked",
	EventEntry:      "entry_marked",
	EventBreakfast:  "breakfast",
	EventLunch:      "lunch",
	EventDinner:     "dinner",
}

// ParseEventType accepts the exact lowercase wire name only.
func ParseEventType(s string) (EventType, bool) {
	e := EventType(s)
	_, ok := eventColumns[e]
	return e, ok
}

// Column is the participants column holding the flag for e.
func (e EventType) Column() string {
	return eventColumns[e]
}

func (e EventType) Valid() bool {
	_, ok := eventColumns[e]
	return ok
}

func (e EventType) String() string { return string(e) }

type Participant struct {
	ID               string    `gorm:"primaryKey;size:128" json:"id"`
	Name             *string   `gorm:"size:255" json:"name"`
	Email            *string   `gorm:"size:255" json:"email"`
	Team             *string   `gorm:"size:255" json:"team"`
	AttendanceMarked bool      `gorm:"column:attendance_marked;not null;default:false" json:"attendance_marked"`
	EntryMarked      bool      `gorm:"column:entry_marked;not null;default:false" json:"entry_marked"`
	Breakfast        bool      `gorm:"not null;default:false" json:"breakfast"`
	Lunch            bool      `gorm:"not null;default:false" json:"lunch"`
	Dinner           bool      `gorm:"not null;default:false" json:"dinner"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Participant) TableName() string { return "participants" }

// DisplayName is the participant's name, or the identifier when no name is on file.
func (p Participant) DisplayName() string {
	if p.Name != nil && *p.Name != "" {
		return *p.Name
	}
	return p.ID
}

func (p Participant) Flag(e EventType) bool {
	switch e {
	case EventAttendance:
		return p.AttendanceMarked
	case EventEntry:
		return p.EntryMarked
	case EventBreakfast:
		return p.Breakfast
	case EventLunch:
		return p.Lunch
	case EventDinner:
		return p.Dinner
	}
	return false
}

// SetFlag marks e on the in-memory copy. Flags only ever move false to true.
func (p *Participant) SetFlag(e EventType) {
	switch e {
	case EventAttendance:
		p.AttendanceMarked = true
	case EventEntry:
		p.EntryMarked = true
	case EventBreakfast:
		p.Breakfast = true
	case EventLunch:
		p.Lunch = true
	case EventDinner:
		p.Dinner = true
	}
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (p Participant) NameValue() string  { return stringValue(p.Name) }
func (p Participant) EmailValue() string { return stringValue(p.Email) }
func (p Participant) TeamValue() string  { return stringValue(p.Team) }
