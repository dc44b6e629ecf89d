package domain

import "time"

// EventType classifies journal entries.
type EventType string

const (
	EventCycleStart      EventType = "CronStart"
	EventCycleEnd        EventType = "CronEnd"
	EventDisabled        EventType = "CronDisabled"
	EventNoCapacity      EventType = "CronNoThreads"
	EventEmpty           EventType = "CronEmpty"
	EventFailure         EventType = "CronFail"
	EventSweep           EventType = "CronSweep"
	EventSettingsChange  EventType = "SettingsChange"
	EventTaskAdd         EventType = "TaskAdd"
	EventTaskDelete      EventType = "TaskDelete"
	EventInstanceAdd     EventType = "InstanceAdd"
	EventInstanceDelete  EventType = "InstanceDelete"
	EventInstanceStart   EventType = "InstanceStart"
	EventInstanceEnd     EventType = "InstanceEnd"
	EventInstanceFail    EventType = "InstanceFail"
	EventReschedule      EventType = "Reschedule"
	EventRescheduleFail  EventType = "RescheduleFail"
	EventHangRecovered   EventType = "HangRecovered"
	EventCalendarBlocked EventType = "CalendarBlocked"
)

// standalone lists event kinds that are complete without an instance reference.
var standalone = map[EventType]struct{}{
	EventCycleStart:     {},
	EventCycleEnd:       {},
	EventDisabled:       {},
	EventNoCapacity:     {},
	EventEmpty:          {},
	EventFailure:        {},
	EventSweep:          {},
	EventSettingsChange: {},
	EventTaskAdd:        {},
	EventTaskDelete:     {},
}

// Standalone reports whether events of type t may omit the instance reference.
func (t EventType) Standalone() bool {
	_, ok := standalone[t]
	return ok
}

// Failure reports whether t records something going wrong.
func (t EventType) Failure() bool {
	switch t {
	case EventFailure, EventInstanceFail, EventRescheduleFail:
		return true
	}
	return false
}

// LogEvent is one journal record.
type LogEvent struct {
	ID       int64        `json:"id,omitempty"`
	Time     time.Time    `json:"time"`
	Type     EventType    `json:"type"`
	RunBy    *ClaimToken  `json:"run_by,omitempty"`
	Instance *InstanceKey `json:"instance,omitempty"`
	Message  string       `json:"message"`
}
