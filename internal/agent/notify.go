package agent

import (
	"context"
	"time"

	"cronagent/internal/domain"
)

// Notification kinds pushed to a streaming caller.
const (
	KindStart         = "start"
	KindEnd           = "end"
	KindInstanceStart = "instance-start"
	KindInstanceEnd   = "instance-end"
	KindNoCapacity    = "no-capacity"
	KindEmpty         = "empty"
	KindDisabled      = "disabled"
	KindError         = "error"
)

// notificationKinds maps the journal event types that reach a stream.
var notificationKinds = map[domain.EventType]string{
	domain.EventCycleStart:     KindStart,
	domain.EventCycleEnd:       KindEnd,
	domain.EventInstanceStart:  KindInstanceStart,
	domain.EventInstanceEnd:    KindInstanceEnd,
	domain.EventInstanceFail:   KindInstanceEnd,
	domain.EventNoCapacity:     KindNoCapacity,
	domain.EventEmpty:          KindEmpty,
	domain.EventDisabled:       KindDisabled,
	domain.EventFailure:        KindError,
	domain.EventRescheduleFail: KindError,
}

// Notification is one progress message.
type Notification struct {
	Kind     string              `json:"kind"`
	Type     domain.EventType    `json:"type"`
	Time     time.Time           `json:"time"`
	RunBy    *domain.ClaimToken  `json:"run_by,omitempty"`
	Instance *domain.InstanceKey `json:"instance,omitempty"`
	Message  string              `json:"message,omitempty"`
	// Fatal is set on the event that ends the run.
	Fatal bool `json:"fatal,omitempty"`
	// Retry is the reconnect interval a streaming client should use.
	Retry time.Duration `json:"-"`
}

// Stream is the optional long-lived transport of a streaming caller.
type Stream interface {
	Emit(n Notification) error
	// Alive turns false once the caller disconnected.
	Alive() bool
}

// Notifier receives failure and fatal events out of band (chat, pager).
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
