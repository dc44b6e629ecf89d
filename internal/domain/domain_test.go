package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTask_HandlerNameAndBudget(t *testing.T) {
	task := Task{Name: "logs.purge"}
	assert.Equal(t, "logs.purge", task.HandlerName())
	assert.Equal(t, time.Hour, task.Budget())

	task.Handler = "http.request"
	task.MaxTime = 30
	assert.Equal(t, "http.request", task.HandlerName())
	assert.Equal(t, 30*time.Second, task.Budget())
}

func TestEventType_Standalone(t *testing.T) {
	assert.True(t, EventCycleStart.Standalone())
	assert.True(t, EventNoCapacity.Standalone())
	assert.False(t, EventInstanceStart.Standalone())
	assert.False(t, EventReschedule.Standalone())
	assert.True(t, EventInstanceFail.Failure())
	assert.False(t, EventInstanceEnd.Failure())
}

func TestNewClaimToken_Unique(t *testing.T) {
	a, b := NewClaimToken(), NewClaimToken()
	assert.NotEqual(t, a, b)
	assert.Len(t, a.String(), 36)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "pending-removal", StatusPendingRemoval.String())
	assert.Equal(t, "unknown", Status(9).String())
	assert.Equal(t, "logs.purge()#1", InstanceKey{Task: "logs.purge", Instance: 1}.String())
}
