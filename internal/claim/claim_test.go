package claim

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronagent/internal/domain"
)

var now = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

func cand(task string, instance, freq, prio int, overdue time.Duration) Candidate {
	return Candidate{
		Key:       domain.InstanceKey{Task: task, Instance: instance},
		Frequency: freq,
		Priority:  prio,
		NextRun:   now.Add(-overdue),
	}
}

func TestScore(t *testing.T) {
	oneTime := cand("a", 1, 0, 0, 0)
	assert.InDelta(t, 1+math.Log(2)*100, Score(oneTime, now), 1e-9)

	recurring := cand("b", 1, 3600, 0, 98*time.Second)
	want := (float64(math.MaxUint32)-3600)/float64(math.MaxUint32) + math.Log(100)*100
	assert.InDelta(t, want, Score(recurring, now), 1e-9)

	prio := cand("c", 1, 60, 2, 0)
	assert.Greater(t, Score(prio, now), 2000.0)
}

func TestScore_FutureDueClampsOverdue(t *testing.T) {
	c := cand("a", 1, 0, 0, -time.Hour)
	assert.InDelta(t, 1+math.Log(2)*100, Score(c, now), 1e-9)
}

func TestRank_Ordering(t *testing.T) {
	cands := []Candidate{
		cand("frequent", 1, 60, 0, time.Minute),
		cand("explicit", 1, 60, 1, 0),
		cand("overdue", 1, 60, 0, time.Hour),
		cand("onetime", 1, 0, 0, time.Minute),
	}
	got := Rank(cands, now, 10)
	require.Len(t, got, 4)
	names := []string{got[0].Key.Task, got[1].Key.Task, got[2].Key.Task, got[3].Key.Task}
	// Explicit priority dominates, then overdue, then the one-time baseline.
	assert.Equal(t, []string{"explicit", "overdue", "onetime", "frequent"}, names)
}

func TestRank_TieBrokenByDueTime(t *testing.T) {
	a := cand("a", 1, 60, 0, 0)
	b := cand("b", 1, 60, 0, 0)
	a.NextRun = now.Add(time.Second) // both future: same clamped score
	b.NextRun = now.Add(2 * time.Second)
	got := Rank([]Candidate{b, a}, now, 2)
	assert.Equal(t, "a", got[0].Key.Task)
}

func TestRank_DedupeByTaskAndArguments(t *testing.T) {
	cands := []Candidate{
		cand("mail", 1, 60, 0, time.Minute),
		cand("mail", 2, 60, 0, time.Hour),
		cand("mail", 3, 60, 0, time.Second),
		cand("other", 1, 60, 0, time.Second),
	}
	other := cand("mail", 4, 60, 0, time.Second)
	other.Key.Arguments = `["x"]`
	cands = append(cands, other)

	got := Rank(cands, now, 10)
	require.Len(t, got, 3)
	assert.Equal(t, 2, got[0].Key.Instance, "best-ranked mail variant kept")
	for _, c := range got[1:] {
		assert.False(t, c.Key.Task == "mail" && c.Key.Arguments == "")
	}
}

func TestRank_Truncates(t *testing.T) {
	var cands []Candidate
	for i := 0; i < 6; i++ {
		cands = append(cands, cand(string(rune('a'+i)), 1, 60, i, 0))
	}
	got := Rank(cands, now, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "f", got[0].Key.Task)
	assert.Equal(t, "e", got[1].Key.Task)
}

func TestWindow(t *testing.T) {
	assert.Equal(t, 2, Window(0))
	assert.Equal(t, 10, Window(5))
}
