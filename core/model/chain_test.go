package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReminderDue(t *testing.T) {
	sent := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)
	a := DispatchAttempt{Status: AttemptSent, WindowMinutes: 60, SentAt: &sent}

	assert.False(t, a.ReminderDue(sent.Add(29*time.Minute)))
	assert.True(t, a.ReminderDue(sent.Add(30*time.Minute)))
	assert.True(t, a.ReminderDue(sent.Add(45*time.Minute)))

	fired := sent.Add(30 * time.Minute)
	a.ReminderAt = &fired
	assert.False(t, a.ReminderDue(sent.Add(45*time.Minute)))

	a = DispatchAttempt{Status: AttemptPending, WindowMinutes: 60}
	assert.False(t, a.ReminderDue(sent.Add(time.Hour)))
}

func TestExpired(t *testing.T) {
	sent := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)
	exp := sent.Add(time.Hour)
	a := DispatchAttempt{Status: AttemptSent, WindowMinutes: 60, SentAt: &sent, ExpiresAt: &exp}

	assert.False(t, a.Expired(exp))
	assert.True(t, a.Expired(exp.Add(time.Second)))

	a.Status = AttemptAccepted
	assert.False(t, a.Expired(exp.Add(time.Hour)))
}

func TestChainCurrentAndNextExpiry(t *testing.T) {
	sent := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)
	exp := sent.Add(time.Hour)
	c := &DispatchChain{
		Attempts: []DispatchAttempt{
			{CarrierID: "c1", Status: AttemptRefused},
			{CarrierID: "c2", Status: AttemptSent, SentAt: &sent, ExpiresAt: &exp},
		},
		CurrentIndex: 1,
	}
	assert.Equal(t, "c2", c.Current().CarrierID)
	assert.Equal(t, exp, *c.NextExpiry())

	c.CurrentIndex = 2
	assert.Nil(t, c.Current())
	assert.Nil(t, c.NextExpiry())
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, ChainCompleted.Terminal())
	assert.True(t, ChainEscalated.Terminal())
	assert.True(t, ChainExhausted.Terminal())
	assert.True(t, ChainCancelled.Terminal())
	assert.False(t, ChainPending.Terminal())
	assert.False(t, ChainInProgress.Terminal())

	assert.True(t, AttemptTimeout.Terminal())
	assert.False(t, AttemptSent.Terminal())
}

func TestLaneNormalize(t *testing.T) {
	l := &Lane{Carriers: []LaneCarrier{
		{CarrierID: "c7", Position: 7},
		{CarrierID: "c2", Position: 2},
		{CarrierID: "c5", Position: 5},
	}}
	l.Normalize()
	assert.Equal(t, "c2", l.Carriers[0].CarrierID)
	assert.Equal(t, 1, l.Carriers[0].Position)
	assert.Equal(t, 2, l.Carriers[1].Position)
	assert.Equal(t, 3, l.Carriers[2].Position)
}

func TestGeoCriteriaMatches(t *testing.T) {
	g := GeoCriteria{City: "Lyon", PostalPrefix: "69"}
	assert.True(t, g.Matches("lyon", "69001", "", ""))
	assert.False(t, g.Matches("Lyon", "75001", "", ""))
	assert.False(t, g.Matches("Paris", "69001", "", ""))

	assert.True(t, GeoCriteria{}.Matches("anywhere", "00000", "", ""))
}

func TestResolveWindowFallbacks(t *testing.T) {
	d := 30
	c := LaneCarrier{ResponseDelayMinutes: &d}
	assert.Equal(t, 30*time.Minute, c.ResolveWindow(60))

	c = LaneCarrier{}
	assert.Equal(t, 60*time.Minute, c.ResolveWindow(60))
	assert.Equal(t, 60*time.Minute, c.ResolveWindow(0))
}
