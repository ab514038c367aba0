package trading

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestParseSession(t *testing.T) {
	s, err := ParseSession("09:30-16:00")
	require.NoError(t, err)
	assert.Equal(t, 570, s.OpenMinute)
	assert.Equal(t, 960, s.CloseMinute)
	assert.Equal(t, "09:30-16:00", s.String())

	for _, bad := range []string{"", "9:30", "16:00-09:30", "25:00-26:00", "09:61-10:00"} {
		_, err := ParseSession(bad)
		assert.Error(t, err, bad)
	}
}

func TestSessionManager_IsOpen(t *testing.T) {
	loc := newYork(t)
	m, err := NewSessionManager("America/New_York", nil, []string{"2026-07-03"})
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"monday midday", time.Date(2026, 3, 2, 12, 0, 0, 0, loc), true},
		{"at open", time.Date(2026, 3, 2, 9, 30, 0, 0, loc), true},
		{"before open", time.Date(2026, 3, 2, 9, 29, 0, 0, loc), false},
		{"at close", time.Date(2026, 3, 2, 16, 0, 0, 0, loc), false},
		{"saturday", time.Date(2026, 3, 7, 12, 0, 0, 0, loc), false},
		{"holiday", time.Date(2026, 7, 3, 12, 0, 0, 0, loc), false},
		{"utc instant inside session", time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.open, m.IsOpen(tt.at))
		})
	}
}

func TestSessionManager_CloseBuffer(t *testing.T) {
	loc := newYork(t)
	m, err := NewSessionManager("America/New_York", []string{"09:30-16:00"}, nil)
	require.NoError(t, err)

	assert.False(t, m.WithinCloseBuffer(time.Date(2026, 3, 2, 15, 49, 0, 0, loc), 10))
	assert.True(t, m.WithinCloseBuffer(time.Date(2026, 3, 2, 15, 50, 0, 0, loc), 10))
	assert.False(t, m.WithinCloseBuffer(time.Date(2026, 3, 2, 17, 0, 0, 0, loc), 10))

	assert.False(t, m.PastCloseBuffer(time.Date(2026, 3, 2, 12, 0, 0, 0, loc), 10))
	assert.True(t, m.PastCloseBuffer(time.Date(2026, 3, 2, 15, 55, 0, 0, loc), 10))
	assert.True(t, m.PastCloseBuffer(time.Date(2026, 3, 2, 20, 0, 0, 0, loc), 10))
}

func TestSessionManager_MultipleSessions(t *testing.T) {
	m, err := NewSessionManager("Asia/Kolkata", []string{"13:00-15:30", "09:15-12:00"}, nil)
	require.NoError(t, err)
	loc := m.Location()

	assert.True(t, m.IsOpen(time.Date(2026, 3, 2, 10, 0, 0, 0, loc)))
	assert.False(t, m.IsOpen(time.Date(2026, 3, 2, 12, 30, 0, 0, loc)))
	assert.True(t, m.IsOpen(time.Date(2026, 3, 2, 14, 0, 0, 0, loc)))

	s, open, closeAt, ok := m.CurrentSession(time.Date(2026, 3, 2, 14, 0, 0, 0, loc))
	require.True(t, ok)
	assert.Equal(t, "13:00-15:30", s.String())
	assert.Equal(t, 13, open.Hour())
	assert.Equal(t, 30, closeAt.Minute())

	assert.Equal(t, 30*time.Minute, m.TimeUntilNextSession(time.Date(2026, 3, 2, 12, 30, 0, 0, loc)))
}

func TestSessionManager_TimeUntilNextSession(t *testing.T) {
	loc := newYork(t)
	m, err := NewSessionManager("America/New_York", nil, nil)
	require.NoError(t, err)

	assert.Zero(t, m.TimeUntilNextSession(time.Date(2026, 3, 2, 12, 0, 0, 0, loc)))
	// Friday after close waits for Monday's open.
	friday := time.Date(2026, 3, 13, 16, 30, 0, 0, loc)
	assert.Equal(t, 65*time.Hour, m.TimeUntilNextSession(friday))
}

func TestNewSessionManager_Errors(t *testing.T) {
	_, err := NewSessionManager("Not/AZone", nil, nil)
	assert.Error(t, err)
	_, err = NewSessionManager("UTC", []string{"bad"}, nil)
	assert.Error(t, err)
	_, err = NewSessionManager("UTC", nil, []string{"03/07/2026"})
	assert.Error(t, err)
}
