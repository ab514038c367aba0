package trading

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Session is one daily trading window in the market's time zone.
type Session struct {
	OpenMinute  int // minutes from midnight
	CloseMinute int
}

func (s Session) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", s.OpenMinute/60, s.OpenMinute%60, s.CloseMinute/60, s.CloseMinute%60)
}

// ParseSession parses "HH:MM-HH:MM".
func ParseSession(s string) (Session, error) {
	open, close, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Session{}, fmt.Errorf("session %q: want HH:MM-HH:MM", s)
	}
	o, err := parseClock(open)
	if err != nil {
		return Session{}, fmt.Errorf("session %q: %w", s, err)
	}
	c, err := parseClock(close)
	if err != nil {
		return Session{}, fmt.Errorf("session %q: %w", s, err)
	}
	if c <= o {
		return Session{}, fmt.Errorf("session %q: close must be after open", s)
	}
	return Session{OpenMinute: o, CloseMinute: c}, nil
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("bad time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour %q", hh)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute %q", mm)
	}
	return h*60 + m, nil
}

// defaultSession is used when no sessions are configured.
var defaultSession = Session{OpenMinute: 9*60 + 30, CloseMinute: 16 * 60}

// SessionManager answers trading-hours questions: weekdays only, minus
// holidays, within the configured sessions.
type SessionManager struct {
	location *time.Location
	sessions []Session
	holidays map[string]bool // Date string -> is holiday
}

// NewSessionManager builds a manager for the IANA zone tz.
func NewSessionManager(tz string, sessions []string, holidays []string) (*SessionManager, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", tz, err)
	}

	m := &SessionManager{location: loc, holidays: make(map[string]bool)}
	for _, s := range sessions {
		parsed, err := ParseSession(s)
		if err != nil {
			return nil, err
		}
		m.sessions = append(m.sessions, parsed)
	}
	if len(m.sessions) == 0 {
		m.sessions = []Session{defaultSession}
	}
	sort.Slice(m.sessions, func(i, j int) bool { return m.sessions[i].OpenMinute < m.sessions[j].OpenMinute })

	for _, h := range holidays {
		d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(h), loc)
		if err != nil {
			return nil, fmt.Errorf("holiday %q: %w", h, err)
		}
		m.AddHoliday(d)
	}
	return m, nil
}

// Location returns the market time zone.
func (m *SessionManager) Location() *time.Location { return m.location }

// AddHoliday adds a market holiday.
func (m *SessionManager) AddHoliday(date time.Time) {
	m.holidays[date.In(m.location).Format("2006-01-02")] = true
}

// IsHoliday checks if a date is a market holiday.
func (m *SessionManager) IsHoliday(date time.Time) bool {
	return m.holidays[date.In(m.location).Format("2006-01-02")]
}

// IsTradingDay reports whether t falls on a weekday that is not a holiday.
func (m *SessionManager) IsTradingDay(t time.Time) bool {
	t = t.In(m.location)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !m.IsHoliday(t)
}

// CurrentSession returns the session containing t with its open and close
// instants.
func (m *SessionManager) CurrentSession(t time.Time) (Session, time.Time, time.Time, bool) {
	t = t.In(m.location)
	if !m.IsTradingDay(t) {
		return Session{}, time.Time{}, time.Time{}, false
	}
	minute := t.Hour()*60 + t.Minute()
	for _, s := range m.sessions {
		if minute >= s.OpenMinute && minute < s.CloseMinute {
			return s, minuteAt(t, s.OpenMinute), minuteAt(t, s.CloseMinute), true
		}
	}
	return Session{}, time.Time{}, time.Time{}, false
}

// IsOpen reports whether t is inside a session.
func (m *SessionManager) IsOpen(t time.Time) bool {
	_, _, _, ok := m.CurrentSession(t)
	return ok
}

// WithinCloseBuffer reports whether t is inside a session and its close is
// at most minutes away.
func (m *SessionManager) WithinCloseBuffer(t time.Time, minutes int) bool {
	_, _, closeAt, ok := m.CurrentSession(t)
	if !ok {
		return false
	}
	return closeAt.Sub(t) <= time.Duration(minutes)*time.Minute
}

// PastCloseBuffer reports whether it is safe to roll the trading day over:
// outside any session, or inside the final buffer before a session's close.
func (m *SessionManager) PastCloseBuffer(t time.Time, minutes int) bool {
	return !m.IsOpen(t) || m.WithinCloseBuffer(t, minutes)
}

// TimeUntilNextSession returns zero when open, otherwise the wait until the
// next session opens.
func (m *SessionManager) TimeUntilNextSession(t time.Time) time.Duration {
	if m.IsOpen(t) {
		return 0
	}
	t = t.In(m.location)
	day := t
	for i := 0; i < 14; i++ {
		if m.IsTradingDay(day) {
			for _, s := range m.sessions {
				open := minuteAt(day, s.OpenMinute)
				if open.After(t) {
					return open.Sub(t)
				}
			}
		}
		day = midnight(day).AddDate(0, 0, 1)
	}
	return 24 * time.Hour
}

func minuteAt(t time.Time, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), minute/60, minute%60, 0, 0, t.Location())
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
