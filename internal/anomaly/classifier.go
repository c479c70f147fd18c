package anomaly

import (
	"context"
	"fmt"
	"time"

	"github.com/ziadkadry99/vaultsearch/internal/audit"
)

// Level is the classification of a risk score.
type Level string

const (
	LevelNormal   Level = "NORMAL"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Score boundaries. Both are exclusive: a score of exactly 70 is a warning.
const (
	CriticalAbove = 70
	WarningAbove  = 30
)

// TimelineBuckets is the number of one-minute buckets in a report.
const TimelineBuckets = 12

// Classify maps a score to its level.
func Classify(score float64) Level {
	switch {
	case score > CriticalAbove:
		return LevelCritical
	case score > WarningAbove:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// Describe returns the alert reason for a level, or "" for NORMAL.
func Describe(level Level) string {
	switch level {
	case LevelCritical:
		return "Data scraping behavior"
	case LevelWarning:
		return "Unusual search frequency"
	}
	return ""
}

// ActionCounter counts audit entries by action over a half-open time range.
// *audit.Store satisfies it.
type ActionCounter interface {
	CountAction(ctx context.Context, action audit.Action, from, to time.Time) (int, error)
}

// UserRisk is one row of a report.
type UserRisk struct {
	Counter
	Level Level `json:"level"`
}

// Bucket is one minute of the search timeline.
type Bucket struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// Report is the anomaly overview.
type Report struct {
	Users    []UserRisk `json:"users"`
	Alerts   []string   `json:"alerts"`
	Timeline []Bucket   `json:"timeline"`
}

// Classifier builds reports from the scorer's counters and the audit log.
type Classifier struct {
	scorer  *Scorer
	entries ActionCounter
	now     func() time.Time
}

// NewClassifier creates a Classifier.
func NewClassifier(scorer *Scorer, entries ActionCounter) *Classifier {
	return &Classifier{scorer: scorer, entries: entries, now: time.Now}
}

// SetClock replaces the time source used to anchor the timeline.
func (c *Classifier) SetClock(now func() time.Time) { c.now = now }

// Report classifies every actor and counts SEARCH entries per minute over
// the last TimelineBuckets minutes, ending with the current minute.
func (c *Classifier) Report(ctx context.Context) (*Report, error) {
	counters, err := c.scorer.List(ctx)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Users:  make([]UserRisk, 0, len(counters)),
		Alerts: []string{},
	}
	for _, ctr := range counters {
		level := Classify(ctr.Score)
		rep.Users = append(rep.Users, UserRisk{Counter: ctr, Level: level})
		if reason := Describe(level); reason != "" {
			rep.Alerts = append(rep.Alerts, fmt.Sprintf("User '%s': %s (score %v)", ctr.Actor, reason, ctr.Score))
		}
	}

	current := c.now().UTC().Truncate(time.Minute)
	rep.Timeline = make([]Bucket, 0, TimelineBuckets)
	for i := TimelineBuckets - 1; i >= 0; i-- {
		start := current.Add(-time.Duration(i) * time.Minute)
		n, err := c.entries.CountAction(ctx, audit.ActionSearch, start, start.Add(time.Minute))
		if err != nil {
			return nil, err
		}
		rep.Timeline = append(rep.Timeline, Bucket{
			Label: start.Format("15:04"),
			Start: start,
			Count: n,
		})
	}

	return rep, nil
}
