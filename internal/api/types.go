package api

import (
	"time"

	"golang.org/x/text/unicode/norm"
)

// WorkoutSet is a single set within a session. The id is a client-generated
// UUID — the server treats it as the set's permanent identity.
type WorkoutSet struct {
	ID         string   `json:"id"`
	ExerciseID string   `json:"exercise_id"`
	SetNumber  int      `json:"set_number"`
	Weight     float64  `json:"weight"`
	Reps       int      `json:"reps"`
	RPE        *float64 `json:"rpe,omitempty"`
	Completed  bool     `json:"completed"`
}

// WorkoutSession is the create-session request payload. All resource ids are
// assigned client-side before submission; the server never mints ids for
// offline-created records.
type WorkoutSession struct {
	ID          string       `json:"id"`
	WorkoutName string       `json:"workout_name"`
	Date        string       `json:"date"` // YYYY-MM-DD
	ProgramID   string       `json:"program_id,omitempty"`
	StartTime   *time.Time   `json:"start_time,omitempty"`
	EndTime     *time.Time   `json:"end_time,omitempty"`
	Sets        []WorkoutSet `json:"sets"`
}

// Normalize applies Unicode NFC to user-entered names. Workout names typed
// on different platforms can arrive in different normal forms; the server
// compares NFC, so the client submits NFC.
func (s *WorkoutSession) Normalize() {
	s.WorkoutName = norm.NFC.String(s.WorkoutName)
}

// SessionTotals is the server-computed summary on a session response.
type SessionTotals struct {
	TotalSets   int     `json:"total_sets"`
	TotalVolume float64 `json:"total_volume"` // sum of weight * reps
	Duration    *int    `json:"duration,omitempty"` // minutes
}

// Session is the server's representation of a created or fetched session.
type Session struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	ProgramID   string        `json:"program_id,omitempty"`
	WorkoutName string        `json:"workout_name"`
	Date        string        `json:"date"`
	StartTime   *time.Time    `json:"start_time,omitempty"`
	EndTime     *time.Time    `json:"end_time,omitempty"`
	Sets        []WorkoutSet  `json:"sets"`
	Totals      SessionTotals `json:"totals"`
	CreatedAt   time.Time     `json:"created_at"`
}
