package domain

import (
	"fmt"
	"strconv"
)

// TimerStatus is the canonical timer status.
type TimerStatus string

const (
	TimerRun   TimerStatus = "run"
	TimerPause TimerStatus = "pause"
	TimerStop  TimerStatus = "stop"
)

func (s TimerStatus) Valid() bool {
	switch s {
	case TimerRun, TimerPause, TimerStop:
		return true
	}
	return false
}

// TimerScope identifies one canonical timer. Live games use only the access code;
// deferred replays carry the user and attempt so every replay has its own countdown.
type TimerScope struct {
	AccessCode   string `json:"accessCode"`
	UserID       string `json:"userId,omitempty"`
	AttemptCount int    `json:"attemptCount,omitempty"`
}

// LiveScope is the shared timer of an access code.
func LiveScope(accessCode string) TimerScope {
	return TimerScope{AccessCode: accessCode}
}

// Deferred reports whether the scope belongs to a replay.
func (s TimerScope) Deferred() bool {
	return s.UserID != ""
}

// Key is the store key of the scope.
func (s TimerScope) Key() string {
	if s.Deferred() {
		return "mathquest:deferred:timer:" + s.AccessCode + ":user:" + s.UserID + ":attempt:" + strconv.Itoa(s.AttemptCount)
	}
	return "mathquest:timer:" + s.AccessCode
}

func (s TimerScope) String() string {
	if s.Deferred() {
		return fmt.Sprintf("%s/%s#%d", s.AccessCode, s.UserID, s.AttemptCount)
	}
	return s.AccessCode
}

// TimerRecord is what the store holds. EndMs is only meaningful while running,
// TimeLeftMs only while paused or stopped.
type TimerRecord struct {
	QuestionUID string      `json:"questionUid"`
	Status      TimerStatus `json:"status"`
	DurationMs  int64       `json:"durationMs"`
	TimeLeftMs  int64       `json:"timeLeftMs"`
	EndMs       int64       `json:"endMs"`
	Version     int64       `json:"version"`
}

// Validate rejects records that cannot be interpreted.
func (r TimerRecord) Validate() error {
	if !r.Status.Valid() {
		return fmt.Errorf("unknown timer status %q", r.Status)
	}
	if r.DurationMs < 0 || r.TimeLeftMs < 0 || r.TimeLeftMs > r.DurationMs {
		return fmt.Errorf("timer bounds out of range: duration=%d left=%d", r.DurationMs, r.TimeLeftMs)
	}
	if r.Status == TimerRun && r.EndMs <= 0 {
		return fmt.Errorf("running timer without end timestamp")
	}
	return nil
}

// TimerState is the canonical, client-facing timer view.
type TimerState struct {
	Scope          TimerScope  `json:"-"`
	QuestionUID    string      `json:"questionUid"`
	Status         TimerStatus `json:"status"`
	DurationMs     int64       `json:"durationMs"`
	TimeLeftMs     int64       `json:"timeLeftMs"`
	TimerEndDateMs int64       `json:"timerEndDateMs"`
	Version        int64       `json:"version"`
	Timestamp      int64       `json:"timestamp"`
}

// StateAt projects a record onto the wall clock, clamping time left to [0, duration].
func (r TimerRecord) StateAt(scope TimerScope, nowMs int64) TimerState {
	state := TimerState{
		Scope:       scope,
		QuestionUID: r.QuestionUID,
		Status:      r.Status,
		DurationMs:  r.DurationMs,
		TimeLeftMs:  r.TimeLeftMs,
		Version:     r.Version,
		Timestamp:   nowMs,
	}
	if r.Status == TimerRun {
		left := r.EndMs - nowMs
		if left < 0 {
			left = 0
		}
		if left > r.DurationMs {
			left = r.DurationMs
		}
		state.TimeLeftMs = left
		state.TimerEndDateMs = r.EndMs
	}
	return state
}
