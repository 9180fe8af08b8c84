package task

import (
	daedalusErrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// Report is the outcome of a task run.
// Success and Failure hold 1-based positions in ascending order.
// Results[i] belongs to Success[i]; Errors[i] belongs to Failure[i].
type Report[R any] struct {
	TaskID  string                          `json:"task_id"`
	State   State                           `json:"state"`
	Total   int                             `json:"total"`
	Success []int                           `json:"success"`
	Failure []int                           `json:"failure"`
	Results []R                             `json:"results"`
	Errors  []*daedalusErrors.ActuatorError `json:"-"`
}

// Cancelled reports whether the run ended through Cancel rather than by exhausting its items.
func (r Report[R]) Cancelled() bool {
	return r.State == StateCancelled
}

// Attempted returns how many items reached the actuator or failed trying.
func (r Report[R]) Attempted() int {
	return len(r.Success) + len(r.Failure)
}

// Stats is a point-in-time snapshot of a task's progress.
type Stats struct {
	ID         string
	State      State
	Total      int
	Dispatched int
	InFlight   int
	Succeeded  int
	Failed     int
}

type outcomeStatus int

const (
	outcomePending outcomeStatus = iota
	outcomeSucceeded
	outcomeFailed
)

type outcome[R any] struct {
	status outcomeStatus
	value  R
	err    *daedalusErrors.ActuatorError
}

func buildReport[R any](id string, state State, outcomes []outcome[R]) Report[R] {
	report := Report[R]{
		TaskID:  id,
		State:   state,
		Total:   len(outcomes),
		Success: []int{},
		Failure: []int{},
		Results: []R{},
		Errors:  []*daedalusErrors.ActuatorError{},
	}

	for i, o := range outcomes {
		switch o.status {
		case outcomeSucceeded:
			report.Success = append(report.Success, i+1)
			report.Results = append(report.Results, o.value)
		case outcomeFailed:
			report.Failure = append(report.Failure, i+1)
			report.Errors = append(report.Errors, o.err)
		}
	}
	return report
}
