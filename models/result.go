package models

import (
	"time"
)

type Method string

const (
	MethodLibrary      Method = "library"
	MethodLibraryProxy Method = "library_proxy"
	MethodScrape       Method = "scrape"
	MethodPaid         Method = "paid"
	MethodNone         Method = ""
)

// ExtractionResult is the terminal outcome for one VideoTask.
type ExtractionResult struct {
	Task       VideoTask     `json:"task"`
	Success    bool          `json:"success"`
	Method     Method        `json:"method,omitempty"`
	Text       string        `json:"text,omitempty"`
	Segments   []Segment     `json:"segments,omitempty"`
	Language   string        `json:"language,omitempty"`
	Kind       string        `json:"error_kind,omitempty"`
	Message    string        `json:"error,omitempty"`
	Diagnostic string        `json:"diagnostic,omitempty"`
	Attempted  []string      `json:"attempted,omitempty"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}

func (r ExtractionResult) IsSuccess() bool { return r.Success }
func (r ExtractionResult) IsFailure() bool { return !r.Success }

// BatchProgress counts task outcomes for one pool.
type BatchProgress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	InFlight  int `json:"in_flight"`
}

// Pending is the number of submitted tasks that have not started yet.
func (p BatchProgress) Pending() int {
	return p.Total - p.Completed - p.InFlight
}

// Done reports whether every submitted task has a result.
func (p BatchProgress) Done() bool {
	return p.Completed == p.Total && p.InFlight == 0
}
