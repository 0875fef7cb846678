// Package models holds the data types shared across the fetch-orchestration
// subsystem: jobs, artifacts, and the fixed error-classification taxonomy.
package models

import "time"

// Status is a job's lifecycle state. Transitions are monotonic:
// queued -> processing -> {completed, failed}.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is a single fetch request tracked from submission through a terminal
// status.
type Job struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	SessionKey  string     `json:"session_key,omitempty"`
	CallbackURL string     `json:"callback_url,omitempty"`
	IssueRef    int        `json:"issue_ref,omitempty"`
	Status      Status     `json:"status"`
	Result      *Artifact  `json:"result,omitempty"`
	Error       *FetchError `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// AttemptCount is broker-internal bookkeeping for the retry loop (not
	// part of the wire-visible job shape in SPEC_FULL §3, but needed to
	// enforce the retry bound testable property in §8).
	AttemptCount int `json:"-"`
}

// Metadata is the structured page metadata half of an Artifact.
type Metadata struct {
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	PublishDate string   `json:"publish_date"`
	Images      []string `json:"images"`
}

// Artifact is the {metadata, markdown} result of one successful fetch.
type Artifact struct {
	Metadata Metadata `json:"metadata"`
	Markdown string   `json:"markdown"`
}

// Code enumerates the fixed error classification taxonomy. Every Fetch
// Engine outcome that isn't a success classifies into exactly one of these.
type Code string

const (
	CodeNoResponse    Code = "no_response"
	CodeTimeout       Code = "timeout"
	CodeFetchError    Code = "fetch_error"
	CodeNoContent     Code = "no_content"
	CodeInternalError Code = "internal_error"
)

// HTTPCode builds the code for an HTTP-status-derived classification,
// e.g. "http_404".
func HTTPCode(status int) Code {
	return Code("http_" + itoa(status))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// FetchError is the classified error attached to a failed job or returned
// from a single Fetch Engine attempt. It satisfies the error interface so
// callers can use errors.As to recover the classification.
type FetchError struct {
	Message   string `json:"message"`
	Code      Code   `json:"code"`
	Retryable bool   `json:"retryable"`
}

func (e *FetchError) Error() string {
	return e.Message
}

// RetryableHTTPStatus reports whether an HTTP status code, per SPEC_FULL
// §3, is classified as a retryable transient failure.
func RetryableHTTPStatus(status int) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
