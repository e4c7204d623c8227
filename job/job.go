package job

import (
	"time"

	"promptcut/segment"
)

// Kind says how the source video reached the system.
type Kind string

const (
	KindUpload Kind = "UPLOAD"
	KindURL    Kind = "URL"
)

// Job is one user request to extract and merge segments from a video.
type Job struct {
	ID        string              `json:"id"`
	Kind      Kind                `json:"kind"`
	State     State               `json:"state"`
	Prompt    string              `json:"prompt"`
	SourceRef string              `json:"source_ref,omitempty"`
	SourceURL string              `json:"source_url,omitempty"`
	ResultRef string              `json:"result_ref,omitempty"`
	Segments  []segment.TimeRange `json:"segments,omitempty"`
	ErrorInfo string              `json:"error_info,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Clone returns a deep copy so stores never hand out shared slices.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Segments != nil {
		c.Segments = append([]segment.TimeRange(nil), j.Segments...)
	}
	return &c
}

// Changes lists the fields a transition writes alongside the new state.
// Empty fields are left untouched.
type Changes struct {
	SourceRef string
	ResultRef string
	ErrorInfo string
	Segments  []segment.TimeRange
}

// Apply copies the non-empty fields of c onto j.
func (c Changes) Apply(j *Job) {
	if c.SourceRef != "" {
		j.SourceRef = c.SourceRef
	}
	if c.ResultRef != "" {
		j.ResultRef = c.ResultRef
	}
	if c.ErrorInfo != "" {
		j.ErrorInfo = c.ErrorInfo
	}
	if c.Segments != nil {
		j.Segments = append([]segment.TimeRange(nil), c.Segments...)
	}
}
