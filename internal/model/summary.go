package model

// Detail statuses.
const (
	DetailSucceeded = "succeeded"
	DetailFailed    = "failed"
	DetailSkipped   = "skipped"
)

// BatchSummary reports the outcome of one pipeline run. Failed is always
// Attempted - Succeeded; skipped records are not attempts.
type BatchSummary struct {
	RunID       string   `json:"run_id" yaml:"run_id"`
	Operation   string   `json:"operation" yaml:"operation"`
	Message     string   `json:"message" yaml:"message"`
	Attempted   int      `json:"attempted" yaml:"attempted"`
	Succeeded   int      `json:"succeeded" yaml:"succeeded"`
	Skipped     int      `json:"skipped" yaml:"skipped"`
	Failed      int      `json:"failed" yaml:"failed"`
	Written     int64    `json:"written" yaml:"written"`
	Activated   int      `json:"activated,omitempty" yaml:"activated,omitempty"`
	Deactivated int      `json:"deactivated,omitempty" yaml:"deactivated,omitempty"`
	Pages       int      `json:"pages,omitempty" yaml:"pages,omitempty"`
	FailedPages int      `json:"failed_pages,omitempty" yaml:"failed_pages,omitempty"`
	Details     []Detail `json:"details,omitempty" yaml:"details,omitempty"`
}

// Detail explains what happened to one record or page.
type Detail struct {
	ID     string `json:"id" yaml:"id"`
	Status string `json:"status" yaml:"status"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}
