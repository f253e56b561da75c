package domain

import "time"

// JobKind identifies what an asynchronous job does.
type JobKind string

// Supported job kinds.
const (
	JobKindUpload JobKind = "upload"
	JobKindQuery  JobKind = "query"
	JobKindSchema JobKind = "schema"
)

// JobStatus is the lifecycle state of a job. It moves monotonically along
// Queued -> Processing -> {Completed, Failed}; terminal states are final.
type JobStatus string

// Job lifecycle states.
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether status is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// transitions lists the status values each status may legally move to.
var transitions = map[JobStatus][]JobStatus{
	JobStatusQueued:     {JobStatusProcessing, JobStatusFailed},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
	JobStatusCompleted:  {},
	JobStatusFailed:     {},
}

// CanTransition reports whether moving from this status to next is legal.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// UploadPayload is the kind-specific payload of an upload job.
type UploadPayload struct {
	User     string `json:"user,omitempty"`
	Project  string `json:"project"`
	Table    string `json:"table,omitempty"`
	FileName string `json:"file_name"`
	BlobPath string `json:"blob_path"`
	FileSize int64  `json:"file_size"`
}

// QueryPayload is the kind-specific payload of a query job.
type QueryPayload struct {
	Source        string `json:"source"`
	QuerySpecJSON string `json:"query_spec_json"`
}

// SchemaPayload is the kind-specific payload of a schema job.
type SchemaPayload struct {
	Project string `json:"project"`
	Table   string `json:"table"`
}

// ColumnSchema describes one column of a table.
type ColumnSchema struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// UploadResult is the result payload of a completed upload job.
type UploadResult struct {
	RowCount int64 `json:"row_count"`
}

// QueryResult is the result payload of a completed query job.
type QueryResult struct {
	ResultPath     string                   `json:"result_path"`
	RowCount       int64                    `json:"row_count"`
	FileSizeBytes  int64                    `json:"file_size_bytes"`
	Preview        []map[string]interface{} `json:"preview"`
}

// SchemaResult is the result payload of a completed schema job.
type SchemaResult struct {
	Columns []ColumnSchema `json:"columns"`
	Count   int            `json:"count"`
}

// Job is the canonical unit of asynchronous work tracked in the job store.
//
// The coordinator is the sole writer of the initial Queued record; the
// worker that receives the corresponding bus message is the sole writer of
// every subsequent write. Result is populated only once Status is
// Completed.
type Job struct {
	ID         string    `json:"id"`
	Kind       JobKind   `json:"kind"`
	Status     JobStatus `json:"status"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Attempt    int       `json:"attempt"`
	DurationMS int64     `json:"duration_ms,omitempty"`

	Payload interface{} `json:"payload,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}
