package database

import "time"

// JobStatus is the final outcome of a compression job.
type JobStatus string

const (
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// JobRecord is one finished job in the history ledger.
type JobRecord struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	InputName   string    `json:"inputName"`
	Format      string    `json:"format"`
	InputBytes  int64     `json:"inputBytes"`
	OutputBytes int64     `json:"outputBytes"`
	Status      JobStatus `json:"status"`
	ErrorKind   string    `json:"errorKind,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"durationMs"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Ratio returns output size relative to input size, or 0 when unknown.
func (j JobRecord) Ratio() float64 {
	if j.InputBytes <= 0 || j.OutputBytes <= 0 {
		return 0
	}
	return float64(j.OutputBytes) / float64(j.InputBytes)
}

// HistoryStats summarizes the ledger.
type HistoryStats struct {
	TotalJobs      int            `json:"totalJobs"`
	SucceededJobs  int            `json:"succeededJobs"`
	FailedJobs     int            `json:"failedJobs"`
	ImageJobs      int            `json:"imageJobs"`
	VideoJobs      int            `json:"videoJobs"`
	BytesIn        int64          `json:"bytesIn"`
	BytesOut       int64          `json:"bytesOut"`
	BytesSaved     int64          `json:"bytesSaved"`
	FailuresByKind map[string]int `json:"failuresByKind"`
	LastJobAt      time.Time      `json:"lastJobAt"`
}
