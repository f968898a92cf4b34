package intake

// FileStatus is the lifecycle state of a FileRecord.
type FileStatus string

// File statuses.
const (
	FilePending    FileStatus = "pending"
	FileProcessing FileStatus = "processing"
	FileCompleted  FileStatus = "completed"
	FileFailed     FileStatus = "failed"
	FileArchived   FileStatus = "archived"
)

// Valid reports whether s is a known file status.
func (s FileStatus) Valid() bool {
	switch s {
	case FilePending, FileProcessing, FileCompleted, FileFailed, FileArchived:
		return true
	}
	return false
}

// fileTransitions is the explicit transition table for file statuses.
// Any transition into archived is always legal and handled separately.
var fileTransitions = map[FileStatus][]FileStatus{
	FilePending:    {FileProcessing},
	FileProcessing: {FileCompleted, FileFailed},
	FileCompleted:  {},
	FileFailed:     {FileProcessing},
	FileArchived:   {},
}

// ValidFileTransition reports whether a FileRecord may move from one
// status to another. Archiving is legal from every status; the
// remaining moves follow pending→processing→{completed,failed}, with
// failed files allowed back into processing on re-queue.
func ValidFileTransition(from, to FileStatus) bool {
	if to == FileArchived {
		return true
	}
	if from == to {
		return true
	}
	for _, next := range fileTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// JobStatus is the lifecycle state of a Job.
type JobStatus string

// Job statuses.
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobRunning, JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition occurs from
// s. A failed job is terminal only once retries are exhausted, which
// the queue decides; the status itself still blocks the scheduler.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// jobTransitions is the explicit transition table for job statuses.
// running→queued covers retry re-queue and stale-worker reclamation;
// failed→queued covers administrative re-queue.
var jobTransitions = map[JobStatus][]JobStatus{
	JobQueued:    {JobRunning, JobCancelled},
	JobRunning:   {JobCompleted, JobFailed, JobCancelled, JobQueued},
	JobFailed:    {JobQueued},
	JobCompleted: {},
	JobCancelled: {},
}

// ValidJobTransition reports whether a Job may move from one status to
// another.
func ValidJobTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// JobType names the kind of analysis a job requests.
type JobType string

// Job types.
const (
	JobDocumentAnalysis JobType = "document_analysis"
	JobValuation        JobType = "valuation"
	JobOCR              JobType = "ocr"
	JobSummarization    JobType = "summarization"
	JobCustom           JobType = "custom"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobDocumentAnalysis, JobValuation, JobOCR, JobSummarization, JobCustom:
		return true
	}
	return false
}
