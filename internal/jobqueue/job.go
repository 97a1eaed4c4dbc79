// Package jobqueue defines the JobQueue collaborator the dispatcher
// pushes retry and orphan-recovery jobs into (spec.md §6: "Push(job)
// returns jid. Used on orphan GC and (via TaskHandler.Retry) at
// shutdown."), adapted from the teacher's internal/queue package (job
// shape) and internal/worker package (LPush producer idiom), both
// deleted from this tree once their shape was captured here.
package jobqueue

import (
	"encoding/json"
	"fmt"
)

// Job is the envelope pushed onto the backing queue. Class and Args
// follow spec.md §6's literal shape; the remaining fields mirror the
// teacher's queue.Job metadata, generalized from a file-processing job
// to an arbitrary callback job.
type Job struct {
	Class        string         `json:"class"`
	JID          string         `json:"jid"`
	Args         []any          `json:"args"`
	CreationTime string         `json:"creation_time,omitempty"`
	Retries      int            `json:"retries,omitempty"`
	TraceID      string         `json:"trace_id,omitempty"`
	SpanID       string         `json:"span_id,omitempty"`
}

// Marshal serializes the job to JSON, mirroring teacher's
// queue.Job.Marshal.
func (j Job) Marshal() ([]byte, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return b, nil
}

// UnmarshalJob parses a JSON job envelope, mirroring teacher's
// queue.UnmarshalJob.
func UnmarshalJob(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return j, nil
}
