package adaptq

import (
	"context"

	"github.com/UniQw/adaptq-go/internal/hctx"
)

// CurrentJob returns the job being processed when ctx was provided by a Queue.
func CurrentJob(ctx context.Context) (JobInfo, bool) {
	st, ok := hctx.From(ctx)
	if !ok || st == nil {
		return JobInfo{}, false
	}
	return JobInfo{
		ID:          st.JobID,
		Type:        st.JobType,
		Priority:    st.Priority,
		Attempt:     st.Attempt,
		MaxAttempts: st.MaxAttempts,
	}, true
}

// SetProgress allows a processor to report progress (0..100) for the current job.
// It is a no-op if the context is not provided by a Queue.
func SetProgress(ctx context.Context, p int) {
	st, ok := hctx.From(ctx)
	if !ok || st == nil {
		return
	}
	st.SetProgress(p)
}

// Progress returns the progress last reported for the job running under ctx.
func Progress(ctx context.Context) int {
	st, ok := hctx.From(ctx)
	if !ok || st == nil {
		return 0
	}
	return st.Progress()
}

func newRunState(j *Job) *hctx.State {
	st := hctx.New()
	st.JobID = j.ID
	st.JobType = j.Type
	st.Priority = j.Priority
	st.Attempt = j.Attempt
	st.MaxAttempts = j.MaxAttempts
	return st
}
