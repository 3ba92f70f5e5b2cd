package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subrelay/internal/events"
	"subrelay/internal/jobstore"
	"subrelay/pkg/log"
)

func newConfirmApp(t *testing.T) *App {
	t.Helper()
	return &App{
		logger: log.Nop(),
		store:  jobstore.NewMemoryStore(jobstore.DefaultTTLPolicy()),
	}
}

func seedJob(t *testing.T, a *App, phase jobstore.Phase) {
	t.Helper()
	require.NoError(t, a.store.SaveJob(t.Context(), &jobstore.Job{
		ID:             "j1",
		VideoURL:       "/media/x.mkv",
		SourceLanguage: "en",
		TargetLanguage: "es",
	}))
	if phase != jobstore.PhasePending {
		_, err := a.store.UpdatePhase(t.Context(), "j1", phase, "test", nil)
		require.NoError(t, err)
	}
}

func TestConfirmPhaseAppliesTransition(t *testing.T) {
	a := newConfirmApp(t)
	seedJob(t, a, jobstore.PhaseDownloadInProgress)

	h := a.confirmPhase(jobstore.PhaseDownloadCompleted)
	require.NoError(t, h(t.Context(), events.New(events.DownloadCompleted, "j1", "download-worker", nil)))

	job, _ := a.store.GetJob(t.Context(), "j1")
	assert.Equal(t, jobstore.PhaseDownloadCompleted, job.Phase)
}

func TestConfirmPhaseIdempotentAfterWorkerWrite(t *testing.T) {
	a := newConfirmApp(t)
	seedJob(t, a, jobstore.PhaseCompleted)

	// worker 已写终态，事件确认是空操作
	h := a.confirmPhase(jobstore.PhaseDownloadCompleted)
	require.NoError(t, h(t.Context(), events.New(events.DownloadCompleted, "j1", "download-worker", nil)))

	job, _ := a.store.GetJob(t.Context(), "j1")
	assert.Equal(t, jobstore.PhaseCompleted, job.Phase)
}

func TestConfirmPhaseUnknownJobIgnored(t *testing.T) {
	a := newConfirmApp(t)
	h := a.confirmPhase(jobstore.PhaseCompleted)
	require.NoError(t, h(t.Context(), events.New(events.JobCompleted, "ghost", "download-worker", nil)))
}

func TestConfirmFailedRecordsReason(t *testing.T) {
	a := newConfirmApp(t)
	seedJob(t, a, jobstore.PhaseDownloadInProgress)

	h := a.confirmFailed("download")
	evt := events.New(events.DownloadFailed, "j1", "download-worker", map[string]any{"reason": "no candidate"})
	require.NoError(t, h(t.Context(), evt))

	job, _ := a.store.GetJob(t.Context(), "j1")
	assert.Equal(t, jobstore.PhaseFailed, job.Phase)
	assert.Equal(t, "no candidate", job.Metadata["error"])
	assert.Equal(t, "download", job.Metadata["failed_stage"])
}
