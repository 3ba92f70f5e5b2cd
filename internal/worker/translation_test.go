package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subrelay/internal/broker"
	"subrelay/internal/events"
	"subrelay/internal/jobstore"
	"subrelay/pkg/errors"
	"subrelay/pkg/log"
)

type stubService struct {
	output string
	err    error
	calls  int
}

func (s *stubService) TranslateFile(ctx context.Context, jobID, path, src, tgt string) (string, error) {
	s.calls++
	return s.output, s.err
}

func translationBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(broker.TranslationTask{
		JobID:            "j1",
		SubtitleFilePath: "/storage/j1.en.srt",
		SourceLanguage:   "en",
		TargetLanguage:   "es",
	})
	require.NoError(t, err)
	return body
}

func seedTranslationJob(t *testing.T, store jobstore.Store) {
	t.Helper()
	require.NoError(t, store.SaveJob(context.Background(), &jobstore.Job{
		ID:             "j1",
		VideoURL:       "/media/x.mkv",
		SourceLanguage: "en",
		TargetLanguage: "es",
	}))
	_, err := store.UpdatePhase(context.Background(), "j1", jobstore.PhaseDownloadCompleted, "test", nil)
	require.NoError(t, err)
}

func TestTranslationHandlerHappyPath(t *testing.T) {
	store := jobstore.NewMemoryStore(jobstore.DefaultTTLPolicy())
	seedTranslationJob(t, store)
	svc := &stubService{output: "/storage/j1.es.srt"}
	bus := &stubBus{}
	h := NewTranslationHandler(store, svc, bus, log.Nop())

	require.NoError(t, h.Handle(context.Background(), translationBody(t)))

	job, _ := store.GetJob(context.Background(), "j1")
	assert.Equal(t, jobstore.PhaseCompleted, job.Phase)
	assert.Equal(t, []events.Type{events.TranslateCompleted, events.JobCompleted}, bus.published)
	assert.Contains(t, bus.payloads[events.TranslateCompleted], "duration_ms")
	assert.Equal(t, "/storage/j1.es.srt", bus.payloads[events.TranslateCompleted]["file_path"])
}

func TestTranslationHandlerPermanentFailure(t *testing.T) {
	store := jobstore.NewMemoryStore(jobstore.DefaultTTLPolicy())
	seedTranslationJob(t, store)
	svc := &stubService{err: errors.Permanentf("reasoning tokens consumed the full budget")}
	bus := &stubBus{}
	h := NewTranslationHandler(store, svc, bus, log.Nop())

	err := h.Handle(context.Background(), translationBody(t))
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))

	job, _ := store.GetJob(context.Background(), "j1")
	assert.Equal(t, jobstore.PhaseFailed, job.Phase)
	assert.Contains(t, bus.published, events.TranslateFailed)
	assert.Contains(t, bus.published, events.JobFailed)
}

func TestTranslationHandlerTransientFailure(t *testing.T) {
	store := jobstore.NewMemoryStore(jobstore.DefaultTTLPolicy())
	seedTranslationJob(t, store)
	svc := &stubService{err: errors.Transientf("upstream 503")}
	bus := &stubBus{}
	h := NewTranslationHandler(store, svc, bus, log.Nop())

	err := h.Handle(context.Background(), translationBody(t))
	require.Error(t, err)
	assert.False(t, errors.IsPermanent(err))

	job, _ := store.GetJob(context.Background(), "j1")
	assert.Equal(t, jobstore.PhaseTranslateInProgress, job.Phase, "job stays alive for redelivery")
	assert.Empty(t, bus.published)
}

func TestTranslationHandlerInvalidTask(t *testing.T) {
	store := jobstore.NewMemoryStore(jobstore.DefaultTTLPolicy())
	h := NewTranslationHandler(store, &stubService{}, &stubBus{}, log.Nop())

	body, _ := json.Marshal(broker.TranslationTask{JobID: "j1"})
	err := h.Handle(context.Background(), body)
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err))
}

func TestTranslationHandlerIdempotentRedelivery(t *testing.T) {
	store := jobstore.NewMemoryStore(jobstore.DefaultTTLPolicy())
	seedTranslationJob(t, store)
	svc := &stubService{output: "/storage/j1.es.srt"}
	h := NewTranslationHandler(store, svc, &stubBus{}, log.Nop())

	require.NoError(t, h.Handle(context.Background(), translationBody(t)))

	// 终态后的重投按重复消息忽略，不重跑翻译
	require.NoError(t, h.Handle(context.Background(), translationBody(t)))
	assert.Equal(t, 1, svc.calls)
	job, _ := store.GetJob(context.Background(), "j1")
	assert.Equal(t, jobstore.PhaseCompleted, job.Phase)
}
