package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/ecopoints/internal/jobqueue"
	"github.com/smallbiznis/ecopoints/internal/summary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	got []Payload
}

func (h *recordingHandler) ProcessActivity(_ context.Context, _ jobqueue.Job, p ProcessActivity) error {
	h.got = append(h.got, p)
	return nil
}

func (h *recordingHandler) GenerateSummary(_ context.Context, _ jobqueue.Job, p GenerateSummary) error {
	h.got = append(h.got, p)
	return nil
}

func (h *recordingHandler) SendSummaryEmail(_ context.Context, _ jobqueue.Job, p SendSummaryEmail) error {
	h.got = append(h.got, p)
	return errors.New("smtp down")
}

func stored(t *testing.T, p Payload) jobqueue.Job {
	t.Helper()
	req := Request(p, Options{})
	raw, err := json.Marshal(req.Payload)
	require.NoError(t, err)
	return jobqueue.Job{ID: 1, Queue: req.Queue, Type: req.Type, Payload: raw}
}

func TestDispatchRoutesEachVariant(t *testing.T) {
	h := &recordingHandler{}
	ctx := context.Background()
	ref := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)

	require.NoError(t, Dispatch(ctx, h, stored(t, ProcessActivity{ActivityID: 7, UserID: 42})))
	require.NoError(t, Dispatch(ctx, h, stored(t, GenerateSummary{UserID: 42, ReferenceDate: &ref})))
	err := Dispatch(ctx, h, stored(t, SendSummaryEmail{UserID: 42, Summary: summary.WeeklySummary{ID: 9, TotalCo2Kg: 1.5, Trend: summary.TrendUp}}))
	assert.EqualError(t, err, "smtp down")
	assert.False(t, jobqueue.IsPermanent(err))

	require.Len(t, h.got, 3)
	assert.Equal(t, ProcessActivity{ActivityID: 7, UserID: 42}, h.got[0])
	gen := h.got[1].(GenerateSummary)
	assert.Equal(t, snowflake.ID(42), gen.UserID)
	assert.True(t, gen.ReferenceDate.Equal(ref))
	email := h.got[2].(SendSummaryEmail)
	assert.Equal(t, summary.TrendUp, email.Summary.Trend)
	assert.Equal(t, snowflake.ID(9), email.Summary.ID)
}

func TestDispatchRejectsUnknownAndMalformed(t *testing.T) {
	h := &recordingHandler{}
	ctx := context.Background()

	err := Dispatch(ctx, h, jobqueue.Job{Type: "export_csv", Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, ErrUnknownJobType)
	assert.True(t, jobqueue.IsPermanent(err))

	err = Dispatch(ctx, h, jobqueue.Job{Type: string(KindGenerateSummary), Payload: []byte(`{"user_id":[]}`)})
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.True(t, jobqueue.IsPermanent(err))
	assert.Empty(t, h.got)
}

func TestRequestRoutesToQueue(t *testing.T) {
	assert.Equal(t, jobqueue.QueueActivities, Request(ProcessActivity{}, Options{}).Queue)
	assert.Equal(t, jobqueue.QueueSummaries, Request(GenerateSummary{}, Options{}).Queue)
	req := Request(SendSummaryEmail{}, Options{DedupeKey: "k"})
	assert.Equal(t, jobqueue.QueueEmails, req.Queue)
	assert.Equal(t, "send_summary_email", req.Type)
	assert.Equal(t, "k", req.DedupeKey)
}

func TestDedupeKeys(t *testing.T) {
	weekStart := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "summary:42:2024-03-04", SummaryDedupeKey(42, weekStart))
	assert.Equal(t, "summary_email:9:11", SummaryEmailDedupeKey(9, 11))
}
