package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/painpoint-analyzer/internal/domain"
)

func scrapeParams(topic string) domain.JobParameters {
	return domain.JobParameters{
		Type:   domain.JobTypeScrape,
		Scrape: &domain.ScrapeParams{Topic: topic, Limit: 10, TimeFilter: "day"},
	}
}

func TestJobService_Get_Ownership(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	w := newWorld(t, domain.User{ID: "alice", Credits: 5}, domain.User{ID: "bob", Credits: 5})

	jobID, err := w.jobs.Create(ctx, "alice", scrapeParams("Notion"))
	require.NoError(t, err)

	j, err := w.svc.Get(ctx, "alice", jobID)
	require.NoError(t, err)
	assert.Equal(t, "alice", j.UserID)

	_, err = w.svc.Get(ctx, "bob", jobID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = w.svc.Get(ctx, "alice", "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobService_List(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	w := newWorld(t, domain.User{ID: "alice", Credits: 5})

	id1, err := w.jobs.Create(ctx, "alice", scrapeParams("Notion"))
	require.NoError(t, err)
	require.NoError(t, w.jobs.Transition(ctx, id1,
		[]domain.JobStatus{domain.JobPending}, domain.JobInProgress, domain.JobPatch{}))
	_, err = w.jobs.Create(ctx, "alice", scrapeParams("Slack"))
	require.NoError(t, err)

	all, err := w.svc.List(ctx, "alice", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	running, err := w.svc.List(ctx, "alice", "in_progress")
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, id1, running[0].ID)

	_, err = w.svc.List(ctx, "alice", "exploded")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestJobService_Cancel_CompletedNotCancellable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	w := newWorld(t, domain.User{ID: "alice", Credits: 5})

	jobID, err := w.jobs.Create(ctx, "alice", scrapeParams("Notion"))
	require.NoError(t, err)
	require.NoError(t, w.jobs.Transition(ctx, jobID,
		[]domain.JobStatus{domain.JobPending}, domain.JobInProgress, domain.JobPatch{}))
	require.NoError(t, w.jobs.Transition(ctx, jobID,
		[]domain.JobStatus{domain.JobInProgress}, domain.JobCompleted, domain.JobPatch{}))

	_, err = w.svc.Cancel(ctx, "alice", jobID)
	require.ErrorIs(t, err, domain.ErrNotCancellable)
	assert.Equal(t, 5, w.users.credits("alice"))
}

func TestJobService_Status(t *testing.T) {
	t.Parallel()
	w := newWorld(t, domain.User{ID: "alice", Credits: 5})

	st := w.svc.Status(context.Background(), "alice")
	assert.False(t, st.ScrapeInProgress)
	assert.Empty(t, st.ActiveScrapeJobs)

	h := w.disp.Workers.Add("alice", "job-9")
	st = w.svc.Status(context.Background(), "alice")
	assert.True(t, st.ScrapeInProgress)
	assert.Equal(t, []string{"job-9"}, st.ActiveScrapeJobs)

	h.Finish()
	st = w.svc.Status(context.Background(), "alice")
	assert.False(t, st.ScrapeInProgress)
}

func TestJobService_ProductsAndAnalytics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	w := newWorld(t, domain.User{ID: "alice", Credits: 5})

	_, err := w.jobs.Create(ctx, "alice", scrapeParams("Notion"))
	require.NoError(t, err)
	_, err = w.jobs.Create(ctx, "alice", scrapeParams("Notion"))
	require.NoError(t, err)
	_, err = w.jobs.Create(ctx, "alice", scrapeParams("Slack"))
	require.NoError(t, err)
	require.NoError(t, w.posts.Save(ctx, domain.Post{ID: "p1", Product: "Notion"}))

	products, err := w.svc.Products(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"Notion", "Slack"}, products)

	analytics, err := w.svc.GetAnalytics(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, analytics.ActiveJobs)
	assert.Equal(t, 3, analytics.JobCounts[domain.JobPending])
	assert.Equal(t, 1, analytics.TotalPosts)
	assert.Equal(t, []string{"Notion", "Slack"}, analytics.Products)
}
