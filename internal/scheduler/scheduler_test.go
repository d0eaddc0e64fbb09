package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/followup/internal/collect"
	"github.com/TobiSchelling/followup/internal/config"
	"github.com/TobiSchelling/followup/internal/database"
	"github.com/TobiSchelling/followup/internal/followup"
)

type mockEngine struct{ mock.Mock }

func (m *mockEngine) Region(slug string) (*database.Region, error) {
	args := m.Called(slug)
	r, _ := args.Get(0).(*database.Region)
	return r, args.Error(1)
}

func (m *mockEngine) ProcessTriggers(ctx context.Context, regionID int64) *followup.TriggerResult {
	return m.Called(ctx, regionID).Get(0).(*followup.TriggerResult)
}

func (m *mockEngine) UpdateThreadStatuses(ctx context.Context, regionID int64) *followup.StatusResult {
	return m.Called(ctx, regionID).Get(0).(*followup.StatusResult)
}

func (m *mockEngine) ProcessHighEngagementArticles(ctx context.Context, regionID int64) *followup.EngagementResult {
	return m.Called(ctx, regionID).Get(0).(*followup.EngagementResult)
}

type mockIngester struct{ mock.Mock }

func (m *mockIngester) Ingest(ctx context.Context, region config.Region, regionID int64) *collect.Result {
	return m.Called(ctx, region, regionID).Get(0).(*collect.Result)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Regions = []config.Region{{Slug: "metro"}, {Slug: "coast"}}
	return cfg
}

func TestRunJobTriggersEveryRegion(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Region", "metro").Return(&database.Region{ID: 1}, nil)
	engine.On("Region", "coast").Return(&database.Region{ID: 2}, nil)
	engine.On("ProcessTriggers", mock.Anything, int64(1)).Return(&followup.TriggerResult{Processed: 3})
	engine.On("ProcessTriggers", mock.Anything, int64(2)).Return(&followup.TriggerResult{})

	s := NewService(testConfig(), engine, nil)
	require.NoError(t, s.RunJob(context.Background(), JobTriggers))
	engine.AssertExpectations(t)
}

func TestRunJobSkipsUnknownRegion(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Region", "metro").Return(nil, nil)
	engine.On("Region", "coast").Return(&database.Region{ID: 2}, nil)
	engine.On("UpdateThreadStatuses", mock.Anything, int64(2)).Return(&followup.StatusResult{Checked: 1})

	s := NewService(testConfig(), engine, nil)
	err := s.RunJob(context.Background(), JobStatuses)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metro")
	engine.AssertNumberOfCalls(t, "UpdateThreadStatuses", 1)
}

func TestRunJobIngest(t *testing.T) {
	cfg := testConfig()
	engine := &mockEngine{}
	engine.On("Region", "metro").Return(&database.Region{ID: 1}, nil)
	engine.On("Region", "coast").Return(&database.Region{ID: 2}, nil)
	ingester := &mockIngester{}
	ingester.On("Ingest", mock.Anything, cfg.Regions[0], int64(1)).Return(&collect.Result{New: 2})
	ingester.On("Ingest", mock.Anything, cfg.Regions[1], int64(2)).Return(&collect.Result{})

	s := NewService(cfg, engine, ingester)
	require.NoError(t, s.RunJob(context.Background(), JobIngest))
	ingester.AssertExpectations(t)
}

func TestRunJobErrors(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Region", mock.Anything).Return(&database.Region{ID: 1}, nil)

	s := NewService(testConfig(), engine, nil)
	assert.ErrorContains(t, s.RunJob(context.Background(), "reindex"), "unknown job")
	assert.ErrorContains(t, s.RunJob(context.Background(), JobIngest), "no ingester")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.RunJob(ctx, JobEngagement), context.Canceled)
	engine.AssertNotCalled(t, "ProcessHighEngagementArticles", mock.Anything, mock.Anything)
}

func TestStartRegistersScheduledJobs(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule.Engagement = ""

	s := NewService(cfg, &mockEngine{}, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	// Engagement has no schedule and ingest has no ingester.
	assert.Equal(t, 2, s.Entries())
}

func TestStartRejectsBadSpec(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule.Triggers = "every hour"

	s := NewService(cfg, &mockEngine{}, nil)
	assert.Error(t, s.Start(context.Background()))
}
