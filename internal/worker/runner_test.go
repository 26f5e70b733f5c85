package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/ai"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/catalog"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/domain"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/lease"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/metrics"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/repository"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/service"
)

var testRegions = []domain.RegionCandidate{
	{Name: "Plainland", Kind: domain.RegionKindCountry, Continent: "Americas", Population: 1_000_000},
	{Name: "Crisisland", Kind: domain.RegionKindCountry, Continent: "Americas", InCrisis: true, CulturalContext: "Flooded valleys"},
	{Name: "Strategia", Kind: domain.RegionKindCountry, Continent: "Americas", StrategicImportance: true},
	{Name: "Bigland", Kind: domain.RegionKindCountry, Continent: "Americas", Population: 20_000_000},
	{Name: "Elsewhere", Kind: domain.RegionKindCountry, Continent: "Europe"},
}

var americas = domain.SelectionConfig{
	Continent:   "Americas",
	RegionKinds: []domain.RegionKind{domain.RegionKindCountry},
}

type fakeGenerator struct {
	mu      sync.Mutex
	calls   []string
	handler func(ctx context.Context, region ai.RegionDescriptor) (ai.GeneratedContent, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, region ai.RegionDescriptor) (ai.GeneratedContent, error) {
	g.mu.Lock()
	g.calls = append(g.calls, region.Name)
	g.mu.Unlock()
	if g.handler != nil {
		return g.handler(ctx, region)
	}
	return okContent(), nil
}

func (g *fakeGenerator) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func okContent() ai.GeneratedContent {
	return ai.GeneratedContent{Payload: []byte(`{"overview":"ok"}`), ModelID: "fake-model"}
}

type harness struct {
	repo      *repository.MemoryBatchRepository
	contents  repository.RegionContentStore
	metrics   *metrics.Metrics
	runner    *Runner
	service   *service.BatchService
	generator *fakeGenerator
}

type harnessOption func(*RunnerConfig)

func newHarness(t *testing.T, generator *fakeGenerator, options ...harnessOption) *harness {
	t.Helper()
	repo := repository.NewMemoryBatchRepository()
	contents := repository.NewMemoryRegionContentStore()
	m := metrics.NewNop()

	config := RunnerConfig{
		Repo:              repo,
		Contents:          contents,
		Generator:         generator,
		Locker:            lease.NewLocalLocker(),
		Metrics:           m,
		GenerationTimeout: time.Second,
		LeaseTTL:          time.Minute,
	}
	for _, option := range options {
		option(&config)
	}
	runner := NewRunner(config)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Shutdown(ctx)
	})

	svc := service.NewBatchService(service.BatchServiceDependencies{
		Repo:        repo,
		Catalog:     catalog.NewStaticCatalog(testRegions),
		Runner:      runner,
		Metrics:     m,
		MaxAttempts: 3,
	})
	return &harness{
		repo:      repo,
		contents:  config.Contents,
		metrics:   m,
		runner:    runner,
		service:   svc,
		generator: generator,
	}
}

func (h *harness) createBatch(t *testing.T) *domain.Batch {
	t.Helper()
	batch, err := h.service.CreateBatch(context.Background(), "actor-1", service.CreateBatchInput{
		Name:   "Americas run",
		Config: americas,
	})
	require.NoError(t, err)
	return batch
}

func (h *harness) itemsByRegion(t *testing.T, batchID string) map[string]domain.QueueItem {
	t.Helper()
	items, err := h.repo.ListItems(context.Background(), batchID, domain.ItemListFilter{})
	require.NoError(t, err)
	byRegion := make(map[string]domain.QueueItem, len(items))
	for _, item := range items {
		byRegion[item.RegionName] = item
	}
	return byRegion
}

func TestRunnerProcessesItemsInPriorityOrder(t *testing.T) {
	h := newHarness(t, &fakeGenerator{})
	batch := h.createBatch(t)

	_, err := h.service.Start(context.Background(), batch.ID)
	require.NoError(t, err)
	h.runner.Wait()

	assert.Equal(t, []string{"Crisisland", "Strategia", "Bigland", "Plainland"}, h.generator.Calls())

	final, err := h.repo.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, final.Status)
	assert.Equal(t, 4, final.CompletedRegions)
	require.NotNil(t, final.CompletedAt)
	assert.InDelta(t, 0.2, final.ActualCost, 1e-9, "estimate is used when the provider reports no cost")

	content, err := h.contents.GetRegionContent(context.Background(), "Crisisland", domain.RegionKindCountry)
	require.NoError(t, err)
	assert.JSONEq(t, `{"overview":"ok"}`, string(content.Payload))
	assert.Equal(t, batch.ID, content.BatchID)
	assert.Empty(t, h.runner.ActiveBatches())
}

func TestRunnerPartialFailureStillCompletesBatch(t *testing.T) {
	generator := &fakeGenerator{handler: func(_ context.Context, region ai.RegionDescriptor) (ai.GeneratedContent, error) {
		if region.Name == "Strategia" {
			return ai.GeneratedContent{}, errors.New("provider rejected prompt")
		}
		cost := 0.01
		content := okContent()
		content.Cost = &cost
		return content, nil
	}}
	h := newHarness(t, generator)

	batch, err := h.service.CreateBatch(context.Background(), "actor-1", service.CreateBatchInput{
		Name: "Strategic and crisis",
		Config: domain.SelectionConfig{
			Continent:   "Americas",
			RegionKinds: []domain.RegionKind{domain.RegionKindCountry},
			Filters:     domain.SelectionFilters{MinPopulation: 0},
		},
	})
	require.NoError(t, err)

	_, err = h.service.Start(context.Background(), batch.ID)
	require.NoError(t, err)
	h.runner.Wait()

	progress, err := h.service.Progress(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, progress.Status)
	assert.Equal(t, 3, progress.CompletedRegions)
	assert.Equal(t, 1, progress.FailedRegions)
	assert.Equal(t, 100, progress.ProgressPercent)
	assert.InDelta(t, 0.03, progress.ActualCost, 1e-9)

	failed := h.itemsByRegion(t, batch.ID)["Strategia"]
	assert.Equal(t, domain.ItemStatusFailed, failed.Status)
	assert.Equal(t, 3, failed.CurrentAttempts)
	assert.Equal(t, 3, failed.ErrorCount)
	assert.Equal(t, "provider rejected prompt", failed.LastError)
	require.NotNil(t, failed.CompletedAt)
	assert.Nil(t, failed.ActualCost)

	assert.Equal(t, []string{"Crisisland", "Strategia", "Strategia", "Strategia", "Bigland", "Plainland"}, generator.Calls())
	assert.InDelta(t, 2, testutil.ToFloat64(h.metrics.GenerationRetries), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.ItemsProcessed.WithLabelValues("failed")), 0)
}

func TestRunnerRetrySucceedsWithinBound(t *testing.T) {
	var mu sync.Mutex
	failures := 0
	generator := &fakeGenerator{handler: func(_ context.Context, region ai.RegionDescriptor) (ai.GeneratedContent, error) {
		mu.Lock()
		defer mu.Unlock()
		if region.Name == "Crisisland" && failures < 2 {
			failures++
			return ai.GeneratedContent{}, errors.New("temporary outage")
		}
		return okContent(), nil
	}}
	h := newHarness(t, generator)
	batch := h.createBatch(t)

	_, err := h.service.Start(context.Background(), batch.ID)
	require.NoError(t, err)
	h.runner.Wait()

	item := h.itemsByRegion(t, batch.ID)["Crisisland"]
	assert.Equal(t, domain.ItemStatusCompleted, item.Status)
	assert.Equal(t, 3, item.CurrentAttempts)
	assert.Equal(t, 2, item.ErrorCount)
	assert.Empty(t, item.LastError, "a successful attempt clears the previous error")
	assert.LessOrEqual(t, item.CurrentAttempts, item.MaxAttempts)
}

func TestRunnerPauseBetweenAttemptsRequeuesItem(t *testing.T) {
	var (
		h       *harness
		batchID string
		once    sync.Once
	)
	generator := &fakeGenerator{handler: func(_ context.Context, _ ai.RegionDescriptor) (ai.GeneratedContent, error) {
		first := false
		once.Do(func() { first = true })
		if !first {
			return okContent(), nil
		}
		if _, err := h.service.Pause(context.Background(), batchID); err != nil {
			return ai.GeneratedContent{}, err
		}
		return ai.GeneratedContent{}, errors.New("upstream unavailable")
	}}
	h = newHarness(t, generator)
	batchID = h.createBatch(t).ID

	_, err := h.service.Start(context.Background(), batchID)
	require.NoError(t, err)
	h.runner.Wait()

	assert.Equal(t, []string{"Crisisland"}, generator.Calls(), "no retry once the batch is paused")
	item := h.itemsByRegion(t, batchID)["Crisisland"]
	assert.Equal(t, domain.ItemStatusQueued, item.Status)
	assert.Equal(t, 1, item.CurrentAttempts)
	assert.Equal(t, 1, item.ErrorCount)
	assert.Equal(t, "upstream unavailable", item.LastError)
	assert.Nil(t, item.StartedAt)

	progress, err := h.service.Progress(context.Background(), batchID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusPaused, progress.Status)
	assert.Equal(t, 4, progress.QueuedRegions)

	_, err = h.service.Start(context.Background(), batchID)
	require.NoError(t, err)
	h.runner.Wait()

	item = h.itemsByRegion(t, batchID)["Crisisland"]
	assert.Equal(t, domain.ItemStatusCompleted, item.Status)
	assert.Equal(t, 2, item.CurrentAttempts)
	assert.Empty(t, item.LastError)
	assert.Equal(t, []string{"Crisisland", "Crisisland", "Strategia", "Bigland", "Plainland"}, generator.Calls())
}

func TestRunnerPauseAndResume(t *testing.T) {
	started := make(chan string, 8)
	release := make(chan struct{})
	generator := &fakeGenerator{handler: func(ctx context.Context, region ai.RegionDescriptor) (ai.GeneratedContent, error) {
		started <- region.Name
		select {
		case <-release:
		case <-ctx.Done():
			return ai.GeneratedContent{}, ctx.Err()
		}
		return okContent(), nil
	}}
	h := newHarness(t, generator)
	batch := h.createBatch(t)

	_, err := h.service.Start(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, "Crisisland", <-started)

	paused, err := h.service.Pause(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusPaused, paused.Status)
	close(release)
	h.runner.Wait()

	progress, err := h.service.Progress(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusPaused, progress.Status)
	assert.Equal(t, 1, progress.CompletedRegions, "in-flight item finishes before the loop stops")
	assert.Equal(t, 3, progress.QueuedRegions)
	assert.Equal(t, 25, progress.ProgressPercent)

	_, err = h.service.Start(context.Background(), batch.ID)
	require.NoError(t, err)
	h.runner.Wait()

	final, err := h.service.Progress(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, final.Status)
	assert.Equal(t, 4, final.CompletedRegions)
	assert.Equal(t, []string{"Crisisland", "Strategia", "Bigland", "Plainland"}, generator.Calls())
}

func TestRunnerStopCancelsBatch(t *testing.T) {
	started := make(chan string, 8)
	release := make(chan struct{})
	generator := &fakeGenerator{handler: func(_ context.Context, region ai.RegionDescriptor) (ai.GeneratedContent, error) {
		started <- region.Name
		<-release
		return okContent(), nil
	}}
	h := newHarness(t, generator)
	batch := h.createBatch(t)

	_, err := h.service.Start(context.Background(), batch.ID)
	require.NoError(t, err)
	<-started

	stopped, err := h.service.Stop(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCancelled, stopped.Status)
	close(release)
	h.runner.Wait()

	final, err := h.repo.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCancelled, final.Status)
	assert.Equal(t, 1, final.CompletedRegions)

	_, err = h.service.Start(context.Background(), batch.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRunnerResumeRecoversInterruptedItems(t *testing.T) {
	h := newHarness(t, &fakeGenerator{})
	batch := h.createBatch(t)
	ctx := context.Background()

	_, err := h.repo.TransitionBatch(ctx, batch.ID, repository.BatchTransition{
		From: domain.SourcesFor(domain.BatchStatusRunning),
		To:   domain.BatchStatusRunning,
		At:   time.Now(),
	})
	require.NoError(t, err)
	interrupted, err := h.repo.ClaimNextItem(ctx, batch.ID, time.Now())
	require.NoError(t, err)
	require.NotNil(t, interrupted)

	spawned, err := h.runner.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, spawned)
	h.runner.Wait()

	items := h.itemsByRegion(t, batch.ID)
	for name, item := range items {
		assert.Equalf(t, domain.ItemStatusCompleted, item.Status, "region %s", name)
	}
	assert.Equal(t, 2, items[interrupted.RegionName].CurrentAttempts)

	final, err := h.repo.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, final.Status)
}

func TestRunnerSkipsBatchOwnedElsewhere(t *testing.T) {
	locker := lease.NewLocalLocker()
	h := newHarness(t, &fakeGenerator{}, func(config *RunnerConfig) { config.Locker = locker })
	batch := h.createBatch(t)

	held, err := locker.Acquire(context.Background(), "batch:"+batch.ID, time.Minute)
	require.NoError(t, err)
	defer func() { _ = held.Release(context.Background()) }()

	_, err = h.service.Start(context.Background(), batch.ID)
	require.NoError(t, err)
	h.runner.Wait()

	assert.Empty(t, h.generator.Calls())
	progress, err := h.service.Progress(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusRunning, progress.Status)
	assert.Equal(t, 4, progress.QueuedRegions)
}

func TestRunnerGenerationTimeoutFailsItem(t *testing.T) {
	generator := &fakeGenerator{handler: func(ctx context.Context, region ai.RegionDescriptor) (ai.GeneratedContent, error) {
		if region.Name == "Crisisland" {
			<-ctx.Done()
			return ai.GeneratedContent{}, ctx.Err()
		}
		return okContent(), nil
	}}
	h := newHarness(t, generator, func(config *RunnerConfig) { config.GenerationTimeout = 20 * time.Millisecond })
	batch := h.createBatch(t)

	_, err := h.service.Start(context.Background(), batch.ID)
	require.NoError(t, err)
	h.runner.Wait()

	item := h.itemsByRegion(t, batch.ID)["Crisisland"]
	assert.Equal(t, domain.ItemStatusFailed, item.Status)
	assert.True(t, strings.Contains(item.LastError, "timed out"), item.LastError)

	final, err := h.repo.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, final.Status)
	assert.Equal(t, 3, final.CompletedRegions)
	assert.Equal(t, 1, final.FailedRegions)
}

type failingContentStore struct{}

func (failingContentStore) UpsertRegionContent(context.Context, domain.RegionContent) error {
	return errors.New("content store offline")
}

func (failingContentStore) GetRegionContent(context.Context, string, domain.RegionKind) (*domain.RegionContent, error) {
	return nil, repository.ErrNotFound
}

func TestRunnerContentSaveFailureKeepsItemCompleted(t *testing.T) {
	h := newHarness(t, &fakeGenerator{}, func(config *RunnerConfig) { config.Contents = failingContentStore{} })
	batch := h.createBatch(t)

	_, err := h.service.Start(context.Background(), batch.ID)
	require.NoError(t, err)
	h.runner.Wait()

	final, err := h.repo.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, final.Status)
	assert.Equal(t, 4, final.CompletedRegions)
	assert.InDelta(t, 4, testutil.ToFloat64(h.metrics.ContentSaveFailures), 0)
}

type brokenUpdateRepo struct {
	*repository.MemoryBatchRepository
}

func (brokenUpdateRepo) UpdateItem(context.Context, *domain.QueueItem) error {
	return errors.New("disk full")
}

func TestRunnerBookkeepingFailureFailsBatch(t *testing.T) {
	memory := repository.NewMemoryBatchRepository()
	h := newHarness(t, &fakeGenerator{}, func(config *RunnerConfig) {
		config.Repo = brokenUpdateRepo{MemoryBatchRepository: memory}
	})
	h.repo = memory
	h.service = service.NewBatchService(service.BatchServiceDependencies{
		Repo:    memory,
		Catalog: catalog.NewStaticCatalog(testRegions),
		Runner:  h.runner,
	})
	batch := h.createBatch(t)

	_, err := h.service.Start(context.Background(), batch.ID)
	require.NoError(t, err)
	h.runner.Wait()

	final, err := memory.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusFailed, final.Status)
	assert.Contains(t, final.LastError, "disk full")
	require.NotNil(t, final.CompletedAt)
	assert.Len(t, h.generator.Calls(), 1)
}

// gatedStatsRepo blocks the first stats write made while the batch is paused,
// which is the window between a loop reading paused and unregistering.
type gatedStatsRepo struct {
	*repository.MemoryBatchRepository
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStatsRepo) SaveBatchStats(ctx context.Context, batchID string, stats domain.ItemStats, at time.Time) error {
	batch, err := g.GetBatch(ctx, batchID)
	if err == nil && batch.Status == domain.BatchStatusPaused {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	return g.MemoryBatchRepository.SaveBatchStats(ctx, batchID, stats, at)
}

func TestRunnerStartWhilePausedLoopExitsRestartsLoop(t *testing.T) {
	memory := repository.NewMemoryBatchRepository()
	gated := &gatedStatsRepo{
		MemoryBatchRepository: memory,
		entered:               make(chan struct{}),
		release:               make(chan struct{}),
	}
	h := newHarness(t, &fakeGenerator{}, func(config *RunnerConfig) { config.Repo = gated })
	h.repo = memory
	h.service = service.NewBatchService(service.BatchServiceDependencies{
		Repo:        memory,
		Catalog:     catalog.NewStaticCatalog(testRegions),
		Runner:      h.runner,
		Metrics:     h.metrics,
		MaxAttempts: 3,
	})
	batch := h.createBatch(t)
	ctx := context.Background()

	for _, status := range []domain.BatchStatus{domain.BatchStatusRunning, domain.BatchStatusPaused} {
		_, err := memory.TransitionBatch(ctx, batch.ID, repository.BatchTransition{
			From: domain.SourcesFor(status),
			To:   status,
			At:   time.Now(),
		})
		require.NoError(t, err)
	}
	require.True(t, h.runner.Spawn(batch.ID))
	<-gated.entered

	_, err := h.service.Start(ctx, batch.ID)
	require.NoError(t, err)
	close(gated.release)
	h.runner.Wait()

	final, err := h.service.Progress(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, final.Status)
	assert.Equal(t, 4, final.CompletedRegions)
	assert.Equal(t, 0, final.QueuedRegions)
	assert.Len(t, h.generator.Calls(), 4)
	assert.Empty(t, h.runner.ActiveBatches())
}

func TestRunnerSpawnIsIdempotentPerBatch(t *testing.T) {
	release := make(chan struct{})
	generator := &fakeGenerator{handler: func(_ context.Context, _ ai.RegionDescriptor) (ai.GeneratedContent, error) {
		<-release
		return okContent(), nil
	}}
	h := newHarness(t, generator)
	batch := h.createBatch(t)

	_, err := h.service.Start(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.False(t, h.runner.Spawn(batch.ID))
	assert.Equal(t, []string{batch.ID}, h.runner.ActiveBatches())

	close(release)
	h.runner.Wait()
	assert.Len(t, generator.Calls(), 4)
}

func TestRunnerShutdownLeavesInFlightItemForRecovery(t *testing.T) {
	started := make(chan string, 1)
	generator := &fakeGenerator{handler: func(ctx context.Context, region ai.RegionDescriptor) (ai.GeneratedContent, error) {
		started <- region.Name
		<-ctx.Done()
		return ai.GeneratedContent{}, ctx.Err()
	}}
	h := newHarness(t, generator)
	batch := h.createBatch(t)

	_, err := h.service.Start(context.Background(), batch.ID)
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.runner.Shutdown(ctx))
	assert.False(t, h.runner.Spawn(batch.ID))

	progress, err := h.service.Progress(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusRunning, progress.Status, "shutdown is not a batch failure")
	assert.Equal(t, 1, progress.ProcessingRegions)
	assert.Equal(t, "Crisisland", progress.CurrentRegion)
}
