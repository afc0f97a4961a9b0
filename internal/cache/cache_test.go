package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/driverline/screener/internal/domain"
	"github.com/driverline/screener/internal/storage"
	"github.com/driverline/screener/internal/storage/memory"
)

type flakyBackend struct {
	getErr error
	setErr error
	inner  *Memory
}

func (f *flakyBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	return f.inner.Get(ctx, key)
}

func (f *flakyBackend) Set(ctx context.Context, key string, value []byte) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.inner.Set(ctx, key, value)
}

// countingStore counts Requirements reads on the inner store.
type countingStore struct {
	storage.Store
	requirementReads int
}

func (c *countingStore) Requirements(ctx context.Context, jobID uuid.UUID) ([]domain.Requirement, error) {
	c.requirementReads++
	return c.Store.Requirements(ctx, jobID)
}

func seedInner(t *testing.T) (*memory.Store, uuid.UUID) {
	t.Helper()
	inner := memory.New()
	jobID := uuid.New()
	inner.AddJob(domain.Job{ID: jobID, Title: "CDL-A Regional Driver"})
	inner.AddRequirement(domain.Requirement{
		ID:          uuid.New(),
		JobID:       jobID,
		Type:        "CDL_CLASS",
		Description: "Valid Class A CDL",
		Criteria:    map[string]any{"required": true, "cdl_class": "A"},
		Priority:    1,
	})
	inner.AddJobFact(domain.JobFact{ID: uuid.New(), JobID: jobID, FactType: "pay", Content: "$0.60 per mile"})
	return inner, jobID
}

func TestRequirementsReadThrough(t *testing.T) {
	t.Parallel()

	inner, jobID := seedInner(t)
	counting := &countingStore{Store: inner}
	store := Wrap(counting, NewMemory(), nil)
	ctx := context.Background()

	first, err := store.Requirements(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, 1, counting.requirementReads)

	second, err := store.Requirements(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, counting.requirementReads, "second read must come from cache")
}

func TestJobFactsReadThrough(t *testing.T) {
	t.Parallel()

	inner, jobID := seedInner(t)
	store := Wrap(inner, NewMemory(), nil)
	ctx := context.Background()

	facts, err := store.JobFacts(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, facts, 1)

	again, err := store.JobFacts(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, facts, again)
}

func TestBackendFailureFallsThrough(t *testing.T) {
	t.Parallel()

	inner, jobID := seedInner(t)
	backend := &flakyBackend{
		getErr: errors.New("connection refused"),
		setErr: errors.New("connection refused"),
		inner:  NewMemory(),
	}
	store := Wrap(inner, backend, nil)

	reqs, err := store.Requirements(context.Background(), jobID)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
}

func TestCorruptEntryFallsThrough(t *testing.T) {
	t.Parallel()

	inner, jobID := seedInner(t)
	backend := NewMemory()
	require.NoError(t, backend.Set(context.Background(), "screener:requirements:"+jobID.String(), []byte("{not json")))
	store := Wrap(inner, backend, nil)

	reqs, err := store.Requirements(context.Background(), jobID)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
}

func TestPassThroughMethodsUntouched(t *testing.T) {
	t.Parallel()

	inner, jobID := seedInner(t)
	userID := uuid.New()
	appID := uuid.New()
	inner.AddUser(domain.User{ID: userID, FirstName: "Alex"})
	inner.AddApplication(domain.Application{ID: appID, JobID: jobID, UserID: userID})

	store := Wrap(inner, NewMemory(), nil)
	conv, err := store.CreateConversation(context.Background(), appID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, conv.Status)
}
