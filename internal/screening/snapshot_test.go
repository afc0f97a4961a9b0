package screening

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/driverline/screener/internal/domain"
	"github.com/driverline/screener/internal/llm"
	"github.com/driverline/screener/internal/storage"
	"github.com/driverline/screener/internal/storage/memory"
)

func TestAssembleBuildsFullView(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	conv, err := env.store.CreateConversation(ctx, env.appID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, err := env.store.AppendTurn(ctx, conv.ID, domain.SenderAssistant, "Hi Alex!"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := env.store.AppendTurn(ctx, conv.ID, domain.SenderUser, "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}

	snap, err := NewAssembler(env.store).Assemble(ctx, conv.ID)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	if snap.FirstName != "Alex" {
		t.Fatalf("expected first name Alex, got %q", snap.FirstName)
	}
	if snap.JobTitle != "CDL-A Regional Driver" {
		t.Fatalf("unexpected job title %q", snap.JobTitle)
	}
	if len(snap.Requirements) != 3 {
		t.Fatalf("expected 3 requirements, got %d", len(snap.Requirements))
	}
	if snap.Active == nil || snap.Active.ID != env.cdlReqID {
		t.Fatal("expected the priority-1 requirement active")
	}
	if len(snap.History) != 2 {
		t.Fatalf("expected 2 history messages, got %d", len(snap.History))
	}
	if snap.History[0].Role != llm.RoleAssistant || snap.History[1].Role != llm.RoleUser {
		t.Fatal("history roles not mapped from senders")
	}
}

func TestAssembleUnknownConversation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := NewAssembler(env.store).Assemble(context.Background(), uuid.New())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssembleNoRequirements(t *testing.T) {
	t.Parallel()

	store := memory.New()
	jobID := uuid.New()
	userID := uuid.New()
	appID := uuid.New()
	store.AddJob(domain.Job{ID: jobID, Title: "Dispatcher"})
	store.AddUser(domain.User{ID: userID, FirstName: "Sam"})
	store.AddApplication(domain.Application{ID: appID, JobID: jobID, UserID: userID})

	ctx := context.Background()
	conv, err := store.CreateConversation(ctx, appID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	_, err = NewAssembler(store).Assemble(ctx, conv.ID)
	if !errors.Is(err, ErrNoRequirements) {
		t.Fatalf("expected ErrNoRequirements, got %v", err)
	}
}
