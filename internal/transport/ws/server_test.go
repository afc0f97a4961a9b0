package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driverline/screener/internal/criteria"
	"github.com/driverline/screener/internal/domain"
	"github.com/driverline/screener/internal/llm"
	"github.com/driverline/screener/internal/screening"
	"github.com/driverline/screener/internal/storage/memory"
)

// queueClient hands out scripted completions in order.
type queueClient struct {
	mu      sync.Mutex
	replies []string
}

func (q *queueClient) next() (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.replies) == 0 {
		return "", llm.ErrUnavailable
	}
	reply := q.replies[0]
	q.replies = q.replies[1:]
	return reply, nil
}

func (q *queueClient) Complete(context.Context, []llm.Message) (string, error) {
	return q.next()
}

func (q *queueClient) CompleteStreaming(_ context.Context, _ []llm.Message, sink llm.ChunkFunc) (string, error) {
	reply, err := q.next()
	if err != nil {
		return "", err
	}
	if sink != nil {
		// Two chunks so the test observes streaming.
		half := len(reply) / 2
		if err := sink(reply[:half]); err != nil {
			return "", err
		}
		if err := sink(reply[half:]); err != nil {
			return "", err
		}
	}
	return reply, nil
}

func newWSTest(t *testing.T, replies ...string) (*websocket.Conn, uuid.UUID) {
	t.Helper()

	store := memory.New()
	jobID := uuid.New()
	userID := uuid.New()
	appID := uuid.New()
	store.AddJob(domain.Job{ID: jobID, Title: "CDL-A Regional Driver"})
	store.AddUser(domain.User{ID: userID, FirstName: "Alex"})
	store.AddApplication(domain.Application{ID: appID, JobID: jobID, UserID: userID})
	store.AddRequirement(domain.Requirement{
		ID:          uuid.New(),
		JobID:       jobID,
		Type:        criteria.TypeCDLClass,
		Description: "Valid Class A CDL",
		Criteria:    map[string]any{"required": true, "cdl_class": "A"},
		Priority:    1,
	})

	client := &queueClient{replies: replies}
	logger := zap.NewNop()
	orchestrator := screening.NewOrchestrator(
		store,
		client,
		screening.NewEvaluator(client, logger, 0),
		screening.NewIntentClassifier(client, logger),
		screening.NewCompleter(store, client, logger),
		logger,
	)

	srv := httptest.NewServer(NewServer(orchestrator, logger).Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn, appID
}

// readUntilComplete collects chunk frames until the completion frame.
func readUntilComplete(t *testing.T, conn *websocket.Conn) (chunks string, complete outboundFrame) {
	t.Helper()
	for {
		var frame outboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read: %v", err)
		}
		switch frame.Type {
		case frameChunk:
			chunks += frame.Content
		case frameComplete:
			return chunks, frame
		case frameError:
			t.Fatalf("unexpected error frame: %s", frame.Error)
		}
	}
}

func TestStartAndFirstTurnOverWebSocket(t *testing.T) {
	t.Parallel()

	greeting := "Hi Alex! Ready for a few quick questions?"
	question := "Do you hold a valid Class A CDL?"
	conn, appID := newWSTest(t, greeting, question)

	if err := conn.WriteJSON(inboundFrame{Type: frameStart, ApplicationID: appID.String()}); err != nil {
		t.Fatalf("write: %v", err)
	}

	chunks, complete := readUntilComplete(t, conn)
	if chunks != greeting {
		t.Fatalf("expected streamed greeting %q, got %q", greeting, chunks)
	}
	if complete.Content != greeting {
		t.Fatalf("completion frame content mismatch: %q", complete.Content)
	}
	if complete.Status != string(domain.StatusPending) {
		t.Fatalf("expected PENDING, got %s", complete.Status)
	}
	if complete.ConversationID == "" {
		t.Fatal("expected a conversation id")
	}

	// Accept resolves by keyword; the question comes from the script.
	err := conn.WriteJSON(inboundFrame{
		Type:           frameMessage,
		ConversationID: complete.ConversationID,
		Content:        "yes",
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	chunks, complete = readUntilComplete(t, conn)
	if chunks != question {
		t.Fatalf("expected streamed question %q, got %q", question, chunks)
	}
	if complete.Status != string(domain.StatusOnRequirements) {
		t.Fatalf("expected ON_REQ, got %s", complete.Status)
	}
	if complete.Done {
		t.Fatal("conversation must not be done yet")
	}
}

func TestInvalidFramesProduceErrors(t *testing.T) {
	t.Parallel()

	conn, _ := newWSTest(t)

	cases := []inboundFrame{
		{Type: "bogus"},
		{Type: frameStart, ApplicationID: "not-a-uuid"},
		{Type: frameMessage, ConversationID: "not-a-uuid", Content: "hi"},
		{Type: frameMessage, ConversationID: uuid.NewString(), Content: ""},
	}

	for _, frame := range cases {
		if err := conn.WriteJSON(frame); err != nil {
			t.Fatalf("write: %v", err)
		}
		var reply outboundFrame
		if err := conn.ReadJSON(&reply); err != nil {
			t.Fatalf("read: %v", err)
		}
		if reply.Type != frameError {
			t.Fatalf("expected error frame for %+v, got %s", frame, reply.Type)
		}
		if reply.Error == "" {
			t.Fatal("expected an error message")
		}
	}
}

func TestUnknownConversationError(t *testing.T) {
	t.Parallel()

	conn, _ := newWSTest(t)

	err := conn.WriteJSON(inboundFrame{
		Type:           frameMessage,
		ConversationID: uuid.NewString(),
		Content:        "hello",
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	var reply outboundFrame
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Type != frameError || reply.Error != "not found" {
		t.Fatalf("expected not found error, got %+v", reply)
	}
}
