package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gatepass/backend/internal/models"
)

type fakeStore struct {
	mu        sync.Mutex
	regs      []models.Registration
	delivered map[uuid.UUID]time.Time
	failed    map[uuid.UUID]string
}

func newFakeStore(n int) *fakeStore {
	s := &fakeStore{
		delivered: make(map[uuid.UUID]time.Time),
		failed:    make(map[uuid.UUID]string),
	}
	for i := 0; i < n; i++ {
		s.regs = append(s.regs, models.Registration{
			ID:      uuid.New(),
			EventID: uuid.Nil,
			Name:    fmt.Sprintf("Attendee %02d", i),
			RegNo:   fmt.Sprintf("R%03d", i),
			Email:   fmt.Sprintf("a%02d@example.com", i),
		})
	}
	return s
}

func (s *fakeStore) ListUnsent(_ context.Context, _ uuid.UUID, limit int) ([]models.Registration, error) {
	if limit > 0 && limit < len(s.regs) {
		return s.regs[:limit], nil
	}
	return s.regs, nil
}

func (s *fakeStore) ListByIDs(_ context.Context, _ uuid.UUID, ids []uuid.UUID) ([]models.Registration, error) {
	want := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []models.Registration
	for _, r := range s.regs {
		if _, ok := want[r.ID]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkDelivered(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[id] = at
	return nil
}

func (s *fakeStore) MarkDeliveryFailed(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = reason
	return nil
}

type fakeAssigner struct{}

func (fakeAssigner) EnsureToken(_ context.Context, reg *models.Registration) (string, error) {
	return "token-" + reg.RegNo, nil
}

type fakeRenderer struct{}

func (fakeRenderer) RenderAndStore(_ context.Context, _ *models.Event, _ *models.Registration, _ string) ([]byte, string, error) {
	return []byte{0x89, 'P', 'N', 'G'}, "", nil
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []string
	failFor map[string]error
}

func (s *fakeSender) Send(to, subject, htmlBody string, attachment []byte, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failFor[to]; ok {
		return err
	}
	s.sent = append(s.sent, to)
	return nil
}

type fakeAudit struct {
	mu   sync.Mutex
	logs []models.EmailLog
}

func (a *fakeAudit) Record(_ context.Context, log *models.EmailLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, *log)
	return nil
}

func testEvent() *models.Event {
	return &models.Event{ID: uuid.New(), Name: "Tech Fest", Venue: "Main Hall", StartsAt: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func TestPipelineBatchesAndCompletes(t *testing.T) {
	store := newFakeStore(7)
	sender := &fakeSender{}
	audit := &fakeAudit{}
	p := NewPipeline(store, fakeAssigner{}, fakeRenderer{}, sender, audit, nil)

	events := collect(t, p.Run(context.Background(), testEvent(), Options{BatchSize: 3}))

	if len(events) != 4 {
		t.Fatalf("got %d events, want 3 progress + 1 complete", len(events))
	}
	wantSizes := []int{3, 3, 1}
	for i, ev := range events[:3] {
		if ev.Type != EventProgress {
			t.Fatalf("event %d type = %q, want progress", i, ev.Type)
		}
		prog, ok := ev.Data.(Progress)
		if !ok {
			t.Fatalf("event %d payload is %T", i, ev.Data)
		}
		if prog.Batch != i+1 || prog.Batches != 3 || prog.Total != 7 {
			t.Errorf("progress %d = %+v", i, prog)
		}
		if len(prog.Outcomes) != wantSizes[i] {
			t.Errorf("batch %d outcomes = %d, want %d", i+1, len(prog.Outcomes), wantSizes[i])
		}
		if prog.Sent+prog.Failed != prog.Processed {
			t.Errorf("batch %d: sent %d + failed %d != processed %d", i+1, prog.Sent, prog.Failed, prog.Processed)
		}
	}

	last := events[3]
	if last.Type != EventComplete {
		t.Fatalf("terminal event type = %q, want complete", last.Type)
	}
	sum, ok := last.Data.(Summary)
	if !ok {
		t.Fatalf("terminal payload is %T", last.Data)
	}
	if sum.Processed != 7 || sum.Sent != 7 || sum.Failed != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if len(store.delivered) != 7 || len(sender.sent) != 7 {
		t.Errorf("delivered = %d, sent = %d, want 7 each", len(store.delivered), len(sender.sent))
	}
	if len(audit.logs) != 7 {
		t.Errorf("audit logs = %d, want 7", len(audit.logs))
	}
}

func TestPipelinePerRecipientFailureDoesNotStopTheRun(t *testing.T) {
	store := newFakeStore(5)
	badEmail := store.regs[2].Email
	sender := &fakeSender{failFor: map[string]error{badEmail: errors.New("mailbox full")}}
	audit := &fakeAudit{}
	p := NewPipeline(store, fakeAssigner{}, fakeRenderer{}, sender, audit, nil)

	events := collect(t, p.Run(context.Background(), testEvent(), Options{BatchSize: 2}))

	last := events[len(events)-1]
	sum, ok := last.Data.(Summary)
	if !ok || last.Type != EventComplete {
		t.Fatalf("terminal event = %+v", last)
	}
	if sum.Processed != 5 || sum.Sent != 4 || sum.Failed != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if reason := store.failed[store.regs[2].ID]; !strings.Contains(reason, "mailbox full") {
		t.Errorf("failure reason = %q", reason)
	}
	if _, ok := store.delivered[store.regs[2].ID]; ok {
		t.Error("failed recipient marked delivered")
	}

	var failedOutcome *RecipientOutcome
	for _, ev := range events {
		prog, ok := ev.Data.(Progress)
		if !ok {
			continue
		}
		for i := range prog.Outcomes {
			if prog.Outcomes[i].Email == badEmail {
				failedOutcome = &prog.Outcomes[i]
			}
		}
	}
	if failedOutcome == nil {
		t.Fatal("failed recipient missing from progress outcomes")
	}
	if failedOutcome.Status != models.DeliveryStateFailed || failedOutcome.Error == "" {
		t.Errorf("failed outcome = %+v", failedOutcome)
	}

	var failedLogs int
	for _, log := range audit.logs {
		if log.Status == models.EmailLogStatusFailed {
			failedLogs++
			if log.ErrorMessage == "" {
				t.Error("failed audit log has no error message")
			}
		}
	}
	if failedLogs != 1 {
		t.Errorf("failed audit logs = %d, want 1", failedLogs)
	}
}

func TestPipelineSelectionByIDs(t *testing.T) {
	store := newFakeStore(6)
	ids := []uuid.UUID{store.regs[1].ID, store.regs[4].ID}
	sender := &fakeSender{}
	p := NewPipeline(store, fakeAssigner{}, fakeRenderer{}, sender, &fakeAudit{}, nil)

	events := collect(t, p.Run(context.Background(), testEvent(), Options{
		BatchSize: 10,
		Selection: Selection{IDs: ids},
	}))

	sum := events[len(events)-1].Data.(Summary)
	if sum.Processed != 2 || sum.Sent != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if len(sender.sent) != 2 {
		t.Errorf("sent = %v, want the two selected recipients", sender.sent)
	}
}

func TestPipelineSelectionLimit(t *testing.T) {
	store := newFakeStore(6)
	p := NewPipeline(store, fakeAssigner{}, fakeRenderer{}, &fakeSender{}, &fakeAudit{}, nil)

	events := collect(t, p.Run(context.Background(), testEvent(), Options{
		BatchSize: 10,
		Selection: Selection{Limit: 4},
	}))
	sum := events[len(events)-1].Data.(Summary)
	if sum.Processed != 4 {
		t.Errorf("summary = %+v, want 4 processed", sum)
	}
}

func TestPipelineEmptyRecipientSet(t *testing.T) {
	store := newFakeStore(0)
	p := NewPipeline(store, fakeAssigner{}, fakeRenderer{}, &fakeSender{}, &fakeAudit{}, nil)

	events := collect(t, p.Run(context.Background(), testEvent(), Options{BatchSize: 5}))
	if len(events) != 1 || events[0].Type != EventComplete {
		t.Fatalf("events = %+v, want a single complete event", events)
	}
	sum := events[0].Data.(Summary)
	if sum.Processed != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestClampHelpers(t *testing.T) {
	if got := ClampBatchSize(0, 10, 1, 20); got != 10 {
		t.Errorf("zero request = %d, want default 10", got)
	}
	if got := ClampBatchSize(100, 10, 1, 20); got != 20 {
		t.Errorf("oversized request = %d, want max 20", got)
	}
	if got := ClampBatchSize(-3, 10, 1, 20); got != 1 {
		t.Errorf("negative request = %d, want min 1", got)
	}
	if got := ClampDelay(0, 2*time.Second, 500*time.Millisecond, 5*time.Second); got != 2*time.Second {
		t.Errorf("zero delay = %v, want default", got)
	}
	if got := ClampDelay(time.Minute, 2*time.Second, 500*time.Millisecond, 5*time.Second); got != 5*time.Second {
		t.Errorf("oversized delay = %v, want max", got)
	}
	if got := ClampDelay(time.Millisecond, 2*time.Second, 500*time.Millisecond, 5*time.Second); got != 500*time.Millisecond {
		t.Errorf("undersized delay = %v, want min", got)
	}
}
