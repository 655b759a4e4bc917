package runner

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sweetpotato0/textgen/message"
	"github.com/sweetpotato0/textgen/textgen"
)

// mockGenerator answers with the last user message, after an optional delay.
type mockGenerator struct {
	delay   time.Duration
	running atomic.Int32
	peak    atomic.Int32
	panicOn string
}

func (m *mockGenerator) TextGeneration(ctx context.Context, c *textgen.Context) iter.Seq2[*message.Update, error] {
	return func(yield func(*message.Update, error) bool) {
		n := m.running.Add(1)
		defer m.running.Add(-1)
		for {
			p := m.peak.Load()
			if n <= p || m.peak.CompareAndSwap(p, n) {
				break
			}
		}

		if !yield(message.NewStatusUpdate(message.StatusStarted, ""), nil) {
			return
		}
		last := message.LastOfRole(c.Messages, message.RoleUser)
		if last != nil && last.Content == m.panicOn {
			panic("generator exploded")
		}
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			yield(nil, ctx.Err())
			return
		}
		if last != nil && last.Content == "fail" {
			yield(message.NewStatusUpdate(message.StatusError, "job failed"), nil)
			return
		}
		if !yield(message.NewTitleUpdate("Title"), nil) {
			return
		}
		yield(message.NewFinalAnswerUpdate("echo: "+last.Content, false), nil)
	}
}

func ctxFor(input string) *textgen.Context {
	return &textgen.Context{Messages: []*message.Message{message.NewMessage(message.RoleUser, input)}}
}

func TestAnswer(t *testing.T) {
	r := New(&mockGenerator{}, 1)

	ans, err := r.Answer(context.Background(), ctxFor("hi"))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ans.Text != "echo: hi" || ans.Title != "Title" || ans.Error != "" {
		t.Errorf("Unexpected answer %+v", ans)
	}

	ans, err = r.Answer(context.Background(), ctxFor("fail"))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ans.Error != "job failed" {
		t.Errorf("Expected the status error to be captured, got %+v", ans)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	gen := &mockGenerator{delay: 20 * time.Millisecond}
	pr := NewParallelRunner(gen, 2)

	tasks := make([]*Task, 6)
	for i := range tasks {
		tasks[i] = &Task{ID: string(rune('a' + i)), Context: ctxFor("hi")}
	}
	results := pr.RunParallel(context.Background(), tasks)

	if len(results) != len(tasks) {
		t.Fatalf("Expected %d results, got %d", len(tasks), len(results))
	}
	for i, result := range results {
		if result.TaskID != tasks[i].ID {
			t.Errorf("Result %d: expected TaskID %s, got %s", i, tasks[i].ID, result.TaskID)
		}
		if result.Error != nil {
			t.Errorf("Result %d: unexpected error %v", i, result.Error)
		}
	}
	if peak := gen.peak.Load(); peak > 2 {
		t.Errorf("Expected at most 2 concurrent generations, got %d", peak)
	}
}

func TestRunWaitsForSlotUntilCancelled(t *testing.T) {
	gen := &mockGenerator{delay: time.Second}
	r := New(gen, 1)

	started := make(chan struct{})
	go func() {
		for u := range r.Run(context.Background(), ctxFor("slow")) {
			if u != nil && u.Status == message.StatusStarted {
				close(started)
			}
		}
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Answer(ctx, ctxFor("hi"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded while waiting for a slot, got %v", err)
	}
}

func TestRunParallelRecoversPanics(t *testing.T) {
	pr := NewParallelRunner(&mockGenerator{panicOn: "boom"}, 2)

	results := pr.RunParallel(context.Background(), []*Task{
		{ID: "ok", Context: ctxFor("hi")},
		{ID: "bad", Context: ctxFor("boom")},
	})
	if results[0].Error != nil {
		t.Errorf("Expected first task to succeed, got %v", results[0].Error)
	}
	if results[1].Error == nil {
		t.Error("Expected panic to be reported as an error")
	}
}

func TestRunParallelWithEmptyTasks(t *testing.T) {
	pr := NewParallelRunner(&mockGenerator{}, 10)
	if results := pr.RunParallel(context.Background(), nil); len(results) != 0 {
		t.Errorf("Expected 0 results for nil tasks, got %d", len(results))
	}
}
