// Package runner bounds the number of generations running at once.
package runner

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/sweetpotato0/textgen/message"
	"github.com/sweetpotato0/textgen/textgen"
)

// Generator produces the updates of one generation.
type Generator interface {
	TextGeneration(ctx context.Context, c *textgen.Context) iter.Seq2[*message.Update, error]
}

// Runner executes generations
type Runner interface {
	// Run streams the updates of a generation once a slot is free
	Run(ctx context.Context, c *textgen.Context) iter.Seq2[*message.Update, error]

	// Answer runs a generation to completion and returns its outcome
	Answer(ctx context.Context, c *textgen.Context) (*Answer, error)
}

// Answer is the outcome of a completed generation.
type Answer struct {
	Text        string
	Interrupted bool
	Title       string
	// Error is the message of a status:error update, if any.
	Error string
}

// runner is the default implementation of Runner
type runner struct {
	gen       Generator
	semaphore chan struct{}
}

// New creates a new runner
func New(gen Generator, maxConcurrency int) Runner {
	if maxConcurrency <= 0 {
		maxConcurrency = 10 // Default concurrency
	}
	return &runner{
		gen:       gen,
		semaphore: make(chan struct{}, maxConcurrency),
	}
}

// Run streams a generation. The slot is held until the sequence ends or the
// consumer stops.
func (r *runner) Run(ctx context.Context, c *textgen.Context) iter.Seq2[*message.Update, error] {
	return func(yield func(*message.Update, error) bool) {
		// Acquire semaphore
		select {
		case r.semaphore <- struct{}{}:
			defer func() { <-r.semaphore }()
		case <-ctx.Done():
			yield(nil, ctx.Err())
			return
		}

		for u, err := range r.gen.TextGeneration(ctx, c) {
			if !yield(u, err) || err != nil {
				return
			}
		}
	}
}

// Answer drains a generation
func (r *runner) Answer(ctx context.Context, c *textgen.Context) (*Answer, error) {
	ans := &Answer{}
	for u, err := range r.Run(ctx, c) {
		if err != nil {
			return ans, err
		}
		switch u.Type {
		case message.UpdateFinalAnswer:
			ans.Text = u.Text
			ans.Interrupted = u.Interrupted
		case message.UpdateTitle:
			ans.Title = u.Title
		case message.UpdateStatus:
			if u.Status == message.StatusError {
				ans.Error = u.Message
			}
		}
	}
	return ans, nil
}

// ParallelRunner executes multiple generations in parallel
type ParallelRunner struct {
	runner Runner
}

// NewParallelRunner creates a new parallel runner
func NewParallelRunner(gen Generator, maxConcurrency int) *ParallelRunner {
	return &ParallelRunner{
		runner: New(gen, maxConcurrency),
	}
}

// Task represents a task to be executed
type Task struct {
	ID      string
	Context *textgen.Context
}

// Result represents the result of a task execution
type Result struct {
	TaskID string
	Answer *Answer
	Error  error
}

// RunParallel executes multiple tasks in parallel
func (pr *ParallelRunner) RunParallel(ctx context.Context, tasks []*Task) []*Result {
	results := make([]*Result, len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		go func(index int, t *Task) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[index] = &Result{
						TaskID: t.ID,
						Error:  fmt.Errorf("panic in task %s: %v", t.ID, r),
					}
				}
			}()

			ans, err := pr.runner.Answer(ctx, t.Context)
			results[index] = &Result{
				TaskID: t.ID,
				Answer: ans,
				Error:  err,
			}
		}(i, task)
	}

	wg.Wait()
	return results
}
