package textgen

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"
)

func seqOf(values ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, v := range values {
			if !yield(v, nil) {
				return
			}
		}
	}
}

func TestMergeDeliversInArrivalOrder(t *testing.T) {
	bDone := make(chan struct{})
	a := func(ctx context.Context) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			select {
			case <-bDone:
			case <-ctx.Done():
				return
			}
			for _, v := range []string{"a1", "a2"} {
				if !yield(v, nil) {
					return
				}
			}
		}
	}
	b := func(ctx context.Context) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			if !yield("b1", nil) {
				return
			}
			close(bDone)
		}
	}

	var got []string
	for v, err := range Merge(context.Background(), a, b) {
		if err != nil {
			t.Fatalf("Merge: %v", err)
		}
		got = append(got, v)
	}
	want := []string{"b1", "a1", "a2"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
			break
		}
	}
}

func TestMergeCompletesAfterAllSources(t *testing.T) {
	count := 0
	for _, err := range Merge(context.Background(), FromSeq(seqOf("a", "b")), FromSeq(seqOf()), FromSeq(seqOf("c"))) {
		if err != nil {
			t.Fatalf("Merge: %v", err)
		}
		count++
	}
	if count != 3 {
		t.Errorf("Expected 3 values, got %d", count)
	}
}

func TestMergeFailsFastAndAbandonsOthers(t *testing.T) {
	boom := errors.New("boom")
	abandoned := make(chan struct{})
	stuck := func(ctx context.Context) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			<-ctx.Done()
			close(abandoned)
		}
	}
	failing := FromSeq(func(yield func(string, error) bool) {
		if !yield("x", nil) {
			return
		}
		yield("", boom)
	})

	var values []string
	var gotErr error
	for v, err := range Merge(context.Background(), stuck, failing) {
		if err != nil {
			gotErr = err
			break
		}
		values = append(values, v)
	}
	if !errors.Is(gotErr, boom) {
		t.Fatalf("Expected boom, got %v", gotErr)
	}
	if len(values) != 1 || values[0] != "x" {
		t.Errorf("Expected the value produced before the fault, got %v", values)
	}
	select {
	case <-abandoned:
	case <-time.After(time.Second):
		t.Error("Expected the remaining source to be cancelled")
	}
}

func TestMergeEarlyStopCancelsSources(t *testing.T) {
	cancelled := make(chan struct{})
	endless := func(ctx context.Context) iter.Seq2[int, error] {
		return func(yield func(int, error) bool) {
			defer close(cancelled)
			for i := 0; ; i++ {
				if ctx.Err() != nil || !yield(i, nil) {
					return
				}
			}
		}
	}

	for v := range Merge(context.Background(), endless) {
		if v == 2 {
			break
		}
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Error("Expected the source to stop after the consumer left")
	}
}

func TestMergeReportsParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocked := func(ctx context.Context) iter.Seq2[int, error] {
		return func(yield func(int, error) bool) {
			<-ctx.Done()
		}
	}
	var gotErr error
	for _, err := range Merge(ctx, blocked) {
		gotErr = err
	}
	if !errors.Is(gotErr, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", gotErr)
	}
}
