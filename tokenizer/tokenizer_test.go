package tokenizer

import (
	"sync"
	"testing"
)

func TestSimpleTokenizerCount(t *testing.T) {
	tok := NewSimpleTokenizer()

	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"hello world", 2},
		{"hello, world!", 4},
		{"价格是 42 元", 5},
	}
	for _, tt := range tests {
		if got := tok.CountTokens(tt.text); got != tt.want {
			t.Errorf("CountTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestSimpleTokenizerEncodeDecode(t *testing.T) {
	tok := NewSimpleTokenizer()
	ids := tok.Encode("go is fun go")
	if len(ids) != 4 {
		t.Fatalf("Expected 4 ids, got %v", ids)
	}
	if ids[0] != ids[3] {
		t.Errorf("Expected repeated token to reuse its id, got %v", ids)
	}
	if got := tok.DecodeIds(ids[:3]); got != "go is fun" {
		t.Errorf("DecodeIds = %q", got)
	}
}

func TestSimpleTokenizerConcurrentEncode(t *testing.T) {
	tok := NewSimpleTokenizer()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok.Encode("the quick brown fox jumps over the lazy dog")
		}()
	}
	wg.Wait()
	if len(tok.vocab) != 8 {
		t.Errorf("Expected 8 distinct tokens, got %d", len(tok.vocab))
	}
}

func TestTruncate(t *testing.T) {
	tok := NewSimpleTokenizer()

	if got := Truncate(tok, "one two three", 5); got != "one two three" {
		t.Errorf("Expected text within budget untouched, got %q", got)
	}
	if got := Truncate(tok, "one two three four", 2); got != "one two " {
		t.Errorf("Truncate = %q, want %q", got, "one two ")
	}
	if got := Truncate(tok, "anything", 0); got != "" {
		t.Errorf("Expected empty string for zero budget, got %q", got)
	}
}
