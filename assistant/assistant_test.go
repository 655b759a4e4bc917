package assistant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHasWebSearch(t *testing.T) {
	tests := []struct {
		name string
		a    *Assistant
		want bool
	}{
		{name: "nil assistant", a: nil, want: false},
		{name: "no rag", a: &Assistant{}, want: false},
		{name: "empty rag", a: &Assistant{RAG: &RAG{}}, want: false},
		{name: "all domains", a: &Assistant{RAG: &RAG{AllowAllDomains: true}}, want: true},
		{name: "allowed links", a: &Assistant{RAG: &RAG{AllowedLinks: []string{"https://go.dev"}}}, want: true},
		{name: "allowed domains", a: &Assistant{RAG: &RAG{AllowedDomains: []string{"go.dev"}}}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.HasWebSearch(); got != tt.want {
				t.Errorf("HasWebSearch() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasDynamicPrompt(t *testing.T) {
	var none *Assistant
	if none.HasDynamicPrompt() {
		t.Error("Expected nil assistant to have no dynamic prompt")
	}
	if !(&Assistant{DynamicPrompt: true}).HasDynamicPrompt() {
		t.Error("Expected dynamic prompt")
	}
}

func TestPrepromptProcessorExpandsURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("plain facts"))
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html><body><p>html facts</p><script>x()</script></body></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewPrepromptProcessor(WithLocalFetch(true))
	in := "A: {{url=" + srv.URL + "/plain}} B: {{ url=" + srv.URL + "/page }} C: {{url=" + srv.URL + "/missing}}"

	got, err := p.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	for _, want := range []string{"A: plain facts", "B: html facts", "C: URL couldn't be fetched, error 404"} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected %q in %q", want, got)
		}
	}
	if strings.Contains(got, "x()") {
		t.Errorf("Expected scripts to be stripped, got %q", got)
	}
}

func TestPrepromptProcessorRejectsLocalAddresses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("local address must not be fetched")
	}))
	defer srv.Close()

	got, err := NewPrepromptProcessor().Process(context.Background(), "{{url="+srv.URL+"}}")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got != errLocalAddress.Error() {
		t.Errorf("Process() = %q", got)
	}
}

func TestPrepromptProcessorToday(t *testing.T) {
	clock := func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }
	got, err := NewPrepromptProcessor(WithClock(clock)).Process(context.Background(), "Today is {{today}}.")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got != "Today is 2024-03-09." {
		t.Errorf("Process() = %q", got)
	}
}
