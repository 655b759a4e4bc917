// Package websearch answers a question with web pages: it queries a search
// API, fetches the top results and keeps a token-bounded extract of each.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/sweetpotato0/textgen/assistant"
	"github.com/sweetpotato0/textgen/config"
	"github.com/sweetpotato0/textgen/message"
	"github.com/sweetpotato0/textgen/pkg/htmltext"
	"github.com/sweetpotato0/textgen/pkg/logging"
	"github.com/sweetpotato0/textgen/pkg/telemetry"
	"github.com/sweetpotato0/textgen/tokenizer"
)

// Config configures the web search runner.
type Config struct {
	// SearchURL is a SearxNG-compatible endpoint answering GET ?q=...&format=json.
	SearchURL        string        `koanf:"search_url"`
	MaxResults       int           `koanf:"max_results"`
	MaxContextTokens int           `koanf:"max_context_tokens"`
	FetchTimeout     time.Duration `koanf:"fetch_timeout"`
	Concurrency      int           `koanf:"concurrency"`
}

const maxPageBytes = 2 << 20

// Context is the extract of one page used to answer.
type Context struct {
	Source message.Source `json:"source"`
	Text   string         `json:"text"`
}

// WebSearch is the outcome of a search.
type WebSearch struct {
	Prompt      string           `json:"prompt"`
	SearchQuery string           `json:"searchQuery"`
	Results     []message.Source `json:"results"`
	Contexts    []Context        `json:"contextSources"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// ContextText renders the page extracts for a prompt.
func (w *WebSearch) ContextText() string {
	if w == nil {
		return ""
	}
	parts := make([]string, 0, len(w.Contexts))
	for i, c := range w.Contexts {
		parts = append(parts, fmt.Sprintf("Source [%d]\n%s", i+1, strings.TrimSpace(c.Text)))
	}
	return strings.Join(parts, "\n\n----------\n\n")
}

// Runner performs web searches.
type Runner struct {
	cfg    Config
	client *http.Client
	tok    tokenizer.Tokenizer
	logger *slog.Logger
	tracer trace.Tracer
}

// Option customizes a Runner.
type Option func(*Runner)

// WithHTTPClient sets the client used for searches and page fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) {
		if c != nil {
			r.client = c
		}
	}
}

// WithTokenizer sets the tokenizer bounding page extracts.
func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(r *Runner) {
		if t != nil {
			r.tok = t
		}
	}
}

// New validates cfg and creates a runner.
func New(cfg Config, opts ...Option) (*Runner, error) {
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 5
	}
	if cfg.MaxContextTokens == 0 {
		cfg.MaxContextTokens = 2000
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}

	v := config.NewValidator()
	v.RequireURL("search_url", cfg.SearchURL)
	v.RequirePositive("max_results", cfg.MaxResults)
	v.RequirePositive("max_context_tokens", cfg.MaxContextTokens)
	v.RequirePositive("concurrency", cfg.Concurrency)
	if err := v.Error(); err != nil {
		return nil, fmt.Errorf("websearch: %w", err)
	}

	r := &Runner{
		cfg:    cfg,
		client: &http.Client{},
		tok:    tokenizer.NewSimpleTokenizer(),
		logger: logging.WithComponent("websearch"),
		tracer: telemetry.Tracer("websearch"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run searches the web for the last user message of messages. It yields
// progress updates and ends with a webSearch/finished update whose Payload
// is the *WebSearch. Search failures are reported as webSearch/error updates;
// the sequence only fails when ctx is done.
func (r *Runner) Run(ctx context.Context, convID string, messages []*message.Message, rag *assistant.RAG) iter.Seq2[*message.Update, error] {
	return func(yield func(*message.Update, error) bool) {
		var prompt string
		if last := message.LastOfRole(messages, message.RoleUser); last != nil {
			prompt = last.Content
		}
		ws, ok := r.search(ctx, prompt, rag, func(u *message.Update) bool { return yield(u, nil) })
		if !ok {
			return
		}
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		r.logger.Info("web search finished", "conversation_id", convID, "sources", len(ws.Contexts))
		yield(message.NewWebSearchFinishedUpdate(ws), nil)
	}
}

// search runs one search, reporting progress to emit. It returns false when
// emit asked to stop.
func (r *Runner) search(ctx context.Context, prompt string, rag *assistant.RAG, emit func(*message.Update) bool) (*WebSearch, bool) {
	ctx, span := r.tracer.Start(ctx, "textgen.websearch")
	defer span.End()

	ws := &WebSearch{Prompt: prompt, SearchQuery: searchQuery(prompt, rag), CreatedAt: time.Now()}
	span.SetAttributes(attribute.String("query", ws.SearchQuery))

	var links []message.Source
	if rag != nil && !rag.AllowAllDomains && len(rag.AllowedLinks) > 0 {
		if !emit(message.NewWebSearchUpdate("Using links specified in Assistant")) {
			return ws, false
		}
		for _, l := range rag.AllowedLinks {
			links = append(links, message.Source{Link: l, Title: l})
		}
	} else {
		if strings.TrimSpace(prompt) == "" {
			return ws, emit(message.NewWebSearchErrorUpdate("No question to search for"))
		}
		if !emit(message.NewWebSearchUpdate("Searching the web", ws.SearchQuery)) {
			return ws, false
		}
		results, err := r.query(ctx, ws.SearchQuery)
		if err != nil {
			r.logger.Warn("web search failed", "query", ws.SearchQuery, "error", err)
			span.RecordError(err)
			return ws, emit(message.NewWebSearchErrorUpdate("An error occurred", err.Error()))
		}
		links = filterResults(results, rag, r.cfg.MaxResults)
	}
	ws.Results = links

	if len(links) == 0 {
		return ws, emit(message.NewWebSearchErrorUpdate("No results found"))
	}
	for _, l := range links {
		if !emit(message.NewWebSearchUpdate("Browsing search results", l.Link)) {
			return ws, false
		}
	}

	ws.Contexts = r.fetchAll(ctx, links)
	if len(ws.Contexts) == 0 {
		return ws, emit(message.NewWebSearchErrorUpdate("No content could be extracted from the results"))
	}

	sources := make([]message.Source, 0, len(ws.Contexts))
	for _, c := range ws.Contexts {
		sources = append(sources, c.Source)
	}
	return ws, emit(message.NewWebSearchSourcesUpdate(sources))
}

func searchQuery(prompt string, rag *assistant.RAG) string {
	q := strings.TrimSpace(prompt)
	if rag == nil || rag.AllowAllDomains || len(rag.AllowedDomains) == 0 {
		return q
	}
	filters := make([]string, 0, len(rag.AllowedDomains))
	for _, d := range rag.AllowedDomains {
		filters = append(filters, "site:"+d)
	}
	return q + " " + strings.Join(filters, " OR ")
}

type searchResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

func (r *Runner) query(ctx context.Context, q string) ([]message.Source, error) {
	u, err := url.Parse(r.cfg.SearchURL)
	if err != nil {
		return nil, err
	}
	params := u.Query()
	params.Set("q", q)
	params.Set("format", "json")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("search failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := make([]message.Source, 0, len(sr.Results))
	for _, res := range sr.Results {
		out = append(out, message.Source{Link: res.URL, Title: res.Title})
	}
	return out, nil
}

// filterResults keeps valid, unique http(s) links within the allowed domains.
func filterResults(results []message.Source, rag *assistant.RAG, limit int) []message.Source {
	seen := make(map[string]bool)
	var out []message.Source
	for _, res := range results {
		u, err := url.Parse(res.Link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || seen[res.Link] {
			continue
		}
		if rag != nil && !rag.AllowAllDomains && len(rag.AllowedDomains) > 0 && !domainAllowed(u.Hostname(), rag.AllowedDomains) {
			continue
		}
		seen[res.Link] = true
		out = append(out, res)
		if len(out) == limit {
			break
		}
	}
	return out
}

func domainAllowed(host string, domains []string) bool {
	host = strings.ToLower(host)
	for _, d := range domains {
		d = strings.ToLower(strings.TrimPrefix(d, "www."))
		if host == d || strings.HasSuffix(host, "."+d) || host == "www."+d {
			return true
		}
	}
	return false
}

// fetchAll downloads the pages concurrently and keeps the ones that yielded
// text, in the order of links.
func (r *Runner) fetchAll(ctx context.Context, links []message.Source) []Context {
	extracts := make([]*Context, len(links))
	budget := r.cfg.MaxContextTokens / len(links)
	if budget < 1 {
		budget = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, l := range links {
		g.Go(func() error {
			page, err := r.fetch(gctx, l.Link)
			if err != nil {
				r.logger.Debug("page skipped", "url", l.Link, "error", err)
				return nil
			}
			text := tokenizer.Truncate(r.tok, page.Text, budget)
			if strings.TrimSpace(text) == "" {
				return nil
			}
			title := l.Title
			if page.Title != "" {
				title = page.Title
			}
			extracts[i] = &Context{Source: message.Source{Link: l.Link, Title: title}, Text: text}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Context, 0, len(extracts))
	for _, c := range extracts {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

func (r *Runner) fetch(ctx context.Context, link string) (*htmltext.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return htmltext.Extract(io.LimitReader(resp.Body, maxPageBytes))
}
