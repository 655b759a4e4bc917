package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sweetpotato0/textgen/pkg/htmltext"
	"github.com/sweetpotato0/textgen/pkg/logging"
)

var (
	urlTemplate   = regexp.MustCompile(`{{\s?url=(.*?)\s?}}`)
	todayTemplate = regexp.MustCompile(`{{\s?today\s?}}`)
)

const defaultMaxFetchBytes = 1 << 20

var errLocalAddress = errors.New("URL couldn't be fetched, it resolved to a local address.")

// PrepromptProcessor expands the templates of a dynamic preprompt:
//
//	{{url=https://...}}  replaced by the text of the page
//	{{today}}            replaced by the current date
//
// A page that cannot be fetched is replaced by the reason, so the model
// still sees something meaningful.
type PrepromptProcessor struct {
	client          *http.Client
	allowLocalFetch bool
	maxBytes        int64
	now             func() time.Time
	resolver        *net.Resolver
	logger          *slog.Logger
}

// ProcessorOption customizes a PrepromptProcessor.
type ProcessorOption func(*PrepromptProcessor)

// WithHTTPClient sets the client used to fetch pages.
func WithHTTPClient(c *http.Client) ProcessorOption {
	return func(p *PrepromptProcessor) { p.client = c }
}

// WithLocalFetch allows fetching pages served from loopback or private addresses.
func WithLocalFetch(allow bool) ProcessorOption {
	return func(p *PrepromptProcessor) { p.allowLocalFetch = allow }
}

// WithClock overrides the time source of {{today}}.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *PrepromptProcessor) { p.now = now }
}

// NewPrepromptProcessor creates a processor.
func NewPrepromptProcessor(opts ...ProcessorOption) *PrepromptProcessor {
	p := &PrepromptProcessor{
		client:   &http.Client{Timeout: 10 * time.Second},
		maxBytes: defaultMaxFetchBytes,
		now:      time.Now,
		resolver: net.DefaultResolver,
		logger:   logging.WithComponent("assistant"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process expands every template of preprompt.
func (p *PrepromptProcessor) Process(ctx context.Context, preprompt string) (string, error) {
	preprompt = todayTemplate.ReplaceAllString(preprompt, p.now().Format("2006-01-02"))

	fetched := make(map[string]string)
	for _, match := range urlTemplate.FindAllStringSubmatch(preprompt, -1) {
		if _, done := fetched[match[0]]; done {
			continue
		}
		text, err := p.fetch(ctx, strings.TrimSpace(match[1]))
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			p.logger.Warn("preprompt url not fetched", "url", match[1], "error", err)
			text = err.Error()
		}
		fetched[match[0]] = text
	}
	for tmpl, text := range fetched {
		preprompt = strings.ReplaceAll(preprompt, tmpl, text)
	}
	return preprompt, nil
}

func (p *PrepromptProcessor) fetch(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("URL couldn't be fetched, %q is not a valid http(s) URL", raw)
	}
	if !p.allowLocalFetch {
		local, err := p.isLocal(ctx, u.Hostname())
		if err != nil {
			return "", fmt.Errorf("URL couldn't be fetched, %v", err)
		}
		if local {
			return "", errLocalAddress
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("URL couldn't be fetched, %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("URL couldn't be fetched, error %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, p.maxBytes)
	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType == "text/html" {
		page, err := htmltext.Extract(body)
		if err != nil {
			return "", fmt.Errorf("URL couldn't be parsed, %w", err)
		}
		return page.Text, nil
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("URL couldn't be read, %w", err)
	}
	return string(data), nil
}

func (p *PrepromptProcessor) isLocal(ctx context.Context, host string) (bool, error) {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true, nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return isLocalIP(ip), nil
	}
	addrs, err := p.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return false, err
	}
	for _, a := range addrs {
		if isLocalIP(a.IP) {
			return true, nil
		}
	}
	return false, nil
}

func isLocalIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}
