// Package forum talks to a Vanilla forum: it signs in, and reads the
// discussions a profile started.
package forum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mucstudio/let-monitor/internal/parser"
	"github.com/mucstudio/let-monitor/pkg/models"
	"golang.org/x/time/rate"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// maxPageSize bounds how much of a response is read
const maxPageSize = 4 << 20

// ClientConfig configures a Client
type ClientConfig struct {
	BaseURL   string
	RateLimit float64 // requests per second
	RateBurst int
	Transport http.RoundTripper // nil uses http.DefaultTransport
}

// Client performs forum HTTP requests. It is safe for concurrent use;
// all requests share one rate limiter.
type Client struct {
	base      *url.URL
	transport http.RoundTripper
	limiter   *rate.Limiter
	text      *parser.HTMLParser
	logger    *slog.Logger
}

// NewClient creates a new forum client
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid forum base url %q", cfg.BaseURL)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		base:      base,
		transport: transport,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), burst),
		text:      parser.NewHTMLParser(),
		logger:    logger.With("component", "forum"),
	}, nil
}

// storedCookie is the persisted form of a session cookie
type storedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Login signs in with the account credentials and returns the session
// cookies as an opaque blob. The sign-in is verified by loading the
// account's own profile.
func (c *Client) Login(ctx context.Context, account *models.Account) ([]byte, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	httpClient := &http.Client{Transport: c.transport, Jar: jar}

	signinURL := c.url("/entry/signin")

	// The sign-in form carries hidden anti-forgery fields that must be echoed back
	form := url.Values{}
	resp, err := c.do(ctx, httpClient, "login", http.MethodGet, signinURL, nil)
	if err != nil {
		return nil, err
	}
	if doc, err := c.readDocument(resp); err == nil {
		doc.Find("form input[type=hidden]").Each(func(_ int, s *goquery.Selection) {
			if name, ok := s.Attr("name"); ok && name != "" {
				form.Set(name, s.AttrOr("value", ""))
			}
		})
	}
	form.Set("Email", account.ForumUsername)
	form.Set("Password", account.ForumPassword)
	form.Set("RememberMe", "1")

	resp, err = c.do(ctx, httpClient, "login", http.MethodPost, signinURL, form)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Kind: kindForStatus(resp.StatusCode), Op: "login", URL: signinURL, Err: &statusError{Code: resp.StatusCode}}
	}

	verifyURL := c.url("/profile/" + url.PathEscape(account.ForumUsername))
	resp, err = c.do(ctx, httpClient, "verify", http.MethodGet, verifyURL, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &FetchError{Kind: kindForStatus(resp.StatusCode), Op: "verify", URL: verifyURL, Err: &statusError{Code: resp.StatusCode}}
	}
	doc, err := c.readDocument(resp)
	if err != nil {
		return nil, &FetchError{Kind: ParseFailure, Op: "verify", URL: verifyURL, Err: err}
	}
	if signedOut(doc) {
		return nil, &FetchError{Kind: AuthRejected, Op: "verify", URL: verifyURL, Err: errors.New("credentials were not accepted")}
	}

	var cookies []storedCookie
	for _, ck := range jar.Cookies(c.base) {
		cookies = append(cookies, storedCookie{Name: ck.Name, Value: ck.Value})
	}
	if len(cookies) == 0 {
		return nil, &FetchError{Kind: AuthRejected, Op: "login", URL: signinURL, Err: errors.New("no session cookie issued")}
	}

	c.logger.Info("Signed in to forum", "username", account.ForumUsername, "cookies", len(cookies))
	return json.Marshal(cookies)
}

// FetchProfilePosts returns the discussions started by username, newest
// first, using the session cookies in blob. Redirects are not followed:
// a redirect to the sign-in page means the session was rejected.
func (c *Client) FetchProfilePosts(ctx context.Context, blob []byte, username string) ([]models.Post, error) {
	pageURL := c.url("/profile/" + url.PathEscape(username) + "/content")

	var cookies []storedCookie
	if err := json.Unmarshal(blob, &cookies); err != nil {
		return nil, &FetchError{Kind: AuthRejected, Op: "fetch", URL: pageURL, Err: fmt.Errorf("decode session cookies: %w", err)}
	}

	httpClient := &http.Client{
		Transport: c.transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := c.doWith(ctx, httpClient, "fetch", pageURL, func(req *http.Request) {
		for _, ck := range cookies {
			req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
		}
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		loc := resp.Header.Get("Location")
		kind := ParseFailure
		if strings.Contains(loc, "/entry/signin") {
			kind = AuthRejected
		}
		return nil, &FetchError{Kind: kind, Op: "fetch", URL: pageURL, Err: fmt.Errorf("redirected to %q", loc)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Kind: kindForStatus(resp.StatusCode), Op: "fetch", URL: pageURL, Err: &statusError{Code: resp.StatusCode}}
	}

	posts, err := parseProfilePosts(io.LimitReader(resp.Body, maxPageSize), c.base, username, c.text)
	if errors.Is(err, errSignedOut) {
		return nil, &FetchError{Kind: AuthRejected, Op: "fetch", URL: pageURL, Err: err}
	}
	if err != nil {
		return nil, &FetchError{Kind: ParseFailure, Op: "fetch", URL: pageURL, Err: err}
	}

	c.logger.Debug("Profile page parsed", "username", username, "posts", len(posts))
	return posts, nil
}

func (c *Client) url(path string) string {
	return c.base.String() + path
}

func (c *Client) do(ctx context.Context, httpClient *http.Client, op, method, target string, form url.Values) (*http.Response, error) {
	return c.doRequest(ctx, httpClient, op, method, target, form, nil)
}

func (c *Client) doWith(ctx context.Context, httpClient *http.Client, op, target string, prepare func(*http.Request)) (*http.Response, error) {
	return c.doRequest(ctx, httpClient, op, http.MethodGet, target, nil, prepare)
}

func (c *Client) doRequest(ctx context.Context, httpClient *http.Client, op, method, target string, form url.Values, prepare func(*http.Request)) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Kind: Transient, Op: op, URL: target, Err: err}
	}

	var body io.Reader = http.NoBody
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &FetchError{Kind: ParseFailure, Op: op, URL: target, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if prepare != nil {
		prepare(req)
	}

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		c.logger.Warn("HTTP request failed", "op", op, "url", target, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, &FetchError{Kind: Transient, Op: op, URL: target, Err: err}
	}

	c.logger.Debug("HTTP request completed", "op", op, "url", target, "status_code", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func (c *Client) readDocument(resp *http.Response) (*goquery.Document, error) {
	defer resp.Body.Close()
	return goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageSize))
}
