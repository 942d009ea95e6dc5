package forum

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mucstudio/let-monitor/pkg/models"
)

const sessionCookie = "Vanilla"

// fakeForum is a minimal Vanilla-like server
type fakeForum struct {
	password     string
	validToken   atomic.Value // string
	contentCode  atomic.Int32 // overrides the content status when non-zero
	contentHits  atomic.Int32
	contentDelay time.Duration
}

func newFakeForum(t *testing.T) (*fakeForum, *httptest.Server) {
	t.Helper()

	f := &fakeForum{password: "hunter2"}
	f.validToken.Store("token-1")

	page, err := os.ReadFile("testdata/profile_content.html")
	if err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /entry/signin", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<form id="Form_User_SignIn"><input type="hidden" name="TransientKey" value="tk"></form>`)
	})
	mux.HandleFunc("POST /entry/signin", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("TransientKey") != "tk" || r.FormValue("Password") != f.password {
			fmt.Fprint(w, `<form id="Form_User_SignIn"></form>`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: f.validToken.Load().(string), Path: "/"})
		http.Redirect(w, r, "/", http.StatusFound)
	})
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html></html>`)
	})
	mux.HandleFunc("GET /profile/{user}", func(w http.ResponseWriter, r *http.Request) {
		if f.authorized(r) {
			fmt.Fprint(w, `<a href="/entry/signout">Sign Out</a>`)
			return
		}
		fmt.Fprint(w, `<a href="/entry/signin">Sign In</a>`)
	})
	mux.HandleFunc("GET /profile/{user}/content", func(w http.ResponseWriter, r *http.Request) {
		f.contentHits.Add(1)
		if f.contentDelay > 0 {
			select {
			case <-time.After(f.contentDelay):
			case <-r.Context().Done():
				return
			}
		}
		if code := f.contentCode.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		if !f.authorized(r) {
			http.Redirect(w, r, "/entry/signin?Target=profile", http.StatusFound)
			return
		}
		w.Write(page)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeForum) authorized(r *http.Request) bool {
	ck, err := r.Cookie(sessionCookie)
	return err == nil && ck.Value == f.validToken.Load().(string)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewClient(ClientConfig{BaseURL: baseURL, RateLimit: 1000, RateBurst: 100}, logger)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClientLoginAndFetch(t *testing.T) {
	ctx := context.Background()
	forum, srv := newFakeForum(t)
	c := newTestClient(t, srv.URL)

	blob, err := c.Login(ctx, &models.Account{ForumUsername: "bob", ForumPassword: "hunter2"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !strings.Contains(string(blob), "token-1") {
		t.Errorf("session blob %s does not carry the cookie", blob)
	}

	posts, err := c.FetchProfilePosts(ctx, blob, "bob")
	if err != nil {
		t.Fatalf("FetchProfilePosts() error = %v", err)
	}
	if len(posts) != 3 || posts[0].ID != "1008" {
		t.Fatalf("unexpected posts %+v", posts)
	}
	if !strings.HasPrefix(posts[1].URL, srv.URL+"/discussion/1006") {
		t.Errorf("relative link not resolved: %s", posts[1].URL)
	}

	t.Run("rotated session is rejected", func(t *testing.T) {
		forum.validToken.Store("token-2")
		_, err := c.FetchProfilePosts(ctx, blob, "bob")
		if !IsAuthRejected(err) {
			t.Fatalf("error = %v, want AuthRejected", err)
		}
	})
}

func TestClientLoginRejected(t *testing.T) {
	_, srv := newFakeForum(t)
	c := newTestClient(t, srv.URL)

	_, err := c.Login(context.Background(), &models.Account{ForumUsername: "bob", ForumPassword: "wrong"})
	if !IsAuthRejected(err) {
		t.Fatalf("Login() error = %v, want AuthRejected", err)
	}
}

func TestClientFetchStatusKinds(t *testing.T) {
	tests := []struct {
		code int
		want Kind
	}{
		{http.StatusForbidden, AuthRejected},
		{http.StatusUnauthorized, AuthRejected},
		{http.StatusBadGateway, Transient},
		{http.StatusTooManyRequests, Transient},
		{http.StatusNotFound, ParseFailure},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			forum, srv := newFakeForum(t)
			forum.contentCode.Store(int32(tt.code))
			c := newTestClient(t, srv.URL)

			_, err := c.FetchProfilePosts(context.Background(), []byte(`[]`), "bob")
			if got := KindOf(err); got != tt.want {
				t.Errorf("KindOf(%v) = %s, want %s", err, got, tt.want)
			}
		})
	}
}

func TestClientUnreachable(t *testing.T) {
	_, srv := newFakeForum(t)
	c := newTestClient(t, srv.URL)
	srv.Close()

	_, err := c.FetchProfilePosts(context.Background(), []byte(`[]`), "bob")
	if KindOf(err) != Transient {
		t.Errorf("error = %v, want Transient", err)
	}
}

func TestFetcherTimeoutIsTransient(t *testing.T) {
	forum, srv := newFakeForum(t)
	forum.contentDelay = 2 * time.Second
	c := newTestClient(t, srv.URL)

	fetcher := NewFetcher(c, 50*time.Millisecond)
	_, err := fetcher.FetchPosts(context.Background(),
		&models.Session{Cookies: []byte(`[]`), Valid: true},
		&models.Target{ForumUsername: "bob"})

	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != Transient {
		t.Fatalf("error = %v, want Transient FetchError", err)
	}
}

func TestFetcherNilSession(t *testing.T) {
	fetcher := NewFetcher(nil, time.Second)
	_, err := fetcher.FetchPosts(context.Background(), nil, &models.Target{ForumUsername: "bob"})
	if !IsAuthRejected(err) {
		t.Errorf("error = %v, want AuthRejected", err)
	}
}
