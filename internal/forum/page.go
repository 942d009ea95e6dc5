package forum

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mucstudio/let-monitor/internal/parser"
	"github.com/mucstudio/let-monitor/pkg/models"
)

var (
	errSignedOut   = errors.New("page is served to a signed-out visitor")
	errUnknownPage = errors.New("no discussion list on page")
)

// timeLayouts accepted in time[datetime] attributes
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
}

// parseProfilePosts extracts discussions from a profile content page,
// newest first.
func parseProfilePosts(r io.Reader, base *url.URL, username string, text *parser.HTMLParser) ([]models.Post, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}

	if signedOut(doc) {
		return nil, errSignedOut
	}

	items := doc.Find(".Item-Discussion")
	if items.Length() == 0 {
		// Profiles without content render an empty list placeholder
		if doc.Find(".Empty, .DataList, .Profile").Length() > 0 {
			return []models.Post{}, nil
		}
		return nil, errUnknownPage
	}

	posts := make([]models.Post, 0, items.Length())
	var parseErr error
	items.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		post, err := parseItem(s, base, username, text)
		if err != nil {
			parseErr = err
			return false
		}
		posts = append(posts, post)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].Rank() > posts[j].Rank()
	})
	return posts, nil
}

func parseItem(s *goquery.Selection, base *url.URL, username string, text *parser.HTMLParser) (models.Post, error) {
	link := s.Find("a.Title").First()
	href, ok := link.Attr("href")
	if !ok || href == "" {
		return models.Post{}, errors.New("discussion without title link")
	}

	id := discussionID(href)
	if id == "" {
		return models.Post{}, fmt.Errorf("cannot find discussion id in %q", href)
	}

	ref, err := url.Parse(href)
	if err != nil {
		return models.Post{}, fmt.Errorf("bad discussion link %q: %w", href, err)
	}

	post := models.Post{
		ID:     id,
		Author: username,
		Title:  strings.TrimSpace(link.Text()),
		URL:    base.ResolveReference(ref).String(),
	}

	if author := strings.TrimSpace(s.Find(".Author .Username, .DiscussionAuthor a").First().Text()); author != "" {
		post.Author = author
	}

	if raw, ok := s.Find("time").First().Attr("datetime"); ok {
		post.CreatedAt = parseTime(raw)
	}

	if msg := s.Find(".Message").First(); msg.Length() > 0 {
		post.BodyPreview = text.Text(msg)
	}

	return post, nil
}

// discussionID returns the path segment following "discussion" in a link
// like /discussion/12345/some-title.
func discussionID(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		if seg == "discussion" && i+1 < len(segments) {
			return segments[i+1]
		}
	}
	return ""
}

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// signedOut reports whether a page was rendered for an anonymous visitor.
// A sign-out link proves a live session; otherwise a sign-in form or link
// means the cookies were not accepted.
func signedOut(doc *goquery.Document) bool {
	if doc.Find(`a[href*="/entry/signout"], .SignOutWrap`).Length() > 0 {
		return false
	}
	return doc.Find(`form#Form_User_SignIn, a[href*="/entry/signin"], .SignInPopup`).Length() > 0
}
