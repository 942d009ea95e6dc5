package formatter

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mucstudio/let-monitor/pkg/models"
)

// TelegramFormatter renders notifications as Telegram HTML
type TelegramFormatter struct {
	maxLength     int
	previewLength int
	location      *time.Location
}

// NewTelegramFormatter creates a new Telegram formatter. Post times are
// shown in loc; previews are cut to previewLength runes.
func NewTelegramFormatter(previewLength int, loc *time.Location) *TelegramFormatter {
	if loc == nil {
		loc = time.UTC
	}
	return &TelegramFormatter{
		maxLength:     4000, // Leave room for markup
		previewLength: previewLength,
		location:      loc,
	}
}

// FormatPost formats a new post notification
func (f *TelegramFormatter) FormatPost(target *models.Target, post models.Post) string {
	var sb strings.Builder

	author := post.Author
	if author == "" {
		author = target.ForumUsername
	}

	sb.WriteString("🔔 <b>New post</b>\n\n")
	sb.WriteString(fmt.Sprintf("<b>User:</b> %s\n", EscapeHTML(author)))
	sb.WriteString(fmt.Sprintf("<b>Title:</b> %s\n", EscapeHTML(post.Title)))
	if !post.CreatedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("<b>Time:</b> %s\n", f.formatTime(post.CreatedAt)))
	}
	sb.WriteString(fmt.Sprintf("<b>Link:</b> <a href=\"%s\">%s</a>\n", EscapeHTML(post.URL), EscapeHTML(post.URL)))

	if preview := f.preview(post.BodyPreview); preview != "" {
		sb.WriteString("\n")
		sb.WriteString(EscapeHTML(preview))
	}

	return f.fit(sb.String())
}

// FormatError formats an error notification. target may be nil.
func (f *TelegramFormatter) FormatError(kind, message string, target *models.Target) string {
	var sb strings.Builder

	sb.WriteString("❌ <b>Error</b>\n\n")
	sb.WriteString(fmt.Sprintf("<b>Type:</b> %s\n", EscapeHTML(kind)))
	if target != nil {
		sb.WriteString(fmt.Sprintf("<b>Target:</b> %s (#%d)\n", EscapeHTML(target.ForumUsername), target.ID))
	}
	sb.WriteString(fmt.Sprintf("<b>Details:</b> %s", EscapeHTML(message)))

	return f.fit(sb.String())
}

// FormatStatus formats a status report
func (f *TelegramFormatter) FormatStatus(status models.Status) string {
	var sb strings.Builder

	sb.WriteString("📊 <b>Monitor status</b>\n\n")
	sb.WriteString(fmt.Sprintf("<b>Uptime:</b> %s\n", FormatDuration(status.Uptime)))
	sb.WriteString(fmt.Sprintf("<b>Targets:</b> %d (%d active)\n", status.Targets, status.Enabled))

	if len(status.Failing) == 0 {
		sb.WriteString("<b>Failing:</b> none")
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("<b>Failing:</b> %d\n", len(status.Failing)))
	for _, ft := range status.Failing {
		sb.WriteString(fmt.Sprintf("• %s (#%d): %d failure(s), next try %s\n",
			EscapeHTML(ft.ForumUsername), ft.TargetID, ft.ConsecutiveFailures, f.formatTime(ft.NextAttemptAt)))
		if ft.LastError != "" {
			sb.WriteString(fmt.Sprintf("  <i>%s</i>\n", EscapeHTML(f.truncate(ft.LastError, 200))))
		}
	}

	return f.fit(strings.TrimRight(sb.String(), "\n"))
}

// FormatTarget formats a single target line for lists
func (f *TelegramFormatter) FormatTarget(target *models.Target) string {
	state := "▶️ active"
	if !target.Enabled {
		state = "⏸ paused"
	}
	return fmt.Sprintf("<b>#%d</b> %s, every %s, %s",
		target.ID, EscapeHTML(target.ForumUsername), FormatDuration(target.Interval()), state)
}

// FormatTargetList formats the targets of a chat
func (f *TelegramFormatter) FormatTargetList(targets []*models.Target) string {
	if len(targets) == 0 {
		return "No monitored users. Use /watch &lt;username&gt; to add one."
	}

	var sb strings.Builder
	sb.WriteString("📋 <b>Monitored users</b>\n\n")
	for _, t := range targets {
		sb.WriteString(f.FormatTarget(t))
		sb.WriteString("\n")
	}
	return f.fit(strings.TrimRight(sb.String(), "\n"))
}

// FormatDuration renders a duration as e.g. "1d 2h 5m" or "45s"
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}

	d = d.Truncate(time.Minute)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	return strings.Join(parts, " ")
}

func (f *TelegramFormatter) formatTime(t time.Time) string {
	return t.In(f.location).Format("2006-01-02 15:04:05 MST")
}

// preview cuts a post body to the configured length
func (f *TelegramFormatter) preview(body string) string {
	body = strings.TrimSpace(body)
	if f.previewLength <= 0 || body == "" {
		return ""
	}
	runes := []rune(body)
	if len(runes) <= f.previewLength {
		return body
	}
	return strings.TrimSpace(string(runes[:f.previewLength])) + "…"
}

// fit keeps a message under the Telegram limit
func (f *TelegramFormatter) fit(s string) string {
	if utf8.RuneCountInString(s) <= f.maxLength {
		return s
	}
	return cutHTML(s, f.maxLength) + "\n\n<i>... (message truncated)</i>"
}

// cutHTML shortens markup to at most limit runes without splitting a tag or
// an entity, then closes the tags left open at the cut.
func cutHTML(s string, limit int) string {
	var open []string
	i, n := 0, 0
	for i < len(s) {
		var end int
		switch s[i] {
		case '<':
			end = strings.IndexByte(s[i:], '>')
		case '&':
			end = strings.IndexByte(s[i:], ';')
		default:
			end = -1
		}
		if end < 0 {
			_, size := utf8.DecodeRuneInString(s[i:])
			end = size
		} else {
			end++
		}

		token := s[i : i+end]
		size := utf8.RuneCountInString(token)
		if n+size > limit {
			break
		}
		if strings.HasPrefix(token, "<") {
			name := tagName(token)
			switch {
			case strings.HasPrefix(token, "</"):
				if len(open) > 0 && open[len(open)-1] == name {
					open = open[:len(open)-1]
				}
			case !strings.HasSuffix(token, "/>"):
				open = append(open, name)
			}
		}
		i += end
		n += size
	}

	var sb strings.Builder
	sb.WriteString(s[:i])
	for j := len(open) - 1; j >= 0; j-- {
		sb.WriteString("</" + open[j] + ">")
	}
	return sb.String()
}

func tagName(tag string) string {
	tag = strings.TrimPrefix(strings.TrimPrefix(tag, "<"), "/")
	if k := strings.IndexAny(tag, " >/"); k >= 0 {
		tag = tag[:k]
	}
	return tag
}

// truncate truncates text to maxLen characters
func (f *TelegramFormatter) truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}

// EscapeHTML escapes HTML special characters for Telegram
func EscapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}
