package brightdata

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/loungehq/curator/pkg/util"
)

// Supported source platforms.
const (
	PlatformLinkedIn = "linkedin"
	PlatformTwitter  = "twitter"
	PlatformThreads  = "threads"
	PlatformRSS      = "rss"
)

// Record is one raw vendor result row tagged with the platform it came from.
type Record struct {
	Platform string
	Data     json.RawMessage
}

// Post is the canonical shape a raw vendor record normalizes into.
// ProfileURL is the requesting creator URL the vendor echoes back; the
// reconciler uses it to attribute the post to a creator.
type Post struct {
	Platform          string
	PlatformContentID string
	ProfileURL        string
	Title             string
	Description       string
	URL               string
	MediaURLs         []string
	PublishedAt       *time.Time
}

// DetectPlatform tags a raw record by its distinguishing fields, falling back
// to the echoed input URL's domain.
func DetectPlatform(data json.RawMessage) string {
	var probe struct {
		TweetID  string `json:"tweet_id"`
		ThreadID string `json:"thread_id"`
		FeedURL  string `json:"feed_url"`
		InputURL string `json:"input_url"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return PlatformLinkedIn
	}

	switch {
	case probe.TweetID != "":
		return PlatformTwitter
	case probe.ThreadID != "":
		return PlatformThreads
	case probe.FeedURL != "":
		return PlatformRSS
	}

	switch {
	case strings.Contains(probe.InputURL, "twitter.com"), strings.Contains(probe.InputURL, "x.com"):
		return PlatformTwitter
	case strings.Contains(probe.InputURL, "threads.net"):
		return PlatformThreads
	case strings.Contains(probe.InputURL, "linkedin.com"):
		return PlatformLinkedIn
	}

	return PlatformLinkedIn
}

// Normalize maps a tagged vendor record into the canonical post shape.
func Normalize(rec Record) (*Post, error) {
	switch rec.Platform {
	case PlatformLinkedIn:
		return normalizeLinkedIn(rec.Data)
	case PlatformTwitter:
		return normalizeTwitter(rec.Data)
	case PlatformThreads:
		return normalizeThreads(rec.Data)
	case PlatformRSS:
		return normalizeRSS(rec.Data)
	default:
		return nil, fmt.Errorf("unknown platform %q", rec.Platform)
	}
}

type linkedInRecord struct {
	ID         string   `json:"id"`
	URL        string   `json:"url"`
	InputURL   string   `json:"input_url"`
	Title      string   `json:"title"`
	PostText   string   `json:"post_text"`
	Images     []string `json:"images"`
	Videos     []string `json:"videos"`
	DatePosted string   `json:"date_posted"`
}

func normalizeLinkedIn(data json.RawMessage) (*Post, error) {
	var rec linkedInRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse linkedin record: %w", err)
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("linkedin record missing id")
	}

	text := util.StripHTML(rec.PostText)
	title := rec.Title
	if title == "" {
		title = util.Truncate(text, 120)
	}

	return &Post{
		Platform:          PlatformLinkedIn,
		PlatformContentID: rec.ID,
		ProfileURL:        rec.InputURL,
		Title:             title,
		Description:       text,
		URL:               rec.URL,
		MediaURLs:         append(append([]string{}, rec.Images...), rec.Videos...),
		PublishedAt:       parseVendorTime(rec.DatePosted),
	}, nil
}

type twitterRecord struct {
	TweetID   string   `json:"tweet_id"`
	URL       string   `json:"url"`
	InputURL  string   `json:"input_url"`
	Text      string   `json:"text"`
	Photos    []string `json:"photos"`
	Videos    []string `json:"videos"`
	CreatedAt string   `json:"created_at"`
}

func normalizeTwitter(data json.RawMessage) (*Post, error) {
	var rec twitterRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse twitter record: %w", err)
	}
	if rec.TweetID == "" {
		return nil, fmt.Errorf("twitter record missing tweet_id")
	}

	text := util.CleanWhitespace(rec.Text)

	return &Post{
		Platform:          PlatformTwitter,
		PlatformContentID: rec.TweetID,
		ProfileURL:        rec.InputURL,
		Title:             util.Truncate(text, 120),
		Description:       text,
		URL:               rec.URL,
		MediaURLs:         append(append([]string{}, rec.Photos...), rec.Videos...),
		PublishedAt:       parseVendorTime(rec.CreatedAt),
	}, nil
}

type threadsRecord struct {
	ThreadID string   `json:"thread_id"`
	URL      string   `json:"url"`
	InputURL string   `json:"input_url"`
	Caption  string   `json:"caption"`
	Media    []string `json:"media_urls"`
	PostedAt string   `json:"posted_at"`
}

func normalizeThreads(data json.RawMessage) (*Post, error) {
	var rec threadsRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse threads record: %w", err)
	}
	if rec.ThreadID == "" {
		return nil, fmt.Errorf("threads record missing thread_id")
	}

	text := util.CleanWhitespace(rec.Caption)

	return &Post{
		Platform:          PlatformThreads,
		PlatformContentID: rec.ThreadID,
		ProfileURL:        rec.InputURL,
		Title:             util.Truncate(text, 120),
		Description:       text,
		URL:               rec.URL,
		MediaURLs:         rec.Media,
		PublishedAt:       parseVendorTime(rec.PostedAt),
	}, nil
}

type rssRecord struct {
	GUID        string `json:"guid"`
	FeedURL     string `json:"feed_url"`
	Link        string `json:"link"`
	Title       string `json:"title"`
	Description string `json:"description"`
	PubDate     string `json:"pub_date"`
}

func normalizeRSS(data json.RawMessage) (*Post, error) {
	var rec rssRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse rss record: %w", err)
	}

	// Feeds without GUIDs fall back to the item link as identity.
	id := rec.GUID
	if id == "" {
		id = rec.Link
	}
	if id == "" {
		return nil, fmt.Errorf("rss record missing guid and link")
	}

	return &Post{
		Platform:          PlatformRSS,
		PlatformContentID: id,
		ProfileURL:        rec.FeedURL,
		Title:             util.CleanWhitespace(rec.Title),
		Description:       util.StripHTML(rec.Description),
		URL:               rec.Link,
		PublishedAt:       parseVendorTime(rec.PubDate),
	}, nil
}

// parseVendorTime accepts the timestamp layouts seen across vendor datasets.
func parseVendorTime(s string) *time.Time {
	if s == "" {
		return nil
	}

	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02 15:04:05",
		time.RFC1123Z,
		time.RFC1123,
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
