package content

import (
	"context"
	"encoding/json"
	"net/url"
	"time"
)

const (
	newsCountry  = "us"
	newsPageSize = "10"
)

// NewsClient fetches top headlines from a NewsAPI compatible service.
type NewsClient struct {
	up *upstream
}

func NewNewsClient(opts Options) (*NewsClient, error) {
	up, err := newUpstream("news", opts)
	if err != nil {
		return nil, err
	}
	return &NewsClient{up: up}, nil
}

// TopHeadlines returns the upstream top-headlines document for category.
func (c *NewsClient) TopHeadlines(ctx context.Context, category string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("country", newsCountry)
	q.Set("pageSize", newsPageSize)
	q.Set("apiKey", c.up.apiKey)
	return c.up.get(ctx, "/top-headlines", q)
}

type article struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	URL         string        `json:"url"`
	URLToImage  string        `json:"urlToImage"`
	PublishedAt string        `json:"publishedAt"`
	Source      articleSource `json:"source"`
}

type articleSource struct {
	Name string `json:"name"`
}

// FallbackNews is served when the news upstream cannot answer.
func FallbackNews(now time.Time) json.RawMessage {
	now = now.UTC()
	doc := struct {
		Articles []article `json:"articles"`
	}{
		Articles: []article{
			{
				Title:       "Sample News Article",
				Description: "This is a sample news article for demonstration.",
				URL:         "https://example.com",
				URLToImage:  "https://images.pexels.com/photos/518543/pexels-photo-518543.jpeg",
				PublishedAt: now.Format(time.RFC3339),
				Source:      articleSource{Name: "Demo News"},
			},
			{
				Title:       "Technology Update",
				Description: "Latest developments in technology sector.",
				URL:         "https://example.com",
				URLToImage:  "https://images.pexels.com/photos/373543/pexels-photo-373543.jpeg",
				PublishedAt: now.Add(-time.Hour).Format(time.RFC3339),
				Source:      articleSource{Name: "Tech News"},
			},
		},
	}
	return mustMarshal(doc)
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
