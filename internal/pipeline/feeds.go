package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/homereach/leadpilot/internal/domain"
	"github.com/homereach/leadpilot/internal/ingest"
)

// FeedSource polls RSS/Atom listing-portal feeds for third-party
// inquiry items.
type FeedSource struct {
	parser *gofeed.Parser
	urls   []string
}

// NewFeedSource creates a listing-feed poller over the given URLs.
func NewFeedSource(urls []string) *FeedSource {
	return &FeedSource{parser: gofeed.NewParser(), urls: urls}
}

func (f *FeedSource) Name() string { return "third_party" }

// Fetch parses each feed and returns items published after since.
func (f *FeedSource) Fetch(ctx context.Context, since, until time.Time) ([]ingest.RawLead, error) {
	var out []ingest.RawLead
	for _, u := range f.urls {
		feed, err := f.parser.ParseURLWithContext(u, ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: feed %s: %v", domain.ErrExternalUnavailable, u, err)
		}
		for _, item := range feed.Items {
			published := item.PublishedParsed
			if published == nil {
				published = item.UpdatedParsed
			}
			if published == nil || !published.After(since) {
				continue
			}
			payload := map[string]any{
				"subject":     item.Title,
				"description": item.Description,
			}
			if item.Author != nil {
				payload["name"] = item.Author.Name
				payload["email"] = item.Author.Email
			}
			out = append(out, ingest.RawLead{
				Source:     domain.SourceThirdParty,
				ExternalID: itemID(item),
				Payload:    payload,
				ReceivedAt: until,
			})
		}
	}
	return out, nil
}

func itemID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}
