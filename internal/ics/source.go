package ics

import (
	"context"
	"fmt"
	"time"
)

// Calendar serves the events of one feed.
type Calendar struct {
	feed    Feed
	fetcher *Fetcher
}

// NewCalendar returns a Calendar reading feed through fetcher.
func NewCalendar(feed Feed, fetcher *Fetcher) *Calendar {
	return &Calendar{feed: feed, fetcher: fetcher}
}

// Name returns the feed ID.
func (c *Calendar) Name() string {
	return c.feed.ID
}

// Events fetches, parses and expands the feed for [start, end). Times are
// reported in start's location.
func (c *Calendar) Events(ctx context.Context, start, end time.Time) (ExpandResult, error) {
	res, err := c.fetcher.Fetch(ctx, c.feed)
	if err != nil {
		return ExpandResult{}, fmt.Errorf("ics %s: %w", c.feed.ID, err)
	}
	parsed, err := Parse(c.feed.ID, res.Body)
	if err != nil {
		return ExpandResult{}, err
	}
	return Expand(parsed, ExpandConfig{
		Location:   start.Location(),
		RangeStart: start,
		RangeEnd:   end,
	})
}
