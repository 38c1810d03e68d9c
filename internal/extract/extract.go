// Package extract maps rendered profile and item pages to stored records.
// Nothing here performs I/O.
package extract

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"insta_spider/internal/config"
	"insta_spider/internal/markup"
	"insta_spider/internal/models"
)

var (
	// ErrStaleItem marks an item published before the recency cutoff.
	ErrStaleItem = errors.New("item older than recency window")
	// ErrLoadTimeout marks a deferred control that never resolved.
	ErrLoadTimeout = errors.New("deferred control did not load")
	// ErrMissingField marks markup lacking a required element.
	ErrMissingField = errors.New("required element missing")
)

type Extractor struct {
	sel    config.Selectors
	window time.Duration
	loc    *time.Location
}

func New(sel config.Selectors, window time.Duration, loc *time.Location) *Extractor {
	if loc == nil {
		loc = time.UTC
	}
	return &Extractor{sel: sel, window: window, loc: loc}
}

// PageUnavailable reports whether the page carries any not-found, private or
// empty-feed signature.
func (e *Extractor) PageUnavailable(doc markup.Node) bool {
	for _, sel := range e.sel.Unavailable {
		if doc.Exists(sel) {
			return true
		}
	}
	return false
}

// HasLoginPopup reports whether the login interstitial is shown.
func (e *Extractor) HasLoginPopup(doc markup.Node) bool {
	return e.sel.LoginPopupClose != "" && doc.Exists(e.sel.LoginPopupClose)
}

func (e *Extractor) Profile(doc markup.Node, entity string, crawlAt time.Time) (models.ProfileSnapshot, error) {
	items := doc.All(e.sel.ProfileCounts)
	if len(items) < 3 {
		return models.ProfileSnapshot{}, fmt.Errorf("profile counters: found %d of 3: %w", len(items), ErrMissingField)
	}

	posts, err := counterText(items[0])
	if err != nil {
		return models.ProfileSnapshot{}, fmt.Errorf("post count: %w", err)
	}
	// The follower counter is abbreviated on screen; the exact value is in title.
	followerRaw, ok := items[1].Attr("span", "title")
	if !ok {
		followerRaw, _ = items[1].Text("span")
	}
	followers, err := ParseCount(followerRaw)
	if err != nil {
		return models.ProfileSnapshot{}, fmt.Errorf("follower count: %w", err)
	}
	following, err := counterText(items[2])
	if err != nil {
		return models.ProfileSnapshot{}, fmt.Errorf("following count: %w", err)
	}

	local := crawlAt.In(e.loc)
	return models.ProfileSnapshot{
		ID:               entity,
		UserName:         entity,
		PostCount:        posts,
		FollowerCount:    followers,
		FollowingCount:   following,
		UserDescription:  e.description(doc),
		VerifiedBadge:    doc.Exists(e.sel.VerifiedBadge),
		CrawlAtTimestamp: local.Unix(),
		CrawlAt:          local.Format(models.TimeLayout),
	}, nil
}

func counterText(n markup.Node) (int64, error) {
	raw, ok := n.Text("span")
	if !ok {
		return 0, ErrMissingField
	}
	return ParseCount(raw)
}

func (e *Extractor) description(doc markup.Node) string {
	title, _ := doc.Text(e.sel.ProfileTitle)
	title = strings.TrimSpace(title)
	bio, _ := doc.Text(e.sel.ProfileBio)
	if title == "" && bio == "" {
		return ""
	}
	return title + "\n" + bio
}

// Daily derives the per-day snapshot of p for the capture date.
func (e *Extractor) Daily(p models.ProfileSnapshot, crawlAt time.Time) models.DailySnapshot {
	local := crawlAt.In(e.loc)
	return models.DailySnapshot{
		ID:                   models.DailyID(local, p.UserName),
		UserName:             p.UserName,
		PostCount:            p.PostCount,
		FollowerCount:        p.FollowerCount,
		FollowingCount:       p.FollowingCount,
		UserDescription:      p.UserDescription,
		VerifiedBadge:        p.VerifiedBadge,
		PublishedAt:          local.Format(models.TimeLayout),
		PublishedAtTimestamp: local.Unix(),
	}
}

// Item extracts the open item detail. likePending is true when the primary
// like counter is absent or unreadable and the caller must resolve it with
// FallbackLikes. ErrStaleItem is returned before likes are considered.
func (e *Extractor) Item(doc markup.Node, entity string, crawlAt time.Time) (item models.ContentItem, likePending bool, err error) {
	rawPublished, ok := doc.Attr(e.sel.PublishTime, "datetime")
	if !ok {
		return models.ContentItem{}, false, fmt.Errorf("publish time: %w", ErrMissingField)
	}
	published, err := ParseTimestamp(rawPublished, e.loc)
	if err != nil {
		return models.ContentItem{}, false, fmt.Errorf("publish time: %w", err)
	}
	if IsStale(published, crawlAt, e.window) {
		return models.ContentItem{}, false, ErrStaleItem
	}

	body, _ := doc.Text(e.sel.ItemBody)
	local := crawlAt.In(e.loc)
	item = models.ContentItem{
		ID:                   models.ContentID(entity, published.Unix()),
		UserName:             entity,
		ContentText:          StripEmoji(body),
		PublishedAtTimestamp: published.Unix(),
		PublishedAt:          published.Format(models.TimeLayout),
		CrawlAtTimestamp:     local.Unix(),
		CrawlAt:              local.Format(models.TimeLayout),
		Hashtags:             e.hashtags(doc),
		Comments:             e.Comments(doc, entity),
	}

	rawLikes, ok := doc.Text(e.sel.LikeCount)
	if !ok {
		return item, true, nil
	}
	likes, err := ParseCount(rawLikes)
	if err != nil {
		return item, true, nil
	}
	item.LikeCount = likes
	return item, false, nil
}

func (e *Extractor) hashtags(doc markup.Node) []string {
	tags := []string{}
	for _, n := range doc.All(e.sel.Hashtag) {
		tags = append(tags, strings.ReplaceAll(strings.TrimSpace(n.Content()), "#", ""))
	}
	return tags
}

// Comments returns visitor comments, newest first. Blocks authored by entity
// and blocks without an author or a readable time are skipped.
func (e *Extractor) Comments(doc markup.Node, entity string) []models.Comment {
	comments := []models.Comment{}
	for _, block := range doc.All(e.sel.CommentBlock) {
		author, ok := block.Text(e.sel.CommentAuthor)
		author = strings.TrimSpace(author)
		if !ok || author == "" || author == entity {
			continue
		}
		rawTime, ok := block.Attr(e.sel.CommentTime, "datetime")
		if !ok {
			continue
		}
		published, err := ParseTimestamp(rawTime, e.loc)
		if err != nil {
			continue
		}
		text, _ := block.Text(e.sel.CommentText)
		comments = append(comments, models.Comment{
			Username:             author,
			CommentText:          text,
			PublishedAt:          published.Format(models.TimeLayout),
			PublishedAtTimestamp: published.Unix(),
		})
	}
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].PublishedAtTimestamp > comments[j].PublishedAtTimestamp
	})
	return comments
}

// FallbackLikes reads the like counter revealed by the view-count control.
func (e *Extractor) FallbackLikes(doc markup.Node) (int64, error) {
	raw, ok := doc.Text(e.sel.FallbackLikes)
	if !ok {
		return 0, fmt.Errorf("fallback likes: %w", ErrMissingField)
	}
	return ParseCount(raw)
}
