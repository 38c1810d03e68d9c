package models

import (
	"fmt"
	"time"
)

// TimeLayout is the readable form used for every stored instant.
const TimeLayout = "2006-01-02 15:04:05"

type ProfileSnapshot struct {
	ID               string `bson:"_id" json:"_id"`
	UserName         string `bson:"userName" json:"userName"`
	PostCount        int64  `bson:"postCount" json:"postCount"`
	FollowerCount    int64  `bson:"followerCount" json:"followerCount"`
	FollowingCount   int64  `bson:"followingCount" json:"followingCount"`
	UserDescription  string `bson:"userDescription" json:"userDescription"`
	VerifiedBadge    bool   `bson:"VerifiedBadge" json:"VerifiedBadge"`
	CrawlAtTimestamp int64  `bson:"crawlAtTimestamp" json:"crawlAtTimestamp"`
	CrawlAt          string `bson:"crawlAt" json:"crawlAt"`
}

// DailySnapshot is one day's copy of a profile. Keyed by date and entity so
// repeated runs on the same day replace each other.
type DailySnapshot struct {
	ID                   string `bson:"_id" json:"_id"`
	UserName             string `bson:"userName" json:"userName"`
	PostCount            int64  `bson:"postCount" json:"postCount"`
	FollowerCount        int64  `bson:"followerCount" json:"followerCount"`
	FollowingCount       int64  `bson:"followingCount" json:"followingCount"`
	UserDescription      string `bson:"userDescription" json:"userDescription"`
	VerifiedBadge        bool   `bson:"VerifiedBadge" json:"VerifiedBadge"`
	PublishedAt          string `bson:"publishedAt" json:"publishedAt"`
	PublishedAtTimestamp int64  `bson:"publishedAtTimestamp" json:"publishedAtTimestamp"`
}

func DailyID(day time.Time, entity string) string {
	return fmt.Sprintf("%s_%s", day.Format("2006-01-02"), entity)
}

func ContentID(entity string, published int64) string {
	return fmt.Sprintf("%s_%d", entity, published)
}

type Comment struct {
	Username             string `bson:"username" json:"username"`
	CommentText          string `bson:"commentText" json:"commentText"`
	PublishedAt          string `bson:"publishedAt" json:"publishedAt"`
	PublishedAtTimestamp int64  `bson:"publishedAtTimestamp" json:"publishedAtTimestamp"`
}

type ContentItem struct {
	ID                   string    `bson:"_id" json:"_id"`
	UserName             string    `bson:"userName" json:"userName"`
	ContentText          string    `bson:"contentText" json:"contentText"`
	PublishedAtTimestamp int64     `bson:"publishedAtTimestamp" json:"publishedAtTimestamp"`
	PublishedAt          string    `bson:"publishedAt" json:"publishedAt"`
	CrawlAtTimestamp     int64     `bson:"crawlAtTimestamp" json:"crawlAtTimestamp"`
	CrawlAt              string    `bson:"crawlAt" json:"crawlAt"`
	LikeCount            int64     `bson:"likeCount" json:"likeCount"`
	Hashtags             []string  `bson:"hashtags" json:"hashtags"`
	Comments             []Comment `bson:"comments" json:"comments"`
}

// FailureRecord is one retry ledger entry.
type FailureRecord struct {
	Username string `json:"username"`
	Date     string `json:"date"`
	Error    string `json:"error"`
}

// Target is an entity ranked by follower count, as kept in the source
// collections.
type Target struct {
	UserName      string `bson:"_id"`
	FollowerCount int64  `bson:"followersCount"`
}
