package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type DBConfig struct {
	Driver      string `yaml:"driver"`
	Connection  string `yaml:"connection"`
	Database    string `yaml:"database"`
	Collections struct {
		Profiles         string `yaml:"profiles"`
		DailyProfiles    string `yaml:"daily_profiles"`
		Contents         string `yaml:"contents"`
		FixedPages       string `yaml:"fixed_pages"`
		KeywordUserStats string `yaml:"keyword_user_stats"`
	} `yaml:"collections"`
	MinFollowers int `yaml:"min_followers"`
}

type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	ErrorTable string `yaml:"error_table"`
}

// DelayRange is a jitter window in milliseconds.
type DelayRange struct {
	MinMS int `yaml:"min_ms"`
	MaxMS int `yaml:"max_ms"`
}

func (r DelayRange) Bounds() (time.Duration, time.Duration) {
	return time.Duration(r.MinMS) * time.Millisecond, time.Duration(r.MaxMS) * time.Millisecond
}

type LogicConfig struct {
	MaxConcurrentWorkers int    `yaml:"max_concurrent_workers"`
	RetryWorkers         int    `yaml:"retry_workers"`
	RecencyDays          int    `yaml:"recency_days"`
	GridFallbackIndex    int    `yaml:"grid_fallback_index"`
	Timezone             string `yaml:"timezone"`

	ProfileTimeoutSec   int `yaml:"profile_timeout_sec"`
	FirstItemTimeoutSec int `yaml:"first_item_timeout_sec"`
	NextTimeoutSec      int `yaml:"next_timeout_sec"`
	LikeTimeoutSec      int `yaml:"like_timeout_sec"`
	ActionTimeoutSec    int `yaml:"action_timeout_sec"`
	NavigateTimeoutSec  int `yaml:"navigate_timeout_sec"`

	ProfileDelay DelayRange `yaml:"profile_delay"`
	ItemDelay    DelayRange `yaml:"item_delay"`
	NextDelay    DelayRange `yaml:"next_delay"`
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (l LogicConfig) ProfileTimeout() time.Duration   { return seconds(l.ProfileTimeoutSec) }
func (l LogicConfig) FirstItemTimeout() time.Duration { return seconds(l.FirstItemTimeoutSec) }
func (l LogicConfig) NextTimeout() time.Duration      { return seconds(l.NextTimeoutSec) }
func (l LogicConfig) LikeTimeout() time.Duration      { return seconds(l.LikeTimeoutSec) }
func (l LogicConfig) ActionTimeout() time.Duration    { return seconds(l.ActionTimeoutSec) }
func (l LogicConfig) NavigateTimeout() time.Duration  { return seconds(l.NavigateTimeoutSec) }

// RecencyWindow is how far back from the capture instant items are collected.
func (l LogicConfig) RecencyWindow() time.Duration {
	return time.Duration(l.RecencyDays) * 24 * time.Hour
}

func (l LogicConfig) Location() (*time.Location, error) {
	if l.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(l.Timezone)
}

type ProxyConfig struct {
	Protocol string `yaml:"protocol"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Server renders the proxy endpoint without credentials.
func (p ProxyConfig) Server() string {
	protocol := p.Protocol
	if protocol == "" {
		protocol = "http"
	}
	return fmt.Sprintf("%s://%s:%d", protocol, p.Host, p.Port)
}

// URL renders the proxy endpoint with credentials embedded, as colly expects.
func (p ProxyConfig) URL() string {
	if p.User == "" {
		return p.Server()
	}
	protocol := p.Protocol
	if protocol == "" {
		protocol = "http"
	}
	return fmt.Sprintf("%s://%s:%s@%s:%d", protocol, p.User, p.Password, p.Host, p.Port)
}

type BrowserConfig struct {
	Engine     string            `yaml:"engine"`
	Headless   bool              `yaml:"headless"`
	BinDir     string            `yaml:"bin_dir"`
	Binaries   map[string]string `yaml:"binaries"`
	Locale     string            `yaml:"locale"`
	UserAgents []string          `yaml:"user_agents"`
	Proxies    []ProxyConfig     `yaml:"proxies"`
	BaseURL    string            `yaml:"base_url"`
}

// ProfileURL fills the entity name into the configured base URL.
func (b BrowserConfig) ProfileURL(entity string) string {
	return strings.ReplaceAll(b.BaseURL, "{username}", entity)
}

type NotifyConfig struct {
	TelegramToken string `yaml:"telegram_token"`
	ChatID        string `yaml:"chat_id"`
	APIURL        string `yaml:"api_url"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Selectors are the CSS selectors used to locate page elements.
type Selectors struct {
	ProfileReady     string   `yaml:"profile_ready"`
	Unavailable      []string `yaml:"unavailable"`
	ProfileCounts    string   `yaml:"profile_counts"`
	VerifiedBadge    string   `yaml:"verified_badge"`
	ProfileTitle     string   `yaml:"profile_title"`
	ProfileBio       string   `yaml:"profile_bio"`
	LoginPopupClose  string   `yaml:"login_popup_close"`
	GridItem         string   `yaml:"grid_item"`
	ItemReady        string   `yaml:"item_ready"`
	ItemBody         string   `yaml:"item_body"`
	CommentBlock     string   `yaml:"comment_block"`
	CommentAuthor    string   `yaml:"comment_author"`
	CommentText      string   `yaml:"comment_text"`
	CommentTime      string   `yaml:"comment_time"`
	Hashtag          string   `yaml:"hashtag"`
	PublishTime      string   `yaml:"publish_time"`
	LikeCount        string   `yaml:"like_count"`
	ViewCountControl string   `yaml:"view_count_control"`
	FallbackLikes    string   `yaml:"fallback_likes"`
	FallbackClose    string   `yaml:"fallback_close"`
	NextControl      string   `yaml:"next_control"`
	DetailClose      string   `yaml:"detail_close"`
}

type SpiderConfig struct {
	DB        DBConfig      `yaml:"db"`
	Redis     RedisConfig   `yaml:"redis"`
	Logic     LogicConfig   `yaml:"logic"`
	Browser   BrowserConfig `yaml:"browser"`
	Notify    NotifyConfig  `yaml:"notify"`
	Log       LogConfig     `yaml:"log"`
	Selectors Selectors     `yaml:"selectors"`
}

func Default() *SpiderConfig {
	cfg := &SpiderConfig{}

	cfg.DB.Driver = "mongo"
	cfg.DB.Connection = "mongodb://localhost:27017"
	cfg.DB.Database = "instagram"
	cfg.DB.Collections.Profiles = "users"
	cfg.DB.Collections.DailyProfiles = "daily_users"
	cfg.DB.Collections.Contents = "contents"
	cfg.DB.Collections.FixedPages = "fixed_pages"
	cfg.DB.Collections.KeywordUserStats = "keyword_user_stats"
	cfg.DB.MinFollowers = 500

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.ErrorTable = "error_table"

	cfg.Logic = LogicConfig{
		RecencyDays:         30,
		GridFallbackIndex:   9,
		Timezone:            "UTC",
		ProfileTimeoutSec:   20,
		FirstItemTimeoutSec: 30,
		NextTimeoutSec:      15,
		LikeTimeoutSec:      15,
		ActionTimeoutSec:    10,
		NavigateTimeoutSec:  30,
		ProfileDelay:        DelayRange{MinMS: 1000, MaxMS: 1500},
		ItemDelay:           DelayRange{MinMS: 1000, MaxMS: 1500},
		NextDelay:           DelayRange{MinMS: 300, MaxMS: 1000},
	}

	cfg.Browser = BrowserConfig{
		Engine:   "chrome",
		Headless: true,
		Binaries: map[string]string{
			"darwin":  "chrome-mac/Chromium.app/Contents/MacOS/Chromium",
			"linux":   "chrome-linux/chrome",
			"windows": "chrome-win/chrome.exe",
		},
		Locale:  "ko_KR",
		BaseURL: "https://www.instagram.com/{username}/",
	}

	cfg.Notify.APIURL = "https://api.telegram.org"
	cfg.Log.Level = "info"

	cfg.Selectors = Selectors{
		ProfileReady:     "div._9AhH0",
		Unavailable:      []string{"div.error-container", "div.VIsJD", "div.FuWoR.-wdIA.A2kdl"},
		ProfileCounts:    "ul.k9GMp li",
		VerifiedBadge:    "span.mrEK_.Szr5J.coreSpriteVerifiedBadge",
		ProfileTitle:     "div.-vDIg > h1",
		ProfileBio:       "div.-vDIg > span",
		LoginPopupClose:  "button.dCJp8.afkep.xqRnw",
		GridItem:         "div._9AhH0",
		ItemReady:        "div.C4VMK > span",
		ItemBody:         "div.C4VMK > span",
		CommentBlock:     "div.C4VMK",
		CommentAuthor:    "a.FPmhX.notranslate.TlrDj",
		CommentText:      "span",
		CommentTime:      "time.FH9sR.Nzb55",
		Hashtag:          "div.C4VMK > span > a.xil3i",
		PublishTime:      "time._1o9PC.Nzb55",
		LikeCount:        "div.Nm9Fw > button > span",
		ViewCountControl: "div.HbPOm._9Ytll > span.vcOH2",
		FallbackLikes:    "div.vJRqr > span",
		FallbackClose:    ".QhbhU",
		NextControl:      "a._65Bje.coreSpriteRightPaginationArrow",
		DetailClose:      "div.Igw0E > button.wpO6b",
	}

	return cfg
}

// LoadConfig reads path over the defaults. An empty path yields the defaults.
func LoadConfig(path string) (*SpiderConfig, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *SpiderConfig) Validate() error {
	var errs []error
	switch c.DB.Driver {
	case "mongo", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("db.driver: unknown driver %q", c.DB.Driver))
	}
	switch c.Browser.Engine {
	case "chrome", "static":
	default:
		errs = append(errs, fmt.Errorf("browser.engine: unknown engine %q", c.Browser.Engine))
	}
	if !strings.Contains(c.Browser.BaseURL, "{username}") {
		errs = append(errs, errors.New("browser.base_url: missing {username} placeholder"))
	}
	if c.Logic.RecencyDays <= 0 {
		errs = append(errs, errors.New("logic.recency_days: must be positive"))
	}
	if c.Logic.GridFallbackIndex < 0 {
		errs = append(errs, errors.New("logic.grid_fallback_index: must not be negative"))
	}
	for name, r := range map[string]DelayRange{
		"profile_delay": c.Logic.ProfileDelay,
		"item_delay":    c.Logic.ItemDelay,
		"next_delay":    c.Logic.NextDelay,
	} {
		if r.MinMS < 0 || r.MaxMS < r.MinMS {
			errs = append(errs, fmt.Errorf("logic.%s: invalid range %d..%d", name, r.MinMS, r.MaxMS))
		}
	}
	if _, err := c.Logic.Location(); err != nil {
		errs = append(errs, fmt.Errorf("logic.timezone: %w", err))
	}
	return errors.Join(errs...)
}
