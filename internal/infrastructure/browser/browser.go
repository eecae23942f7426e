// Package browser implements the autonomous crawler: hub rotation,
// change detection, enrichment, and knowledge ingestion.
package browser

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/magpiebot/magpie/internal/domain/entity"
	"github.com/magpiebot/magpie/internal/domain/knowledge"
	"github.com/magpiebot/magpie/internal/domain/llm"
	"github.com/magpiebot/magpie/internal/infrastructure/search"
	apperrors "github.com/magpiebot/magpie/pkg/errors"
	"go.uber.org/zap"
)

const (
	articlesPerSession = 5
	minArticleLen      = 300
	discoveryChance    = 0.05

	favoritesFile = "favorites.json"
	trackerFile   = "link_tracker.json"
)

// defaultHubs seed the rotation on first run.
var defaultHubs = []entity.FavoriteHub{
	{URL: "https://news.ycombinator.com", Category: "tech", Source: entity.HubSourceDefault},
	{URL: "https://www.bbc.com/news", Category: "news", Source: entity.HubSourceDefault},
	{URL: "https://www.reuters.com/business", Category: "finance", Source: entity.HubSourceDefault},
	{URL: "https://www.bbc.com/sport", Category: "sports", Source: entity.HubSourceDefault},
	{URL: "https://www.sciencedaily.com", Category: "science", Source: entity.HubSourceDefault},
}

// SearchProvider is the browser's port to the search backend.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]search.Result, error)
}

// Config holds the crawl pacing knobs.
type Config struct {
	MaxPagesPerHour int           // page budget (default 20)
	HubCooldown     time.Duration // min gap between visits to one hub (default 2h)
	LinkStale       time.Duration // tracker entry age that triggers an update check (default 24h)
	FetchTimeout    time.Duration // per-page fetch timeout (default 30s)
	DataDir         string        // favorites and tracker live here
}

// Browser crawls favorite hubs, learns new article content, and grows its
// hub rotation through discovery.
type Browser struct {
	fetcher   *PageFetcher
	extractor *LinkExtractor
	kb        *knowledge.Base
	text      llm.TextCompleter
	searcher  SearchProvider

	cfg    Config
	logger *zap.Logger

	favMu     sync.Mutex
	favorites []*entity.FavoriteHub

	trackMu sync.Mutex
	tracker map[string]*entity.LinkTrackingEntry

	budgetMu  sync.Mutex
	hourStart time.Time
	pagesUsed int

	cancelled atomic.Bool
	nowFn     func() time.Time
	randFn    func() float64
}

// New creates the browser, loading persisted favorites and tracker state
// from the data directory. Missing files seed the default hubs.
func New(kb *knowledge.Base, text llm.TextCompleter, searcher SearchProvider, cfg Config, logger *zap.Logger) *Browser {
	if cfg.MaxPagesPerHour <= 0 {
		cfg.MaxPagesPerHour = 20
	}
	if cfg.HubCooldown <= 0 {
		cfg.HubCooldown = 2 * time.Hour
	}
	if cfg.LinkStale <= 0 {
		cfg.LinkStale = 24 * time.Hour
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}

	fetcher := NewPageFetcher(cfg.FetchTimeout)
	b := &Browser{
		fetcher:   fetcher,
		extractor: NewLinkExtractor(fetcher),
		kb:        kb,
		text:      text,
		searcher:  searcher,
		cfg:       cfg,
		logger:    logger,
		tracker:   make(map[string]*entity.LinkTrackingEntry),
		nowFn:     time.Now,
		randFn:    rand.Float64,
	}
	b.loadState()
	return b
}

// Interrupt raises the cancellation flag; the article loop checks it
// between fetches. It never cancels an in-flight page fetch.
func (b *Browser) Interrupt() {
	b.cancelled.Store(true)
}

// Surf runs one crawl session. With an intent, hub selection prefers hubs
// whose category or URL matches it.
func (b *Browser) Surf(ctx context.Context, intent string) (*entity.BrowseReport, error) {
	b.cancelled.Store(false)

	report := &entity.BrowseReport{}
	if !b.consumeBudget(0) {
		return report, nil
	}

	hub := b.pickFavorite(intent)
	if hub == nil {
		return report, nil
	}
	report.Hub = hub.URL

	if !b.consumeBudget(1) {
		return report, nil
	}
	links, err := b.extractor.Extract(ctx, hub.URL)
	if err != nil {
		return report, fmt.Errorf("extract links from %s: %w", hub.URL, err)
	}

	b.favMu.Lock()
	hub.LastVisited = b.nowFn()
	hub.VisitCount++
	b.favMu.Unlock()

	rand.Shuffle(len(links), func(i, j int) { links[i], links[j] = links[j], links[i] })
	if len(links) > articlesPerSession {
		links = links[:articlesPerSession]
	}

	for _, link := range links {
		if b.cancelled.Load() {
			b.logger.Info("Crawl interrupted", zap.String("hub", hub.URL))
			break
		}
		b.visitArticle(ctx, hub, link, report)
	}

	b.Checkpoint()
	return report, nil
}

func (b *Browser) visitArticle(ctx context.Context, hub *entity.FavoriteHub, link string, report *entity.BrowseReport) {
	now := b.nowFn()

	b.trackMu.Lock()
	entry := b.tracker[link]
	b.trackMu.Unlock()

	updateCheck := false
	if entry != nil {
		if now.Sub(entry.LastScraped) < b.cfg.LinkStale {
			report.Skipped++
			return
		}
		updateCheck = true
	}

	if !b.consumeBudget(1) {
		return
	}
	report.Visited = append(report.Visited, link)

	_, content, err := b.fetcher.Fetch(ctx, link)
	if err != nil {
		b.logger.Debug("Article fetch failed", zap.String("url", link), zap.Error(err))
		report.Skipped++
		return
	}
	if len(content) < minArticleLen {
		report.Skipped++
		return
	}

	currentHash := hashContent(content)
	if entry != nil && entry.ContentHash == currentHash {
		b.touchTracker(link, currentHash, now)
		report.Skipped++
		return
	}

	if known, err := b.kb.HasContentHash(ctx, currentHash); err == nil && known {
		b.touchTracker(link, currentHash, now)
		report.Skipped++
		return
	}

	enriched := b.enrich(ctx, content)
	tags := []string{"autonomous_browse", hub.Category}
	if updateCheck {
		tags = append(tags, "updated_content")
	}
	stored := content
	if enriched != "" {
		stored = content + "\n\n## Research Context\n" + enriched
		tags = append(tags, "enriched")
	}

	err = b.kb.Learn(ctx, stored, link, hub.Category, tags, now, currentHash)
	if err != nil {
		if apperrors.IsDuplicate(err) {
			b.touchTracker(link, currentHash, now)
			report.Skipped++
			return
		}
		b.logger.Warn("Learn failed", zap.String("url", link), zap.Error(err))
		return
	}

	b.touchTracker(link, currentHash, now)
	report.Learned++

	if b.randFn() < discoveryChance {
		b.discover(link, hub.Category)
	}
}

// enrich asks the model which facts need external verification and pulls
// a couple of search snippets for each. Any failure skips enrichment.
func (b *Browser) enrich(ctx context.Context, content string) string {
	excerpt := content
	if len(excerpt) > 1500 {
		excerpt = excerpt[:1500]
	}

	resp, err := b.text.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You list facts or terms in an article that need external verification. Respond with a JSON array of 1-2 short search queries, nothing else."},
		{Role: "user", Content: excerpt},
	})
	if err != nil {
		return ""
	}

	queries := parseQueryList(resp)
	if len(queries) > 2 {
		queries = queries[:2]
	}

	var sb strings.Builder
	for _, q := range queries {
		results, err := b.searcher.Search(ctx, q, 2)
		if err != nil || len(results) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "### %s\n%s\n", q, search.FormatResults(results))
	}
	return strings.TrimSpace(sb.String())
}

func parseQueryList(resp string) []string {
	resp = strings.TrimSpace(resp)
	if start := strings.Index(resp, "["); start >= 0 {
		if end := strings.LastIndex(resp, "]"); end > start {
			resp = resp[start : end+1]
		}
	}
	var queries []string
	if err := json.Unmarshal([]byte(resp), &queries); err != nil {
		return nil
	}
	return queries
}

// discover adds the article's origin host as a new hub.
func (b *Browser) discover(link, category string) {
	parsed, err := url.Parse(link)
	if err != nil || parsed.Host == "" {
		return
	}
	origin := parsed.Scheme + "://" + parsed.Host

	b.favMu.Lock()
	defer b.favMu.Unlock()
	for _, hub := range b.favorites {
		if hub.URL == origin {
			return
		}
	}
	b.favorites = append(b.favorites, &entity.FavoriteHub{
		URL:      origin,
		Category: category,
		AddedAt:  b.nowFn(),
		Source:   entity.HubSourceDiscovered,
	})
	b.logger.Info("Discovered new hub",
		zap.String("url", origin),
		zap.String("category", category),
	)
}

// AddFavorite registers a user-provided hub. Duplicates are rejected.
func (b *Browser) AddFavorite(rawURL, category string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return apperrors.NewInvalidInputError("hub URL must be http(s)")
	}

	b.favMu.Lock()
	defer b.favMu.Unlock()
	for _, hub := range b.favorites {
		if hub.URL == rawURL {
			return apperrors.NewDuplicateError("hub already registered")
		}
	}
	b.favorites = append(b.favorites, &entity.FavoriteHub{
		URL:      rawURL,
		Category: category,
		AddedAt:  b.nowFn(),
		Source:   entity.HubSourceUser,
	})
	return nil
}

// Favorites returns a copy of the hub rotation.
func (b *Browser) Favorites() []entity.FavoriteHub {
	b.favMu.Lock()
	defer b.favMu.Unlock()
	out := make([]entity.FavoriteHub, 0, len(b.favorites))
	for _, hub := range b.favorites {
		out = append(out, *hub)
	}
	return out
}

// pickFavorite selects the coolest eligible hub. With an intent, only
// hubs whose category or URL contains it are considered.
func (b *Browser) pickFavorite(intent string) *entity.FavoriteHub {
	now := b.nowFn()
	intent = strings.ToLower(intent)

	b.favMu.Lock()
	defer b.favMu.Unlock()

	var best *entity.FavoriteHub
	for _, hub := range b.favorites {
		if intent != "" &&
			!strings.Contains(strings.ToLower(hub.Category), intent) &&
			!strings.Contains(strings.ToLower(hub.URL), intent) {
			continue
		}
		if now.Sub(hub.LastVisited) < b.cfg.HubCooldown {
			continue
		}
		if best == nil || hub.LastVisited.Before(best.LastVisited) {
			best = hub
		}
	}
	if best == nil && intent != "" {
		// Nothing matched the intent; fall back to the full rotation.
		for _, hub := range b.favorites {
			if now.Sub(hub.LastVisited) < b.cfg.HubCooldown {
				continue
			}
			if best == nil || hub.LastVisited.Before(best.LastVisited) {
				best = hub
			}
		}
	}
	return best
}

// consumeBudget reserves n pages from the hourly budget. n=0 only checks.
func (b *Browser) consumeBudget(n int) bool {
	now := b.nowFn()

	b.budgetMu.Lock()
	defer b.budgetMu.Unlock()

	if now.Sub(b.hourStart) >= time.Hour {
		b.hourStart = now
		b.pagesUsed = 0
	}
	if b.pagesUsed+n > b.cfg.MaxPagesPerHour {
		return false
	}
	b.pagesUsed += n
	return true
}

// Budget reports pages used in the current hour window and the cap.
func (b *Browser) Budget() (used, max int) {
	b.budgetMu.Lock()
	defer b.budgetMu.Unlock()

	if b.nowFn().Sub(b.hourStart) >= time.Hour {
		return 0, b.cfg.MaxPagesPerHour
	}
	return b.pagesUsed, b.cfg.MaxPagesPerHour
}

func (b *Browser) touchTracker(link, hash string, now time.Time) {
	b.trackMu.Lock()
	b.tracker[link] = &entity.LinkTrackingEntry{
		URL:         link,
		LastScraped: now,
		ContentHash: hash,
	}
	b.trackMu.Unlock()
}

// Checkpoint persists favorites and the link tracker to the data dir.
func (b *Browser) Checkpoint() {
	if b.cfg.DataDir == "" {
		return
	}

	b.favMu.Lock()
	favorites := make([]entity.FavoriteHub, 0, len(b.favorites))
	for _, hub := range b.favorites {
		favorites = append(favorites, *hub)
	}
	b.favMu.Unlock()
	b.writeJSON(favoritesFile, favorites)

	b.trackMu.Lock()
	tracker := make(map[string]entity.LinkTrackingEntry, len(b.tracker))
	for k, v := range b.tracker {
		tracker[k] = *v
	}
	b.trackMu.Unlock()
	b.writeJSON(trackerFile, tracker)
}

func (b *Browser) writeJSON(name string, v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		b.logger.Error("Checkpoint marshal failed", zap.String("file", name), zap.Error(err))
		return
	}

	path := filepath.Join(b.cfg.DataDir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		b.logger.Error("Checkpoint write failed", zap.String("file", name), zap.Error(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		b.logger.Error("Checkpoint rename failed", zap.String("file", name), zap.Error(err))
	}
}

func (b *Browser) loadState() {
	var favorites []entity.FavoriteHub
	if b.readJSON(favoritesFile, &favorites) && len(favorites) > 0 {
		for i := range favorites {
			b.favorites = append(b.favorites, &favorites[i])
		}
	} else {
		for _, hub := range defaultHubs {
			seeded := hub
			seeded.AddedAt = b.nowFn()
			b.favorites = append(b.favorites, &seeded)
		}
	}

	var tracker map[string]entity.LinkTrackingEntry
	if b.readJSON(trackerFile, &tracker) {
		for k := range tracker {
			entry := tracker[k]
			b.tracker[k] = &entry
		}
	}
}

func (b *Browser) readJSON(name string, v interface{}) bool {
	if b.cfg.DataDir == "" {
		return false
	}
	data, err := os.ReadFile(filepath.Join(b.cfg.DataDir, name))
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		b.logger.Warn("Corrupt state file ignored", zap.String("file", name), zap.Error(err))
		return false
	}
	return true
}

func hashContent(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}
