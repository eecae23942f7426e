package entity

import "time"

// KnowledgeDocument is one learned document in the vector knowledge base.
// ContentHash is globally unique among undeleted documents.
type KnowledgeDocument struct {
	ID          string
	Content     string
	Vector      []float32
	Source      string
	Category    string
	Tags        []string
	Timestamp   time.Time
	ContentHash string
}

// KnowledgeStats summarizes the knowledge base for the stats surface.
type KnowledgeStats struct {
	TotalDocuments int64
	Categories     map[string]int64
	OldestDocument time.Time
	NewestDocument time.Time
}

// HubSource records how a favorite hub entered the rotation.
type HubSource string

const (
	HubSourceDefault    HubSource = "default"
	HubSourceUser       HubSource = "user"
	HubSourceDiscovered HubSource = "discovered"
)

// FavoriteHub is a root URL the browser extracts article links from.
// A hub is revisited only after its cooldown has elapsed.
type FavoriteHub struct {
	URL         string    `json:"url"`
	Category    string    `json:"category"`
	LastVisited time.Time `json:"last_visited"`
	VisitCount  int       `json:"visit_count"`
	AddedAt     time.Time `json:"added_at"`
	Source      HubSource `json:"source"`
}

// LinkTrackingEntry records the last scrape of a single article URL.
// ContentHash reflects the content actually stored for that URL, which
// makes unchanged pages skippable within the staleness window.
type LinkTrackingEntry struct {
	URL         string    `json:"url"`
	LastScraped time.Time `json:"last_scraped"`
	ContentHash string    `json:"content_hash"`
}
