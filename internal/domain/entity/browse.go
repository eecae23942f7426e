package entity

// BrowseReport summarizes one autonomous surf session.
type BrowseReport struct {
	Hub     string
	Visited []string
	Learned int
	Skipped int
}
