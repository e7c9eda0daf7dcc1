package plex

import (
	"strings"
	"time"
)

// Section is a library section of a server
type Section struct {
	Key   string
	Title string
	Type  string // "movie" or "show", other kinds are ignored by the sync
}

// Item is the typed shape of a Plex metadata entry
type Item struct {
	RatingKey     string
	Title         string
	ShowTitle     string
	ShowKey       string
	Type          string
	Year          int
	SeasonNumber  *int
	EpisodeNumber *int
	Duration      int64 // Milliseconds
	FileSize      int64 // Bytes over every part of every media version
	Rating        *float64
	AddedAt       *time.Time
	LeafCount     int
	Genres        []string
	Collections   []string
	SectionTitle  string
	IMDBId        string
	TMDBId        string
	TVDBId        string
}

// mapItem converts a metadata entry, leaving unparseable optional fields empty
func mapItem(m Metadata) Item {
	item := Item{
		RatingKey:    m.RatingKey,
		Title:        m.Title,
		ShowTitle:    m.GrandparentTitle,
		ShowKey:      m.GrandparentRatingKey,
		Type:         m.Type,
		Year:         m.Year,
		Duration:     m.Duration,
		LeafCount:    m.LeafCount,
		SectionTitle: m.LibrarySectionTitle,
	}

	if m.Type == "episode" {
		season, episode := m.ParentIndex, m.Index
		item.SeasonNumber = &season
		item.EpisodeNumber = &episode
	}

	switch {
	case m.AudienceRating > 0:
		rating := m.AudienceRating
		item.Rating = &rating
	case m.Rating > 0:
		rating := m.Rating
		item.Rating = &rating
	}

	if m.AddedAt > 0 {
		added := time.Unix(m.AddedAt, 0).UTC()
		item.AddedAt = &added
	}

	for _, media := range m.Media {
		for _, part := range media.Part {
			item.FileSize += part.Size
		}
	}

	for _, genre := range m.Genre {
		item.Genres = append(item.Genres, genre.Tag)
	}
	for _, collection := range m.Collection {
		item.Collections = append(item.Collections, collection.Tag)
	}

	item.IMDBId, item.TMDBId, item.TVDBId = ParseGuids(m.Guids)
	return item
}

// ParseGuids extracts cross-reference ids; the first id of each namespace wins
func ParseGuids(guids []Guid) (imdbID, tmdbID, tvdbID string) {
	for _, guid := range guids {
		namespace, value, ok := strings.Cut(guid.ID, "://")
		if !ok || value == "" {
			continue
		}
		switch namespace {
		case "imdb":
			if imdbID == "" {
				imdbID = value
			}
		case "tmdb":
			if tmdbID == "" {
				tmdbID = value
			}
		case "tvdb":
			if tvdbID == "" {
				tvdbID = value
			}
		}
	}
	return imdbID, tmdbID, tvdbID
}
