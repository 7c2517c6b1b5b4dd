package pipeline

// MediaType classifies a catalog entry.
type MediaType string

const (
	// TypeMovie is a feature film.
	TypeMovie MediaType = "Movie"
	// TypeTVShow is an episodic series.
	TypeTVShow MediaType = "TV Show"
)

// MediaItem is one entry of the recommendation catalog.
type MediaItem struct {
	Title       string
	Type        MediaType
	Year        int
	Genres      []string
	Description string
	DurationMin int
	Rating      float64
}

// DurationCategory buckets an item by runtime: short (≤90 min), medium
// (≤120 min), or long. Returns "" when the runtime is unknown.
func (m MediaItem) DurationCategory() string {
	switch {
	case m.DurationMin <= 0:
		return ""
	case m.DurationMin <= 90:
		return "short"
	case m.DurationMin <= 120:
		return "medium"
	default:
		return "long"
	}
}

// defaultCatalog is the embedded catalog used by the in-process recommender.
var defaultCatalog = []MediaItem{
	{
		Title: "Interstellar", Type: TypeMovie, Year: 2014,
		Genres:      []string{"sci-fi", "drama", "adventure"},
		Description: "A team of explorers travels through a wormhole in space to ensure humanity's survival.",
		DurationMin: 169, Rating: 8.7,
	},
	{
		Title: "Blade Runner 2049", Type: TypeMovie, Year: 2017,
		Genres:      []string{"sci-fi", "thriller", "mystery"},
		Description: "A young blade runner uncovers a secret that could plunge what's left of society into chaos.",
		DurationMin: 164, Rating: 8.0,
	},
	{
		Title: "Arrival", Type: TypeMovie, Year: 2016,
		Genres:      []string{"sci-fi", "drama", "mystery"},
		Description: "A linguist works with the military to communicate with alien lifeforms after mysterious spacecraft appear.",
		DurationMin: 116, Rating: 7.9,
	},
	{
		Title: "The Grand Budapest Hotel", Type: TypeMovie, Year: 2014,
		Genres:      []string{"comedy", "drama", "crime"},
		Description: "A legendary concierge and his protégé are drawn into a battle over a priceless painting and a family fortune.",
		DurationMin: 99, Rating: 8.1,
	},
	{
		Title: "Parasite", Type: TypeMovie, Year: 2019,
		Genres:      []string{"thriller", "drama", "comedy"},
		Description: "Greed and class discrimination threaten the symbiotic relationship between a wealthy family and a poor one.",
		DurationMin: 132, Rating: 8.5,
	},
	{
		Title: "Spirited Away", Type: TypeMovie, Year: 2001,
		Genres:      []string{"animation", "fantasy", "adventure"},
		Description: "A young girl wanders into a world ruled by gods, witches and spirits, where humans are changed into beasts.",
		DurationMin: 125, Rating: 8.6,
	},
	{
		Title: "Mad Max: Fury Road", Type: TypeMovie, Year: 2015,
		Genres:      []string{"action", "adventure", "sci-fi"},
		Description: "In a post-apocalyptic wasteland, a woman rebels against a tyrannical ruler in search of her homeland.",
		DurationMin: 120, Rating: 8.1,
	},
	{
		Title: "Knives Out", Type: TypeMovie, Year: 2019,
		Genres:      []string{"mystery", "comedy", "crime"},
		Description: "A detective investigates the death of the patriarch of an eccentric, combative family.",
		DurationMin: 130, Rating: 7.9,
	},
	{
		Title: "Paddington 2", Type: TypeMovie, Year: 2017,
		Genres:      []string{"comedy", "family", "adventure"},
		Description: "Paddington picks up a series of odd jobs to buy the perfect present, only for the gift to be stolen.",
		DurationMin: 103, Rating: 7.8,
	},
	{
		Title: "The Expanse", Type: TypeTVShow, Year: 2015,
		Genres:      []string{"sci-fi", "drama", "mystery"},
		Description: "A detective and a ship's crew unravel a conspiracy that threatens a cold war between Earth, Mars and the Belt.",
		DurationMin: 45, Rating: 8.5,
	},
	{
		Title: "Dark", Type: TypeTVShow, Year: 2017,
		Genres:      []string{"sci-fi", "thriller", "mystery"},
		Description: "A family saga with a supernatural twist, set in a German town where the disappearance of children exposes double lives.",
		DurationMin: 60, Rating: 8.7,
	},
	{
		Title: "Fleabag", Type: TypeTVShow, Year: 2016,
		Genres:      []string{"comedy", "drama"},
		Description: "A dry-witted woman navigates life and love in London while coming to terms with a tragedy.",
		DurationMin: 27, Rating: 8.7,
	},
	{
		Title: "True Detective", Type: TypeTVShow, Year: 2014,
		Genres:      []string{"crime", "drama", "thriller", "mystery"},
		Description: "Seasonal anthology in which police investigations unearth the personal and professional secrets of those involved.",
		DurationMin: 55, Rating: 8.9,
	},
	{
		Title: "Over the Garden Wall", Type: TypeTVShow, Year: 2014,
		Genres:      []string{"animation", "fantasy", "adventure"},
		Description: "Two brothers find themselves lost in a mysterious forest and must travel across it to find their way home.",
		DurationMin: 11, Rating: 8.8,
	},
}
