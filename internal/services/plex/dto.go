package plex

// APIResponse wraps every JSON response of a Plex Media Server
type APIResponse struct {
	MediaContainer MediaContainer `json:"MediaContainer"`
}

// MediaContainer is the Plex response envelope
type MediaContainer struct {
	Size              int                `json:"size"`
	TotalSize         int                `json:"totalSize"`
	Offset            int                `json:"offset"`
	MachineIdentifier string             `json:"machineIdentifier"`
	Directory         []SectionDirectory `json:"Directory"`
	Metadata          []Metadata         `json:"Metadata"`
}

// SectionDirectory is a library section entry
type SectionDirectory struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

// Guid is an external identifier such as "imdb://tt0111161"
type Guid struct {
	ID string `json:"id"`
}

// Tag is a named tag (genre, collection)
type Tag struct {
	Tag string `json:"tag"`
}

// Part is one file of a media version
type Part struct {
	Size int64  `json:"size"`
	File string `json:"file"`
}

// Media is one version of an item
type Media struct {
	Part []Part `json:"Part"`
}

// Metadata is a movie, show, season or episode
type Metadata struct {
	RatingKey            string  `json:"ratingKey"`
	GUID                 string  `json:"guid"`
	Guids                []Guid  `json:"Guid"`
	Type                 string  `json:"type"`
	Title                string  `json:"title"`
	GrandparentTitle     string  `json:"grandparentTitle"`
	GrandparentRatingKey string  `json:"grandparentRatingKey"`
	Index                int     `json:"index"`
	ParentIndex          int     `json:"parentIndex"`
	Rating               float64 `json:"rating"`
	AudienceRating       float64 `json:"audienceRating"`
	Year                 int     `json:"year"`
	Duration             int64   `json:"duration"`
	AddedAt              int64   `json:"addedAt"`
	LeafCount            int     `json:"leafCount"`
	LibrarySectionID     int     `json:"librarySectionID"`
	LibrarySectionTitle  string  `json:"librarySectionTitle"`
	Genre                []Tag   `json:"Genre"`
	Collection           []Tag   `json:"Collection"`
	Media                []Media `json:"Media"`
}

// ServerResource is a server advertised by plex.tv
type ServerResource struct {
	Name        string       `json:"name"`
	Product     string       `json:"product"`
	ClientID    string       `json:"clientIdentifier"`
	AccessToken string       `json:"accessToken"`
	Owned       bool         `json:"owned"`
	Connections []Connection `json:"connections"`
}

// Connection is one advertised address of a server
type Connection struct {
	Protocol string `json:"protocol"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
	URI      string `json:"uri"`
	Local    bool   `json:"local"`
	Relay    bool   `json:"relay"`
	IPv6     bool   `json:"IPv6"`
}
