package models

// MatchType classifies how a search result was found.
type MatchType string

const (
	MatchTypeVector MatchType = "vector"
	MatchTypeTag    MatchType = "tag"
)

// SearchResult is one moment returned for a query. Results are never persisted.
type SearchResult struct {
	VideoID    string    `json:"videoId"`
	MatchType  MatchType `json:"matchType"`
	Distance   float64   `json:"distance"`
	Confidence int       `json:"confidence"`
	Timestamp  float64   `json:"timestamp"`
	StartTime  *float64  `json:"startTime,omitempty"`
	EndTime    *float64  `json:"endTime,omitempty"`
	ClipURL    string    `json:"clipUrl,omitempty"`
	MatchCount int       `json:"matchCount"`
	Tags       []string  `json:"tags,omitempty"`
}

// IsClip reports whether the result points at a pre-trimmed clip rather than the full video.
func (r SearchResult) IsClip() bool {
	return r.ClipURL != ""
}

// PrimaryTag returns the first detected class, if any.
func (r SearchResult) PrimaryTag() string {
	if len(r.Tags) == 0 {
		return ""
	}
	return r.Tags[0]
}

// Band returns the confidence band used to grade the result.
func (r SearchResult) Band() ConfidenceBand {
	return BandFor(r.Confidence)
}

// ConfidenceBand grades a 0-100 confidence score.
type ConfidenceBand string

const (
	BandHigh   ConfidenceBand = "high"
	BandMedium ConfidenceBand = "medium"
	BandLow    ConfidenceBand = "low"
)

// BandFor maps a confidence score onto its band.
func BandFor(confidence int) ConfidenceBand {
	switch {
	case confidence >= 80:
		return BandHigh
	case confidence >= 50:
		return BandMedium
	default:
		return BandLow
	}
}
