package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vantagesearch/client/internal/models"
)

// decodeList accepts a bare JSON array or an object wrapping the array under
// "items", "videos" or "results", which different endpoint versions return.
func decodeList[T any](data []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty list payload")
	}

	switch trimmed[0] {
	case '[':
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode list: %w", err)
		}
		return items, nil
	case '{':
		var wrapped struct {
			Items   *[]T `json:"items"`
			Videos  *[]T `json:"videos"`
			Results *[]T `json:"results"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode wrapped list: %w", err)
		}
		for _, candidate := range []*[]T{wrapped.Items, wrapped.Videos, wrapped.Results} {
			if candidate != nil {
				return *candidate, nil
			}
		}
		return []T{}, nil
	case 'n':
		return []T{}, nil
	default:
		return nil, fmt.Errorf("unexpected list payload starting with %q", trimmed[0])
	}
}

// flexString accepts JSON strings and numbers; user and video ids come as both.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

// flexTime accepts RFC 3339 timestamps as well as the naive ISO timestamps
// (no zone, treated as UTC) the backend emits.
type flexTime time.Time

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func (f *flexTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var secs float64
		if err := json.Unmarshal(data, &secs); err != nil {
			return fmt.Errorf("expected timestamp, got %s", data)
		}
		*f = flexTime(time.Unix(0, int64(secs*float64(time.Second))).UTC())
		return nil
	}
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		*f = flexTime(t.UTC())
		return nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			*f = flexTime(t)
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

type wireVideo struct {
	ID            flexString `json:"id"`
	VideoID       flexString `json:"video_id"`
	VideoIDCamel  flexString `json:"videoId"`
	Filename      string     `json:"filename"`
	Status        string     `json:"status"`
	FileSize      int64      `json:"fileSize"`
	FileSizeSnake int64      `json:"file_size"`
	CreatedAt     flexTime   `json:"createdAt"`
	CreatedSnake  flexTime   `json:"created_at"`
}

func (w wireVideo) record() models.VideoRecord {
	created := time.Time(w.CreatedAt)
	if created.IsZero() {
		created = time.Time(w.CreatedSnake)
	}
	size := w.FileSize
	if size == 0 {
		size = w.FileSizeSnake
	}
	return models.VideoRecord{
		ID:        firstNonEmpty(string(w.ID), string(w.VideoID), string(w.VideoIDCamel)),
		Filename:  w.Filename,
		Status:    models.VideoStatus(strings.ToLower(strings.TrimSpace(w.Status))),
		FileSize:  size,
		CreatedAt: created,
	}
}

func normalizeVideos(data []byte) ([]models.VideoRecord, error) {
	wire, err := decodeList[wireVideo](data)
	if err != nil {
		return nil, err
	}
	videos := make([]models.VideoRecord, 0, len(wire))
	for _, w := range wire {
		rec := w.record()
		if rec.ID == "" {
			continue
		}
		videos = append(videos, rec)
	}
	return videos, nil
}

// SearchHit is a search result as received, before confidence is derived.
// Confidence is nil when the server did not supply one.
type SearchHit struct {
	VideoID    string
	MatchType  models.MatchType
	Distance   float64
	Confidence *float64
	Timestamp  float64
	StartTime  *float64
	EndTime    *float64
	ClipURL    string
	MatchCount int
	Tags       []string
}

type wireHit struct {
	VideoID         flexString `json:"videoId"`
	VideoIDSnake    flexString `json:"video_id"`
	Distance        *float64   `json:"distance"`
	Confidence      *float64   `json:"confidence"`
	MatchType       string     `json:"matchType"`
	MatchTypeSnake  string     `json:"match_type"`
	Timestamp       *float64   `json:"timestamp"`
	StartTime       *float64   `json:"startTime"`
	StartTimeSnake  *float64   `json:"start_time"`
	EndTime         *float64   `json:"endTime"`
	EndTimeSnake    *float64   `json:"end_time"`
	ClipURL         string     `json:"clipUrl"`
	ClipURLSnake    string     `json:"clip_url"`
	MatchCount      int        `json:"matchCount"`
	MatchCountSnake int        `json:"match_count"`
	Tags            []string   `json:"tags"`
	DetectedClasses string     `json:"detected_classes"`
	Metadata        *wireHit   `json:"metadata"`
}

// flatten merges the nested metadata object into the top-level fields; top-level wins.
func (w wireHit) flatten() wireHit {
	if w.Metadata == nil {
		return w
	}
	m := w.Metadata.flatten()
	out := w
	out.Metadata = nil
	out.VideoID = flexString(firstNonEmpty(string(w.VideoID), string(w.VideoIDSnake), string(m.VideoID), string(m.VideoIDSnake)))
	out.Distance = firstFloat(w.Distance, m.Distance)
	out.Confidence = firstFloat(w.Confidence, m.Confidence)
	out.MatchType = firstNonEmpty(w.MatchType, w.MatchTypeSnake, m.MatchType, m.MatchTypeSnake)
	out.Timestamp = firstFloat(w.Timestamp, m.Timestamp)
	out.StartTime = firstFloat(w.StartTime, w.StartTimeSnake, m.StartTime, m.StartTimeSnake)
	out.EndTime = firstFloat(w.EndTime, w.EndTimeSnake, m.EndTime, m.EndTimeSnake)
	out.ClipURL = firstNonEmpty(w.ClipURL, w.ClipURLSnake, m.ClipURL, m.ClipURLSnake)
	out.MatchCount = firstPositive(w.MatchCount, w.MatchCountSnake, m.MatchCount, m.MatchCountSnake)
	if len(out.Tags) == 0 {
		out.Tags = m.Tags
	}
	out.DetectedClasses = firstNonEmpty(w.DetectedClasses, m.DetectedClasses)
	return out
}

func (w wireHit) hit() SearchHit {
	f := w.flatten()

	hit := SearchHit{
		VideoID:    firstNonEmpty(string(f.VideoID), string(f.VideoIDSnake)),
		MatchType:  models.MatchType(strings.ToLower(firstNonEmpty(f.MatchType, f.MatchTypeSnake, string(models.MatchTypeVector)))),
		Confidence: f.Confidence,
		StartTime:  firstFloat(f.StartTime, f.StartTimeSnake),
		EndTime:    firstFloat(f.EndTime, f.EndTimeSnake),
		ClipURL:    firstNonEmpty(f.ClipURL, f.ClipURLSnake),
		MatchCount: firstPositive(f.MatchCount, f.MatchCountSnake, 1),
		Tags:       f.Tags,
	}

	switch {
	case f.Distance != nil:
		hit.Distance = *f.Distance
	case f.Confidence != nil:
		hit.Distance = 1 - *f.Confidence/100
	default:
		hit.Distance = 1
	}
	if f.Timestamp != nil {
		hit.Timestamp = *f.Timestamp
	} else if hit.StartTime != nil {
		hit.Timestamp = *hit.StartTime
	}
	if len(hit.Tags) == 0 && f.DetectedClasses != "" {
		for _, tag := range strings.Split(f.DetectedClasses, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				hit.Tags = append(hit.Tags, tag)
			}
		}
	}
	return hit
}

func normalizeHits(data []byte) ([]SearchHit, error) {
	wire, err := decodeList[wireHit](data)
	if err != nil {
		return nil, err
	}
	hits := make([]SearchHit, 0, len(wire))
	for _, w := range wire {
		hits = append(hits, w.hit())
	}
	return hits, nil
}

type wireSession struct {
	SessionToken     string     `json:"sessionToken"`
	AccessToken      string     `json:"access_token"`
	Token            string     `json:"token"`
	UserID           flexString `json:"userId"`
	UserIDSnake      flexString `json:"user_id"`
	DisplayName      string     `json:"displayName"`
	DisplayNameSnake string     `json:"display_name"`
	FullName         string     `json:"full_name"`
}

func (w wireSession) session(now time.Time) (models.Session, error) {
	token := firstNonEmpty(w.SessionToken, w.AccessToken, w.Token)
	if token == "" {
		return models.Session{}, errors.New("login response carried no session token")
	}
	return models.Session{
		UserID:      firstNonEmpty(string(w.UserID), string(w.UserIDSnake)),
		DisplayName: firstNonEmpty(w.DisplayName, w.DisplayNameSnake, w.FullName),
		Token:       token,
		IssuedAt:    now,
	}, nil
}

type wireStats struct {
	TotalFrames      *int64 `json:"total_frames_analyzed"`
	TotalFramesCamel *int64 `json:"totalFramesAnalyzed"`
}

type wireID struct {
	ID           flexString `json:"id"`
	VideoID      flexString `json:"video_id"`
	VideoIDCamel flexString `json:"videoId"`
}

type wireError struct {
	Detail  json.RawMessage `json:"detail"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// errorMessage extracts a human readable message from an error body.
func errorMessage(body []byte) string {
	var w wireError
	if err := json.Unmarshal(body, &w); err != nil {
		return ""
	}
	if len(w.Detail) > 0 {
		var s string
		if err := json.Unmarshal(w.Detail, &s); err == nil {
			return s
		}
		return string(w.Detail)
	}
	return firstNonEmpty(w.Error, w.Message)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstFloat(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
