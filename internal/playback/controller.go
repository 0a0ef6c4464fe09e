package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/vantagesearch/client/internal/models"
)

// ErrNoGrant indicates no authorized source is available; callers show a placeholder.
var ErrNoGrant = errors.New("media access not granted")

// State is the playback state of one result.
type State string

const (
	Stopped State = "stopped"
	Seeking State = "seeking"
	Playing State = "playing"
	Paused  State = "paused"
)

// Element is the media element a player front-end drives.
type Element interface {
	SetSource(url string) error
	Seek(position float64)
	Play() error
	Pause()
}

// Resolver turns a search result into an authorized media location.
type Resolver interface {
	Resolve(ctx context.Context, result models.SearchResult) (string, error)
}

// Controller bounds playback of one search result to its matched window.
type Controller struct {
	result   models.SearchResult
	resolver Resolver
	element  Element
	logger   *slog.Logger

	mu     sync.Mutex
	state  State
	source string
}

// NewController constructs a Controller in the Stopped state.
func NewController(result models.SearchResult, resolver Resolver, element Element, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		result:   result,
		resolver: resolver,
		element:  element,
		logger:   logger.With(slog.String("videoId", result.VideoID)),
		state:    Stopped,
	}
}

// State returns the current playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Source returns the authorized location once loaded.
func (c *Controller) Source() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// Load resolves the authorized source and attaches it to the element. On
// failure the controller stays Stopped and returns ErrNoGrant.
func (c *Controller) Load(ctx context.Context) error {
	location, err := c.resolver.Resolve(ctx, c.result)
	if err != nil {
		c.mu.Lock()
		c.state = Stopped
		c.source = ""
		c.mu.Unlock()
		c.logger.Warn("media access unavailable", slog.Any("error", err))
		return fmt.Errorf("%w: %w", ErrNoGrant, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.element.SetSource(location); err != nil {
		c.state = Stopped
		c.source = ""
		return fmt.Errorf("attach source: %w", err)
	}
	c.source = location
	return nil
}

// OnMetadata handles the element reporting its duration. A full video seeks to
// the matched window; a clip already starts there.
func (c *Controller) OnMetadata() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.source == "" || c.result.IsClip() {
		return
	}
	c.element.Seek(c.windowStart())
	c.state = Seeking
}

// Play seeks to the matched moment and starts playback. Without an authorized
// source it loads one first and never plays an unauthorized element.
func (c *Controller) Play(ctx context.Context) error {
	if c.Source() == "" {
		if err := c.Load(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.source == "" {
		c.state = Stopped
		return ErrNoGrant
	}

	if c.result.IsClip() {
		c.element.Seek(c.clipOffset())
	} else {
		c.element.Seek(c.windowStart())
	}
	c.state = Seeking

	if err := c.element.Play(); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	c.state = Playing
	return nil
}

// Pause halts playback on request.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Playing {
		return
	}
	c.element.Pause()
	c.state = Paused
}

// OnTimeUpdate enforces the window end of a full video.
func (c *Controller) OnTimeUpdate(position float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Playing || c.result.IsClip() || c.result.EndTime == nil {
		return
	}
	if position >= *c.result.EndTime {
		c.element.Pause()
		c.state = Paused
		c.logger.Debug("window end reached", slog.Float64("position", position))
	}
}

func (c *Controller) windowStart() float64 {
	if c.result.StartTime != nil {
		return *c.result.StartTime
	}
	return c.result.Timestamp
}

// clipOffset is the matched moment relative to the clip's own start.
func (c *Controller) clipOffset() float64 {
	start := 0.0
	if c.result.StartTime != nil {
		start = *c.result.StartTime
	}
	return math.Max(0, c.result.Timestamp-start)
}
