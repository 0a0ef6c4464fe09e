package library

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/vantagesearch/client/internal/models"
	"github.com/vantagesearch/client/internal/poller"
)

var (
	// ErrUploadInProgress indicates the upload surface already has an active upload.
	ErrUploadInProgress = errors.New("an upload is already in progress")
	// ErrBusy indicates an action is already pending for the video.
	ErrBusy = errors.New("an action is already pending for this video")
)

// API is the subset of the backend the library needs.
type API interface {
	ListVideos(ctx context.Context) ([]models.VideoRecord, error)
	UploadVideo(ctx context.Context, filename string, r io.Reader) (string, error)
	DeleteVideo(ctx context.Context, id string) error
	RetryVideo(ctx context.Context, id string) error
}

// Options tunes the controller's timing.
type Options struct {
	PollInterval       time.Duration
	UploadRefreshDelay time.Duration
}

// Snapshot is a consistent copy of the library state.
type Snapshot struct {
	Videos    []models.VideoRecord `json:"videos"`
	Stats     models.LibraryStats  `json:"stats"`
	Loaded    bool                 `json:"loaded"`
	Loading   bool                 `json:"loading"`
	Error     string               `json:"error,omitempty"`
	Upload    models.UploadTask    `json:"upload"`
	Busy      []string             `json:"busy,omitempty"`
	UpdatedAt time.Time            `json:"updatedAt"`

	err error
}

// Err returns the last refresh failure, if any.
func (s Snapshot) Err() error { return s.err }

// listing is one fetch outcome tagged with the sequence number it was started under.
type listing struct {
	seq    uint64
	videos []models.VideoRecord
}

// Controller owns the cached video set and its mutations.
type Controller struct {
	api    API
	logger *slog.Logger
	opts   Options
	poller *poller.Poller[listing]

	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer

	mu        sync.Mutex
	videos    []models.VideoRecord
	loaded    bool
	fetching  int
	lastErr   error
	updatedAt time.Time
	upload    models.UploadTask
	uploadSeq uint64
	clear     *time.Timer
	busy      map[string]struct{}

	// fetchSeq numbers every list request. tombstones remembers, per deleted id,
	// the newest fetch that may have been answered before the delete landed.
	fetchSeq   uint64
	tombstones map[string]uint64
}

// NewController constructs a Controller polling on behalf of session.
func NewController(api API, session poller.SessionWatcher, opts Options, logger *slog.Logger) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.UploadRefreshDelay <= 0 {
		opts.UploadRefreshDelay = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		api:        api,
		logger:     logger,
		opts:       opts,
		now:        time.Now,
		afterFunc:  time.AfterFunc,
		upload:     models.UploadTask{State: models.UploadIdle},
		busy:       make(map[string]struct{}),
		tombstones: make(map[string]uint64),
	}
	c.poller = poller.New(poller.Config[listing]{
		Name:     "library",
		Interval: opts.PollInterval,
		Fetch:    c.fetch,
		Apply:    c.apply,
	}, session, logger)
	return c
}

// Start begins polling. It fails with poller.ErrNoSession without a session.
func (c *Controller) Start(ctx context.Context) error {
	return c.poller.Start(ctx)
}

// Stop halts polling and cancels a pending upload auto-clear.
func (c *Controller) Stop() {
	c.poller.Stop()

	c.mu.Lock()
	if c.clear != nil {
		c.clear.Stop()
		c.clear = nil
	}
	c.mu.Unlock()
}

// Refresh forces an out-of-band fetch on the running poller.
func (c *Controller) Refresh() {
	c.poller.Refresh()
}

// Load performs one synchronous fetch outside the poll loop.
func (c *Controller) Load(ctx context.Context) error {
	result, err := c.fetch(ctx)
	c.apply(result, err)
	return err
}

func (c *Controller) fetch(ctx context.Context) (listing, error) {
	c.mu.Lock()
	c.fetchSeq++
	seq := c.fetchSeq
	c.fetching++
	c.mu.Unlock()

	videos, err := c.api.ListVideos(ctx)

	// The poller drops results that arrive after the session ends.
	c.mu.Lock()
	c.fetching--
	c.mu.Unlock()
	return listing{seq: seq, videos: videos}, err
}

func (c *Controller) apply(result listing, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.lastErr = err
		c.logger.Warn("library refresh failed", slog.Any("error", err))
		return
	}

	videos := make([]models.VideoRecord, 0, len(result.videos))
	for _, v := range result.videos {
		if seq, ok := c.tombstones[v.ID]; ok && result.seq <= seq {
			continue
		}
		videos = append(videos, v)
	}
	for id, seq := range c.tombstones {
		if result.seq > seq {
			delete(c.tombstones, id)
		}
	}

	c.videos = videos
	c.loaded = true
	c.lastErr = nil
	c.updatedAt = c.now()
}

// List returns the current state.
func (c *Controller) List() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	videos := make([]models.VideoRecord, len(c.videos))
	copy(videos, c.videos)

	busy := make([]string, 0, len(c.busy))
	for id := range c.busy {
		busy = append(busy, id)
	}

	snap := Snapshot{
		Videos:    videos,
		Stats:     models.ComputeLibraryStats(videos),
		Loaded:    c.loaded,
		Loading:   c.fetching > 0,
		Upload:    c.upload,
		Busy:      busy,
		UpdatedAt: c.updatedAt,
		err:       c.lastErr,
	}
	if c.lastErr != nil {
		snap.Error = c.lastErr.Error()
	}
	return snap
}

// Upload sends one file. On success the new video is listed as processing
// until the server reports otherwise, and after the refresh delay the upload
// state returns to idle and the library is refreshed.
func (c *Controller) Upload(ctx context.Context, filename string, r io.Reader) error {
	name := filepath.Base(filename)

	c.mu.Lock()
	if c.upload.State.IsActive() {
		c.mu.Unlock()
		return ErrUploadInProgress
	}
	if c.clear != nil {
		c.clear.Stop()
		c.clear = nil
	}
	c.uploadSeq++
	seq := c.uploadSeq
	c.upload = models.UploadTask{Filename: name, State: models.UploadUploading, StartedAt: c.now()}
	c.mu.Unlock()

	id, err := c.api.UploadVideo(ctx, filename, r)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.upload.FinishedAt = c.now()
	if err != nil {
		c.upload.State = models.UploadError
		c.upload.LastError = err.Error()
		c.logger.Warn("upload failed", slog.String("filename", name), slog.Any("error", err))
		return err
	}

	c.upload.State = models.UploadSuccess
	c.upload.VideoID = id
	if !c.containsLocked(id) {
		c.videos = append(c.videos, models.VideoRecord{
			ID:        id,
			Filename:  name,
			Status:    models.VideoStatusProcessing,
			CreatedAt: c.upload.FinishedAt,
		})
	}
	c.logger.Info("upload accepted", slog.String("videoId", id), slog.String("filename", name))

	c.clear = c.afterFunc(c.opts.UploadRefreshDelay, func() {
		c.mu.Lock()
		if c.uploadSeq != seq || c.upload.State != models.UploadSuccess {
			c.mu.Unlock()
			return
		}
		c.upload = models.UploadTask{State: models.UploadIdle}
		c.clear = nil
		c.mu.Unlock()

		c.Refresh()
	})
	return nil
}

// Delete removes a video on the server and, on success, from the local set.
// A failure leaves the local set unchanged and is returned to the caller.
func (c *Controller) Delete(ctx context.Context, id string) error {
	if !c.acquire(id) {
		return ErrBusy
	}
	defer c.release(id)

	if err := c.api.DeleteVideo(ctx, id); err != nil {
		c.logger.Warn("delete failed", slog.String("videoId", id), slog.Any("error", err))
		return err
	}

	c.mu.Lock()
	kept := c.videos[:0:0]
	for _, v := range c.videos {
		if v.ID != id {
			kept = append(kept, v)
		}
	}
	c.videos = kept
	c.tombstones[id] = c.fetchSeq
	c.mu.Unlock()

	c.logger.Info("video deleted", slog.String("videoId", id))
	c.Refresh()
	return nil
}

// Retry asks the server to re-index a video. Its status only changes through refresh.
func (c *Controller) Retry(ctx context.Context, id string) error {
	if !c.acquire(id) {
		return ErrBusy
	}
	defer c.release(id)

	if err := c.api.RetryVideo(ctx, id); err != nil {
		c.logger.Warn("retry failed", slog.String("videoId", id), slog.Any("error", err))
		return err
	}

	c.logger.Info("retry requested", slog.String("videoId", id))
	c.Refresh()
	return nil
}

// IsBusy reports whether an action is pending for id.
func (c *Controller) IsBusy(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.busy[id]
	return ok
}

func (c *Controller) acquire(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.busy[id]; ok {
		return false
	}
	c.busy[id] = struct{}{}
	return true
}

func (c *Controller) release(id string) {
	c.mu.Lock()
	delete(c.busy, id)
	c.mu.Unlock()
}

func (c *Controller) containsLocked(id string) bool {
	for _, v := range c.videos {
		if v.ID == id {
			return true
		}
	}
	return false
}
