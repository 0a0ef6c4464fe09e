package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vantagesearch/client/internal/auth"
	"github.com/vantagesearch/client/internal/logging"
	"github.com/vantagesearch/client/internal/models"
)

// ErrSessionChanged indicates the session ended or was replaced while a grant was being signed.
var ErrSessionChanged = errors.New("session changed while signing")

// DefaultGrantTTL keeps a margin below the backend's five minute token lifetime.
const DefaultGrantTTL = 4 * time.Minute

// Signer issues signed media tokens and turns them into authorized locations.
type Signer interface {
	SignVideo(ctx context.Context, id string) (string, error)
	VideoURL(id, token string) string
	ClipURL(clipURL, token string) (string, error)
}

// Session exposes what the broker needs from the session owner.
type Session interface {
	Generation() uint64
	Subscribe(fn func(auth.Event)) func()
}

// Broker caches one media access grant per video and coalesces concurrent
// signing requests for the same video.
type Broker struct {
	signer  Signer
	session Session
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time

	group singleflight.Group

	mu     sync.Mutex
	grants map[string]models.MediaAccessGrant
	gen    uint64

	unsubscribe func()
}

// NewBroker constructs a Broker that drops every grant when the session changes.
func NewBroker(signer Signer, session Session, ttl time.Duration, logger *slog.Logger) *Broker {
	if ttl <= 0 {
		ttl = DefaultGrantTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		signer:  signer,
		session: session,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		grants:  make(map[string]models.MediaAccessGrant),
		gen:     session.Generation(),
	}
	b.unsubscribe = session.Subscribe(func(e auth.Event) { b.reset(e.Generation) })
	return b
}

// Close detaches the broker from session events.
func (b *Broker) Close() {
	b.unsubscribe()
}

// AccessToken returns a non-stale grant for resourceID, signing a new one when
// needed. Concurrent callers for the same resource share one signing request.
// Failures are never cached.
func (b *Broker) AccessToken(ctx context.Context, resourceID string) (models.MediaAccessGrant, error) {
	b.mu.Lock()
	if grant, ok := b.grants[resourceID]; ok && !b.staleLocked(grant) {
		b.mu.Unlock()
		return grant, nil
	}
	gen := b.gen
	b.mu.Unlock()

	key := strconv.FormatUint(gen, 10) + "/" + resourceID
	ch := b.group.DoChan(key, func() (any, error) {
		return b.sign(context.WithoutCancel(ctx), gen, resourceID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return models.MediaAccessGrant{}, res.Err
		}
		return res.Val.(models.MediaAccessGrant), nil
	case <-ctx.Done():
		return models.MediaAccessGrant{}, ctx.Err()
	}
}

func (b *Broker) sign(ctx context.Context, gen uint64, resourceID string) (models.MediaAccessGrant, error) {
	ctx, span := logging.StartSpan(ctx, "media.sign")

	token, err := b.signer.SignVideo(ctx, resourceID)
	if err != nil {
		span.End(err)
		return models.MediaAccessGrant{}, fmt.Errorf("sign %s: %w", resourceID, err)
	}

	grant := models.MediaAccessGrant{ResourceID: resourceID, Token: token, IssuedAt: b.now()}

	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		span.End(ErrSessionChanged)
		return models.MediaAccessGrant{}, ErrSessionChanged
	}
	b.grants[resourceID] = grant
	b.mu.Unlock()

	span.End(nil)
	return grant, nil
}

// Invalidate drops the grant for resourceID after the media endpoint rejected it.
func (b *Broker) Invalidate(resourceID string) {
	b.mu.Lock()
	delete(b.grants, resourceID)
	b.mu.Unlock()
}

// Reset drops every cached grant.
func (b *Broker) Reset() {
	b.reset(b.session.Generation())
}

func (b *Broker) reset(gen uint64) {
	b.mu.Lock()
	dropped := len(b.grants)
	b.grants = make(map[string]models.MediaAccessGrant)
	if gen > b.gen {
		b.gen = gen
	}
	b.mu.Unlock()

	if dropped > 0 {
		b.logger.Debug("media grants cleared", slog.Int("count", dropped))
	}
}

// Cached reports the number of grants currently held.
func (b *Broker) Cached() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.grants)
}

func (b *Broker) staleLocked(grant models.MediaAccessGrant) bool {
	return b.now().Sub(grant.IssuedAt) >= b.ttl
}

// VideoURL returns an authorized location for the full video.
func (b *Broker) VideoURL(ctx context.Context, videoID string) (string, error) {
	grant, err := b.AccessToken(ctx, videoID)
	if err != nil {
		return "", err
	}
	return b.signer.VideoURL(videoID, grant.Token), nil
}

// Resolve returns the authorized location for a search result: the clip when
// the result carries one, otherwise the full video. Clips share their source
// video's grant.
func (b *Broker) Resolve(ctx context.Context, result models.SearchResult) (string, error) {
	grant, err := b.AccessToken(ctx, result.VideoID)
	if err != nil {
		return "", err
	}
	if result.IsClip() {
		return b.signer.ClipURL(result.ClipURL, grant.Token)
	}
	return b.signer.VideoURL(result.VideoID, grant.Token), nil
}
