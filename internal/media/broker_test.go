package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vantagesearch/client/internal/auth"
	"github.com/vantagesearch/client/internal/logging"
	"github.com/vantagesearch/client/internal/models"
)

type stubSigner struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (s *stubSigner) SignVideo(ctx context.Context, id string) (string, error) {
	n := s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("grant-%s-%d", id, n), nil
}

func (s *stubSigner) VideoURL(id, token string) string {
	return "http://media/videos/" + id + "?token=" + token
}

func (s *stubSigner) ClipURL(clipURL, token string) (string, error) {
	return "http://media" + clipURL + "?token=" + token, nil
}

type fakeSession struct {
	mu   sync.Mutex
	gen  uint64
	subs []func(auth.Event)
}

func (f *fakeSession) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen
}

func (f *fakeSession) Subscribe(fn func(auth.Event)) func() {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeSession) transition(kind auth.EventKind) {
	f.mu.Lock()
	f.gen++
	event := auth.Event{Kind: kind, Generation: f.gen}
	subs := append([]func(auth.Event){}, f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(event)
	}
}

func TestAccessTokenCoalescesConcurrentRequests(t *testing.T) {
	signer := &stubSigner{release: make(chan struct{})}
	broker := NewBroker(signer, &fakeSession{gen: 1}, time.Minute, logging.Discard())

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			grant, err := broker.AccessToken(context.Background(), "v1")
			tokens[i], errs[i] = grant.Token, err
		}(i)
	}

	waitForCondition(t, time.Second, func() bool { return signer.calls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(signer.release)
	wg.Wait()

	if got := signer.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one signing request got %d", got)
	}
	for i := range tokens {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if tokens[i] != "grant-v1-1" {
			t.Fatalf("caller %d got %q", i, tokens[i])
		}
	}

	if _, err := broker.AccessToken(context.Background(), "v1"); err != nil {
		t.Fatalf("cached access: %v", err)
	}
	if got := signer.calls.Load(); got != 1 {
		t.Fatalf("expected cached grant to be reused, got %d calls", got)
	}
}

func TestLogoutClearsGrants(t *testing.T) {
	signer := &stubSigner{}
	session := &fakeSession{gen: 1}
	broker := NewBroker(signer, session, time.Minute, logging.Discard())

	if _, err := broker.AccessToken(context.Background(), "v1"); err != nil {
		t.Fatalf("access: %v", err)
	}
	session.transition(auth.SessionEnded)
	if broker.Cached() != 0 {
		t.Fatal("expected grant cache to be empty after logout")
	}

	session.transition(auth.SessionStarted)
	grant, err := broker.AccessToken(context.Background(), "v1")
	if err != nil {
		t.Fatalf("access after login: %v", err)
	}
	if signer.calls.Load() != 2 || grant.Token != "grant-v1-2" {
		t.Fatalf("expected a fresh signing request, calls=%d token=%q", signer.calls.Load(), grant.Token)
	}
}

func TestInFlightResultFromPreviousSessionIsDiscarded(t *testing.T) {
	signer := &stubSigner{release: make(chan struct{})}
	session := &fakeSession{gen: 1}
	broker := NewBroker(signer, session, time.Minute, logging.Discard())

	result := make(chan error, 1)
	go func() {
		_, err := broker.AccessToken(context.Background(), "v1")
		result <- err
	}()
	waitForCondition(t, time.Second, func() bool { return signer.calls.Load() == 1 })

	session.transition(auth.SessionEnded)
	close(signer.release)

	if err := <-result; !errors.Is(err, ErrSessionChanged) {
		t.Fatalf("expected ErrSessionChanged got %v", err)
	}
	if broker.Cached() != 0 {
		t.Fatal("expected stale signing result not to be cached")
	}
}

func TestStaleGrantIsReissued(t *testing.T) {
	signer := &stubSigner{}
	broker := NewBroker(signer, &fakeSession{gen: 1}, time.Minute, logging.Discard())
	now := time.Now()
	broker.now = func() time.Time { return now }

	if _, err := broker.AccessToken(context.Background(), "v1"); err != nil {
		t.Fatalf("access: %v", err)
	}
	now = now.Add(59 * time.Second)
	if _, err := broker.AccessToken(context.Background(), "v1"); err != nil {
		t.Fatalf("access: %v", err)
	}
	if signer.calls.Load() != 1 {
		t.Fatalf("expected fresh grant to be reused, got %d calls", signer.calls.Load())
	}

	now = now.Add(time.Second)
	if _, err := broker.AccessToken(context.Background(), "v1"); err != nil {
		t.Fatalf("access: %v", err)
	}
	if signer.calls.Load() != 2 {
		t.Fatalf("expected stale grant to be re-signed, got %d calls", signer.calls.Load())
	}
}

func TestFailuresAreNotCached(t *testing.T) {
	signer := &stubSigner{err: errors.New("backend down")}
	broker := NewBroker(signer, &fakeSession{gen: 1}, time.Minute, logging.Discard())

	for i := 0; i < 2; i++ {
		if _, err := broker.AccessToken(context.Background(), "v1"); err == nil {
			t.Fatal("expected signing failure")
		}
	}
	if signer.calls.Load() != 2 {
		t.Fatalf("expected every attempt to reach the signer, got %d", signer.calls.Load())
	}
	if broker.Cached() != 0 {
		t.Fatal("expected no cached grant")
	}
}

func TestCallerCancellationDoesNotAbortSharedRequest(t *testing.T) {
	signer := &stubSigner{release: make(chan struct{})}
	broker := NewBroker(signer, &fakeSession{gen: 1}, time.Minute, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := broker.AccessToken(ctx, "v1")
		result <- err
	}()
	waitForCondition(t, time.Second, func() bool { return signer.calls.Load() == 1 })
	cancel()
	if err := <-result; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation got %v", err)
	}

	close(signer.release)
	waitForCondition(t, time.Second, func() bool { return broker.Cached() == 1 })
}

func TestResolve(t *testing.T) {
	broker := NewBroker(&stubSigner{}, &fakeSession{gen: 1}, time.Minute, logging.Discard())

	full, err := broker.Resolve(context.Background(), models.SearchResult{VideoID: "v1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if full != "http://media/videos/v1?token=grant-v1-1" {
		t.Fatalf("unexpected full video url %q", full)
	}

	clip, err := broker.Resolve(context.Background(), models.SearchResult{VideoID: "v1", ClipURL: "/clips/c1.mp4"})
	if err != nil {
		t.Fatalf("resolve clip: %v", err)
	}
	if clip != "http://media/clips/c1.mp4?token=grant-v1-1" {
		t.Fatalf("expected clip to share the video grant, got %q", clip)
	}
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
