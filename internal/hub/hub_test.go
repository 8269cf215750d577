package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torrentd/internal/domain"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fakeSource struct {
	mu   sync.Mutex
	snap []domain.Job
}

func (f *fakeSource) Snapshot() []domain.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

type fakeSub struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

func (s *fakeSub) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("send failed")
	}
	cp := append([]byte(nil), data...)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSub) last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[len(s.frames)-1]
}

func (s *fakeSub) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func decodeFrame(t *testing.T, data []byte) domain.PushMessage {
	t.Helper()
	var msg domain.PushMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestRegisterSendsCurrentSnapshot(t *testing.T) {
	src := &fakeSource{snap: []domain.Job{{ID: "a", Name: "x", State: domain.JobStateDownloading}}}
	h := New(src, 4, testLogger())

	sub := &fakeSub{}
	h.Register(sub)

	assert.Equal(t, 1, h.SubscriberCount())
	require.Equal(t, 1, sub.count(), "registration sends without waiting for a tick")

	msg := decodeFrame(t, sub.last())
	assert.Equal(t, domain.PushMessageUpdate, msg.Type)
	require.Len(t, msg.Torrents, 1)
	assert.Equal(t, "a", msg.Torrents[0].ID)
}

func TestRegisterDropsFailingSubscriber(t *testing.T) {
	h := New(&fakeSource{}, 4, testLogger())

	sub := &fakeSub{fail: true}
	h.Register(sub)

	assert.Equal(t, 0, h.SubscriberCount())
	assert.True(t, sub.isClosed())
}

func TestBroadcastFanOutIsolatesFailures(t *testing.T) {
	h := New(&fakeSource{}, 4, testLogger())

	subs := make([]*fakeSub, 5)
	for i := range subs {
		subs[i] = &fakeSub{}
		h.Register(subs[i])
	}
	subs[1].setFail(true)
	subs[3].setFail(true)

	h.Broadcast([]domain.Job{{ID: "a"}})

	for _, i := range []int{0, 2, 4} {
		assert.Equal(t, 2, subs[i].count(), "healthy subscriber %d gets the frame", i)
	}
	for _, i := range []int{1, 3} {
		assert.Equal(t, 1, subs[i].count(), "failed subscriber %d keeps only the initial frame", i)
		assert.True(t, subs[i].isClosed())
	}
	assert.Equal(t, 3, h.SubscriberCount())

	h.Broadcast([]domain.Job{{ID: "a"}})
	for _, i := range []int{0, 2, 4} {
		assert.Equal(t, 3, subs[i].count())
	}
}

func TestBroadcastEncodesEmptyListNotNull(t *testing.T) {
	h := New(&fakeSource{}, 4, testLogger())
	sub := &fakeSub{}
	h.Register(sub)

	h.Broadcast(nil)

	require.Equal(t, 2, sub.count())
	assert.Contains(t, string(sub.last()), `"torrents":[]`)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	h := New(&fakeSource{}, 4, testLogger())
	sub := &fakeSub{}
	h.Register(sub)

	h.Unregister(sub)
	h.Unregister(sub)
	assert.Equal(t, 0, h.SubscriberCount())

	h.Broadcast([]domain.Job{{ID: "a"}})
	assert.Equal(t, 1, sub.count(), "unregistered subscriber receives nothing")
}

func TestBroadcastNowDeliversAsync(t *testing.T) {
	src := &fakeSource{snap: []domain.Job{{ID: "a"}}}
	h := New(src, 4, testLogger())
	h.Start(context.Background())
	defer h.Close()

	sub := &fakeSub{}
	h.Register(sub)

	h.BroadcastNow()
	require.Eventually(t, func() bool { return sub.count() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestBroadcastNowNeverBlocks(t *testing.T) {
	src := &fakeSource{snap: []domain.Job{{ID: "a"}}}
	h := New(src, 2, testLogger())

	// Worker not started; the queue fills and overflows. Every call must
	// still return.
	for i := 0; i < 50; i++ {
		h.BroadcastNow()
	}

	sub := &fakeSub{}
	h.Register(sub)
	h.Start(context.Background())
	defer h.Close()

	require.Eventually(t, func() bool { return sub.count() >= 2 }, time.Second, 5*time.Millisecond,
		"queued requests drain once the worker starts")
}

func TestCloseClosesSubscribers(t *testing.T) {
	h := New(&fakeSource{}, 4, testLogger())
	h.Start(context.Background())

	a, b := &fakeSub{}, &fakeSub{}
	h.Register(a)
	h.Register(b)

	h.Close()

	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.Equal(t, 0, h.SubscriberCount())
}

func TestConcurrentRegisterAndBroadcast(t *testing.T) {
	src := &fakeSource{snap: []domain.Job{{ID: "a"}}}
	h := New(src, 16, testLogger())

	var wg sync.WaitGroup
	subs := make([]*fakeSub, 10)
	for i := range subs {
		subs[i] = &fakeSub{}
		wg.Add(1)
		go func(s *fakeSub) {
			defer wg.Done()
			h.Register(s)
		}(subs[i])
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Broadcast([]domain.Job{{ID: "b"}})
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, h.SubscriberCount())
	for _, s := range subs {
		assert.GreaterOrEqual(t, s.count(), 1)
	}
}
