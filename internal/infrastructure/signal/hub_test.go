package signal

import (
	"context"
	"sync"
	"testing"
	"time"

	"audiod/internal/core/domain"
	"audiod/internal/handlers/luna"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capture struct {
	mu      sync.Mutex
	replies []luna.Reply
	tokens  []int64
	refuse  bool
}

func (c *capture) push(token int64, reply luna.Reply) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refuse {
		return false
	}
	c.tokens = append(c.tokens, token)
	c.replies = append(c.replies, reply)
	return true
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.replies)
}

// watcherFor obtains a real watcher from the dispatcher for getInputVolume.
func watcherFor(t *testing.T, stream string) *luna.Watcher {
	t.Helper()
	svc := &stubService{}
	d := luna.NewDispatcher(svc, zap.NewNop().Sugar())
	_, w, appErr := d.Invoke(context.Background(), luna.Call{
		Method:       "getInputVolume",
		Params:       []byte(`{"streamType":"` + stream + `","subscribe":true}`),
		CanSubscribe: true,
	})
	require.Nil(t, appErr)
	require.NotNil(t, w)
	return w
}

func volumeNotification(stream string, volume int) domain.StatusNotification {
	return domain.StatusNotification{
		Kind:   domain.KindSink,
		Reason: domain.ReasonVolume,
		Stream: domain.StreamStatus{Stream: domain.StreamID(stream), Kind: domain.KindSink, Volume: volume},
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHub_DeliversMatchingNotifications(t *testing.T) {
	hub := startHub(t)
	media := &capture{}
	alert := &capture{}

	hub.Subscribe("conn-1", 7, watcherFor(t, "pmedia"), media.push)
	hub.Subscribe("conn-2", 3, watcherFor(t, "palert"), alert.push)
	assert.Equal(t, 2, hub.Count())

	hub.Notify(context.Background(), volumeNotification("pmedia", 30))
	hub.Notify(context.Background(), volumeNotification("pmedia", 80))

	require.Eventually(t, func() bool { return media.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{7, 7}, media.tokens)
	assert.Equal(t, 30, media.replies[0]["volume"])
	assert.Equal(t, 80, media.replies[1]["volume"])
	assert.Zero(t, alert.count())
}

func TestHub_CancelAndDrop(t *testing.T) {
	hub := startHub(t)
	c := &capture{}

	hub.Subscribe("conn-1", 1, watcherFor(t, "pmedia"), c.push)
	hub.Subscribe("conn-1", 2, watcherFor(t, "pmedia"), c.push)
	hub.Subscribe("conn-2", 1, watcherFor(t, "pmedia"), c.push)

	assert.True(t, hub.Cancel("conn-1", 1))
	assert.False(t, hub.Cancel("conn-1", 1))
	assert.Equal(t, 1, hub.Drop("conn-1"))
	assert.Equal(t, 1, hub.Count())
}

func TestHub_RefusedPushDropsConnection(t *testing.T) {
	hub := startHub(t)
	slow := &capture{refuse: true}

	hub.Subscribe("slow", 1, watcherFor(t, "pmedia"), slow.push)
	hub.Notify(context.Background(), volumeNotification("pmedia", 10))

	require.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func (h *Hub) backlogOf(id string) int {
	h.mu.Lock()
	sub := h.subs[id]
	h.mu.Unlock()
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return len(sub.backlog)
}

func TestHub_ReservedSlot(t *testing.T) {
	t.Run("notifications raised before activation are replayed in order", func(t *testing.T) {
		hub := startHub(t)
		c := &capture{}

		id := hub.Reserve("conn-1", 9)
		assert.Zero(t, hub.Count())

		hub.Notify(context.Background(), volumeNotification("pmedia", 30))
		hub.Notify(context.Background(), volumeNotification("palert", 20))
		hub.Notify(context.Background(), volumeNotification("pmedia", 45))
		require.Eventually(t, func() bool { return hub.backlogOf(id) == 3 }, time.Second, 5*time.Millisecond)
		assert.Zero(t, c.count())

		require.True(t, hub.Activate(id, watcherFor(t, "pmedia"), c.push))
		assert.Equal(t, 1, hub.Count())
		require.Equal(t, 2, c.count())
		assert.Equal(t, []int64{9, 9}, c.tokens)
		assert.Equal(t, 30, c.replies[0]["volume"])
		assert.Equal(t, 45, c.replies[1]["volume"])

		hub.Notify(context.Background(), volumeNotification("pmedia", 50))
		require.Eventually(t, func() bool { return c.count() == 3 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, 50, c.replies[2]["volume"])
	})

	t.Run("released slot delivers nothing", func(t *testing.T) {
		hub := startHub(t)
		c := &capture{}

		id := hub.Reserve("conn-1", 1)
		hub.Notify(context.Background(), volumeNotification("pmedia", 30))
		require.Eventually(t, func() bool { return hub.backlogOf(id) == 1 }, time.Second, 5*time.Millisecond)

		hub.Release(id)
		assert.False(t, hub.Activate(id, watcherFor(t, "pmedia"), c.push))
		assert.Zero(t, hub.Count())
		assert.Zero(t, c.count())
	})

	t.Run("reserved slot cannot be cancelled but is dropped with its connection", func(t *testing.T) {
		hub := startHub(t)

		hub.Reserve("conn-1", 2)
		assert.False(t, hub.Cancel("conn-1", 2))
		assert.Equal(t, 1, hub.Drop("conn-1"))
	})

	t.Run("refused replay drops the connection", func(t *testing.T) {
		hub := startHub(t)
		slow := &capture{refuse: true}

		id := hub.Reserve("slow", 1)
		hub.Subscribe("slow", 2, watcherFor(t, "palert"), (&capture{}).push)
		hub.Notify(context.Background(), volumeNotification("pmedia", 30))
		require.Eventually(t, func() bool { return hub.backlogOf(id) == 1 }, time.Second, 5*time.Millisecond)

		assert.False(t, hub.Activate(id, watcherFor(t, "pmedia"), slow.push))
		assert.Zero(t, hub.Count())
	})
}

type stubService struct{}

func (stubService) SetVolume(context.Context, domain.StreamKind, domain.StreamID, int, bool) (domain.StreamStatus, error) {
	return domain.StreamStatus{}, nil
}

func (stubService) SetMute(context.Context, domain.StreamKind, domain.StreamID, bool) (domain.StreamStatus, error) {
	return domain.StreamStatus{}, nil
}

func (stubService) SetAppVolume(context.Context, domain.StreamID, string, int) error { return nil }

func (stubService) Status(_ context.Context, kind domain.StreamKind, stream domain.StreamID) (domain.StreamStatus, error) {
	return domain.StreamStatus{Stream: stream, Kind: kind}, nil
}

func (stubService) ActiveStatuses(context.Context, domain.StreamKind) ([]domain.StreamStatus, error) {
	return nil, nil
}

func (stubService) BackendReady(context.Context, domain.MixerBackend) (bool, error) { return true, nil }
