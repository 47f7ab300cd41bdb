package notify

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/care/sentry/internal/event"
	"github.com/care/sentry/internal/types"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	msgs         []published
	err          error
	block        chan struct{}
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newToken(c.err)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) messages() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.msgs...)
}

func TestPublishJSON(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, Options{InstanceID: "porch", TopicPrefix: "sentry/porch", QoS: 1})

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p.EventStarted(event.Event{ID: "ev-1", StartedAt: started, ArtifactPath: "recordings/motion_x.mp4"})
	p.Close()

	msgs := client.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "sentry/porch/event/started", msgs[0].topic)
	assert.Equal(t, byte(1), msgs[0].qos)

	var n Notice
	require.NoError(t, json.Unmarshal(msgs[0].payload, &n))
	assert.Equal(t, TypeEventStarted, n.Type)
	assert.Equal(t, "porch", n.InstanceID)
	assert.Equal(t, "ev-1", n.EventID)
	assert.True(t, started.Equal(n.At))
	assert.True(t, client.disconnected)
	assert.Equal(t, uint64(1), p.Stats().Published["sentry/porch/event/started"])
}

func TestPublishMsgpack(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, Options{InstanceID: "porch", TopicPrefix: "p", Encoding: "msgpack"})
	p.Publish(Notice{Type: TypeEventEnded, EventID: "ev-2"})
	p.Close()

	msgs := client.messages()
	require.Len(t, msgs, 1)
	var n Notice
	require.NoError(t, msgpack.Unmarshal(msgs[0].payload, &n))
	assert.Equal(t, "ev-2", n.EventID)
	assert.Equal(t, TypeEventEnded, n.Type)
}

func TestDeliveryNotices(t *testing.T) {
	video := types.Artifact{Path: "recordings/motion_a.mp4", Kind: types.ArtifactVideo, EventID: "ev-9"}
	snap := types.Artifact{Path: "snapshot_a.jpg", Kind: types.ArtifactSnapshot, EventID: "ev-9"}

	tests := []struct {
		name      string
		artifact  types.Artifact
		delivered bool
		topic     string
	}{
		{"video delivered", video, true, "s/delivery/succeeded"},
		{"video undelivered", video, false, "s/delivery/failed"},
		{"snapshot sent", snap, true, "s/snapshot/sent"},
		{"snapshot failed", snap, false, "s/snapshot/failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{}
			p := NewPublisher(client, Options{TopicPrefix: "s"})
			p.DeliveryAttempted(types.DeliveryAttempt{Artifact: tt.artifact, AttemptNumber: 3})
			p.DeliveryFinished(types.Delivery{Artifact: tt.artifact, Delivered: tt.delivered, Attempts: 3})
			p.Close()

			msgs := client.messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.topic, msgs[0].topic)

			var n Notice
			require.NoError(t, json.Unmarshal(msgs[0].payload, &n))
			assert.Equal(t, 3, n.Attempts)
			assert.Equal(t, "ev-9", n.EventID)
			assert.Equal(t, tt.artifact.Name(), n.Artifact)
		})
	}
}

func TestBundledAudioNoticeCarriesAttempts(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, Options{TopicPrefix: "s"})
	video := types.Artifact{Path: "r/motion_a.mp4", Kind: types.ArtifactVideo, EventID: "ev-4"}
	audio := types.Artifact{Path: "r/motion_a.wav", Kind: types.ArtifactAudio, EventID: "ev-4"}

	p.DeliveryAttempted(types.DeliveryAttempt{Artifact: video, AttemptNumber: 1})
	p.DeliveryAttempted(types.DeliveryAttempt{Artifact: video, AttemptNumber: 2})
	p.DeliveryFinished(types.Delivery{Artifact: video, Delivered: false, Attempts: 2})
	p.DeliveryFinished(types.Delivery{Artifact: audio, Delivered: false, Attempts: 2})
	p.Close()

	msgs := client.messages()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, "s/delivery/failed", m.topic)
		var n Notice
		require.NoError(t, json.Unmarshal(m.payload, &n))
		assert.Equal(t, 2, n.Attempts, n.Artifact)
		assert.Equal(t, "ev-4", n.EventID, n.Artifact)
	}
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	client := &fakeClient{block: make(chan struct{})}
	p := NewPublisher(client, Options{TopicPrefix: "s", QueueSize: 1})

	// The worker takes the first notice and blocks in Publish; one more
	// fills the queue and the rest are dropped.
	p.Publish(Notice{Type: TypeEventStarted})
	require.Eventually(t, func() bool { return len(p.queue) == 0 }, time.Second, time.Millisecond)
	for i := 0; i < 4; i++ {
		p.Publish(Notice{Type: TypeEventEnded})
	}
	assert.Equal(t, uint64(3), p.Stats().Dropped)

	close(client.block)
	p.Close()
	assert.Len(t, client.messages(), 2)
}

func TestPublishErrorsCounted(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	p := NewPublisher(client, Options{TopicPrefix: "s"})
	p.Publish(Notice{Type: TypeEventStarted})
	p.Close()

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Errors)
	assert.Empty(t, stats.Published)
}

func TestPublishRacingCloseIsAccounted(t *testing.T) {
	for round := 0; round < 20; round++ {
		client := &fakeClient{}
		p := NewPublisher(client, Options{TopicPrefix: "s", QueueSize: 4})

		const publishers, each = 4, 25
		var wg sync.WaitGroup
		for i := 0; i < publishers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < each; j++ {
					p.Publish(Notice{Type: TypeEventStarted})
				}
			}()
		}
		p.Close()
		wg.Wait()

		stats := p.Stats()
		sent := uint64(len(client.messages()))
		require.Equal(t, uint64(publishers*each), sent+stats.Dropped,
			"every notice is either published or counted as dropped")
		assert.Empty(t, p.queue)
	}
}

func TestPublishAfterClose(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, Options{TopicPrefix: "s"})
	p.Close()
	p.Close()

	p.Publish(Notice{Type: TypeEventStarted})
	assert.Equal(t, uint64(1), p.Stats().Dropped)
	assert.Empty(t, client.messages())
}
