package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/brightlane/auctionhouse/internal/infrastructure/config"
)

func TestTopic(t *testing.T) {
	a := &Adapter{cfg: config.QueueConfig{TopicPrefix: "ah"}}
	assert.Equal(t, "ah.auction-events", a.Topic(TopicAuctionEvents))

	noPrefix := &Adapter{cfg: config.QueueConfig{}}
	assert.Equal(t, TopicNotifications, noPrefix.Topic(TopicNotifications))
}

func TestDeadLetterTopic(t *testing.T) {
	assert.Equal(t, "ah.auction-events.dlq", deadLetterTopic("ah.auction-events"))
}

func TestPublishedAtFromHeaders(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	headers := []kgo.RecordHeader{
		{Key: "other", Value: []byte("ignored")},
		{Key: publishedAtHeader, Value: []byte(now.Format(time.RFC3339Nano))},
	}
	assert.True(t, now.Equal(publishedAtFromHeaders(headers)))

	assert.True(t, publishedAtFromHeaders(nil).IsZero())
	assert.True(t, publishedAtFromHeaders([]kgo.RecordHeader{{Key: publishedAtHeader, Value: []byte("not-a-time")}}).IsZero())
}

func TestNew_Disabled(t *testing.T) {
	a, err := New(config.QueueConfig{Enabled: false}, nil)
	assert.NoError(t, err)
	assert.Nil(t, a)
}

func TestNew_NoBrokers(t *testing.T) {
	_, err := New(config.QueueConfig{Enabled: true}, nil)
	assert.Error(t, err)
}
