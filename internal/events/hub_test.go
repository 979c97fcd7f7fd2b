package events

import (
	"testing"

	"omniavatar/server/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversToJobSubscribers(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe("j1", 4)
	other, unsubscribeOther := h.Subscribe("j2", 4)
	defer unsubscribeOther()

	h.Publish(model.JobEvent{JobID: "j1", Seq: 1, Type: model.EventJobCreated})

	evt := <-ch
	assert.Equal(t, int64(1), evt.Seq)
	assert.Empty(t, other)

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, h.Subscribers("j1"))
	assert.Equal(t, 1, h.Subscribers("j2"))
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	h := NewHub()
	ch, unsubscribe := h.Subscribe("j1", 1)
	defer unsubscribe()

	h.Publish(model.JobEvent{JobID: "j1", Seq: 1})
	h.Publish(model.JobEvent{JobID: "j1", Seq: 2})

	require.Len(t, ch, 1)
	assert.Equal(t, int64(1), (<-ch).Seq)
}
