package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "suppliers", map[string]string{"domain": "a.ru"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "moderation", "b.ru")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "suppliers", msgs[0].Topic)
	require.JSONEq(t, `{"domain":"a.ru"}`, string(msgs[0].Data))

	var domain string
	require.NoError(t, msgs[1].Decode(&domain))
	require.Equal(t, "b.ru", domain)

	msgs[0].Topic = "modified"
	require.Equal(t, "suppliers", pub.Messages()[0].Topic)

	_, err = pub.Publish(context.Background(), "x", func() {})
	require.Error(t, err)
}
