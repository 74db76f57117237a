package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

func TestPublish_RequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "jobs", map[string]string{"a": "b"})
	require.EqualError(t, err, "pubsub publisher is not configured")
	require.NoError(t, New(nil).Close())
}

func TestAttributes(t *testing.T) {
	t.Parallel()

	attrs := attributes(scrape.JobEvent{Status: scrape.JobStatusFailed})
	require.Equal(t, map[string]string{EventTypeAttribute: "job.failed"}, attrs)
	require.Nil(t, attributes("plain"))
}
