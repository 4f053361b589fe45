package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	return client, srv
}

func TestPublishSendsJSON(t *testing.T) {
	ctx := context.Background()
	client, srv := newTestClient(t)
	_, err := client.CreateTopic(ctx, "records")
	require.NoError(t, err)

	pub := New(client)
	t.Cleanup(func() { _ = pub.Close() })

	id, err := pub.Publish(ctx, "records", map[string]string{"provider_id": "12345"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "12345", got["provider_id"])
	assert.Equal(t, "application/json", msgs[0].Attributes["content_type"])
}

func TestPublishMissingTopicFails(t *testing.T) {
	client, _ := newTestClient(t)
	pub := New(client)
	t.Cleanup(func() { _ = pub.Close() })

	_, err := pub.Publish(context.Background(), "absent", map[string]int{"a": 1})
	require.Error(t, err)
}

func TestPublishValidatesInput(t *testing.T) {
	_, err := New(nil).Publish(context.Background(), "t", 1)
	require.Error(t, err)

	client, _ := newTestClient(t)
	pub := New(client)
	t.Cleanup(func() { _ = pub.Close() })
	_, err = pub.Publish(context.Background(), "", 1)
	require.Error(t, err)
	_, err = pub.Publish(context.Background(), "t", func() {})
	require.Error(t, err)
}
