//go:build integration

package redisin_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/ratstreams/input/redisin"
	"github.com/c360/ratstreams/output/redisout"
	"github.com/c360/ratstreams/rat"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestIntegration_ListRoundTrip(t *testing.T) {
	addr := startRedis(t)
	owner := &rat.StaticOwner{OwnerName: "redis-it"}

	out := redisout.New(redisout.Config{Addr: addr, Key: "rats"}, nil, nil)
	require.NoError(t, out.SetUp(owner))
	defer out.StopExecution()

	in := redisin.New(redisin.Config{Addr: addr, Key: "rats", Format: "string"}, nil, nil)
	require.NoError(t, in.SetUp(owner))
	defer in.StopExecution()

	for _, v := range []string{"one", "two"} {
		out.Input(v)
		require.NoError(t, out.Transmit(context.Background()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var got []any
	for len(got) < 2 {
		require.NoError(t, in.Receive(ctx))
		for in.HasPendingOutput() {
			got = append(got, in.Output())
		}
	}
	assert.Equal(t, []any{"one", "two"}, got)
}
