package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ServiceBoard/internal/pkg/cache/cachetest"
)

type payload struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

func TestJSONRoundTrip(t *testing.T) {
	prev := client
	SetClient(cachetest.NewIsolatedClient(t, 10))
	t.Cleanup(func() { client = prev })
	ctx := context.Background()

	var got payload
	assert.ErrorIs(t, GetJSON(ctx, "plans", &got), ErrMiss)

	require.NoError(t, SetJSON(ctx, "plans", payload{Name: "Gold", Price: 3000}, time.Minute))
	require.NoError(t, GetJSON(ctx, "plans", &got))
	assert.Equal(t, payload{Name: "Gold", Price: 3000}, got)

	require.NoError(t, Delete("plans"))
	assert.ErrorIs(t, GetJSON(ctx, "plans", &got), ErrMiss)
}

func TestSetAndGetInt(t *testing.T) {
	prev := client
	SetClient(cachetest.NewIsolatedClient(t, 10))
	t.Cleanup(func() { client = prev })

	require.NoError(t, Set("counter", 42, time.Minute))
	n, err := GetInt("counter")
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}
