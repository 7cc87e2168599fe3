package cache

import (
	"testing"
	"time"

	"ChatCore/internal/backend"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(text string) backend.ChatRequestBody {
	return backend.ChatRequestBody{
		Model:    "m",
		Messages: []backend.ChatMessage{backend.NewUserMessage(text)},
	}
}

func TestGenerateCacheKey(t *testing.T) {
	a := GenerateCacheKey(request("What is the capital of France?"))
	b := GenerateCacheKey(request("What is the capital of France?"))
	c := GenerateCacheKey(request("What is the capital of Spain?"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)

	temp := 0.5
	withTemp := request("What is the capital of France?")
	withTemp.Temperature = &temp
	assert.NotEqual(t, a, GenerateCacheKey(withTemp))
}

func TestCacheBodyIsolated(t *testing.T) {
	c := New(0)
	in := []byte("Paris")
	c.Put("k", 200, in)
	in[0] = 'X'

	got, ok := c.Get("k")
	require.True(t, ok)
	got.Body[0] = 'Y'

	again, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("Paris"), again.Body)
}

func TestCacheExpiry(t *testing.T) {
	now := time.Now()
	c := New(5 * time.Minute)
	c.now = func() time.Time { return now }

	c.Put("k", 200, []byte("Paris"))
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("Paris"), got.Body)
	assert.Equal(t, 200, got.StatusCode)

	now = now.Add(6 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCacheCopiesBody(t *testing.T) {
	c := New(0)
	body := []byte("abc")
	c.Put("k", 200, body)
	body[0] = 'z'

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "abc", string(got.Body))
}

func TestCachePurge(t *testing.T) {
	c := New(0)
	c.Put("a", 200, nil)
	c.Put("b", 200, nil)
	assert.Equal(t, 2, c.Len())
	c.Purge()
	assert.Equal(t, 0, c.Len())
}
