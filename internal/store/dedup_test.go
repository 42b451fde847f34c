package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupCache(t *testing.T) {
	t.Run("first sight records, second is a duplicate", func(t *testing.T) {
		d := NewDedupCache(10 * time.Minute)
		assert.False(t, d.Seen("m1"))
		assert.True(t, d.Seen("m1"))
		assert.False(t, d.Seen("m2"))
	})

	t.Run("entries expire after the ttl window", func(t *testing.T) {
		d := NewDedupCache(10 * time.Minute)
		current := time.Unix(1672531200, 0)
		d.now = func() time.Time { return current }

		assert.False(t, d.Seen("m1"))

		current = current.Add(9 * time.Minute)
		assert.True(t, d.Seen("m1"), "inside the window the id is a duplicate")

		current = current.Add(2 * time.Minute)
		assert.False(t, d.Seen("m1"), "expired ids are treated as new")
	})

	t.Run("expired entries are pruned on access", func(t *testing.T) {
		d := NewDedupCache(10 * time.Minute)
		current := time.Unix(1672531200, 0)
		d.now = func() time.Time { return current }

		for _, id := range []string{"m1", "m2", "m3"} {
			d.Seen(id)
		}
		assert.Equal(t, 3, d.Size())

		current = current.Add(11 * time.Minute)
		d.Seen("m4")
		assert.Equal(t, 1, d.Size())
	})

	t.Run("zero ttl falls back to the default", func(t *testing.T) {
		d := NewDedupCache(0)
		assert.False(t, d.Seen("m1"))
		assert.True(t, d.Seen("m1"))
	})
}
