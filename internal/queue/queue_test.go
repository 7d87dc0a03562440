package queue

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopK(t *testing.T) {
	t.Run("RetainsBest", func(t *testing.T) {
		q := NewTopK(2)
		q.Offer(Item{Row: 0, Score: 0.1})
		q.Offer(Item{Row: 1, Score: 0.9})
		q.Offer(Item{Row: 2, Score: 0.5})

		got := q.Drain()
		require.Len(t, got, 2)
		assert.Equal(t, int64(1), got[0].Row)
		assert.Equal(t, int64(2), got[1].Row)
	})

	t.Run("FewerThanK", func(t *testing.T) {
		q := NewTopK(10)
		q.Offer(Item{Row: 0, Score: 0.3})

		got := q.Drain()
		require.Len(t, got, 1)
		assert.Equal(t, int64(0), got[0].Row)
	})

	t.Run("ZeroK", func(t *testing.T) {
		q := NewTopK(0)
		assert.False(t, q.Offer(Item{Row: 0, Score: 1}))
		assert.Empty(t, q.Drain())
	})

	t.Run("TiesKeepLowestRows", func(t *testing.T) {
		q := NewTopK(2)
		q.Offer(Item{Row: 0, Score: 0.5})
		q.Offer(Item{Row: 1, Score: 0.5})
		q.Offer(Item{Row: 2, Score: 0.5})

		got := q.Drain()
		require.Len(t, got, 2)
		assert.Equal(t, int64(0), got[0].Row)
		assert.Equal(t, int64(1), got[1].Row)
	})

	t.Run("MatchesSort", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))

		items := make([]Item, 500)
		for i := range items {
			items[i] = Item{Row: int64(i), Score: rng.Float32()}
		}

		const k = 25
		q := NewTopK(k)
		for _, it := range items {
			q.Offer(it)
		}

		want := append([]Item(nil), items...)
		sort.Slice(want, func(i, j int) bool {
			if want[i].Score != want[j].Score {
				return want[i].Score > want[j].Score
			}
			return want[i].Row < want[j].Row
		})

		assert.Equal(t, want[:k], q.Drain())
	})

	t.Run("Reset", func(t *testing.T) {
		q := NewTopK(3)
		q.Offer(Item{Row: 0, Score: 1})
		q.Reset()
		assert.Zero(t, q.Len())
	})
}
