package device

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

func TestDefaultCatalog(t *testing.T) {
	require.Len(t, DefaultProfiles, 3)
	for _, p := range DefaultProfiles {
		assert.True(t, p.Valid(), p.ID)
		assert.Equal(t, "Europe/Berlin", p.Timezone)
		assert.Equal(t, "de-DE", p.Locale)
		require.NotNil(t, p.Geolocation)
		assert.InDelta(t, 52.52, p.Geolocation.Latitude, 0.01)
	}
}

func TestPick(t *testing.T) {
	pool := NewPool(nil, rand.New(rand.NewSource(7)))
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[pool.Pick().ID] = true
	}
	assert.Len(t, seen, 3, "every profile should eventually be drawn")
}

func TestResolve(t *testing.T) {
	pool := NewPool(nil, rand.New(rand.NewSource(1)))

	t.Run("keeps a valid assignment", func(t *testing.T) {
		custom := schemas.DeviceProfile{ID: "custom", UserAgent: "UA", Viewport: schemas.Viewport{Width: 800, Height: 600}}
		assert.Equal(t, custom, pool.Resolve(&custom))
	})

	t.Run("replaces an invalid assignment", func(t *testing.T) {
		got := pool.Resolve(&schemas.DeviceProfile{ID: "broken"})
		_, known := pool.ByID(got.ID)
		assert.True(t, known)
	})

	t.Run("JSON round trip", func(t *testing.T) {
		raw, err := json.Marshal(DefaultProfiles[1])
		require.NoError(t, err)
		assert.Equal(t, DefaultProfiles[1], pool.ResolveJSON(raw))
	})

	t.Run("unparsable JSON picks a random profile", func(t *testing.T) {
		got := pool.ResolveJSON([]byte("{not json"))
		_, known := pool.ByID(got.ID)
		assert.True(t, known)
	})
}

func TestAllIsACopy(t *testing.T) {
	pool := NewPool(nil, nil)
	all := pool.All()
	all[0].ID = "mutated"
	_, ok := pool.ByID("mutated")
	assert.False(t, ok)
}
