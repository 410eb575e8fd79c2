package seed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/specialist-booking/internal/store/memory"
)

func TestGenerate(t *testing.T) {
	ds := Generate(Options{Specialists: 4, Patients: 10, Seed: 7})

	require.Len(t, ds.Specialists, 4)
	require.Len(t, ds.Patients, 10)
	require.NotEmpty(t, ds.Templates)

	for _, sp := range ds.Specialists {
		assert.True(t, sp.Active)
		_, err := time.LoadLocation(sp.Timezone)
		assert.NoError(t, err)
	}

	contacts := map[string]bool{}
	for _, p := range ds.Patients {
		assert.False(t, contacts[p.ContactChannel], "duplicate contact %s", p.ContactChannel)
		contacts[p.ContactChannel] = true
		require.NotNil(t, p.Email)
	}

	for _, tpl := range ds.Templates {
		require.NoError(t, tpl.Validate())
		assert.NotEqual(t, time.Saturday, tpl.Weekday)
		assert.NotEqual(t, time.Sunday, tpl.Weekday)
	}
}

func TestGenerate_SeedIsReproducible(t *testing.T) {
	a := Generate(Options{Specialists: 2, Patients: 3, Seed: 99})
	b := Generate(Options{Specialists: 2, Patients: 3, Seed: 99})

	for i := range a.Specialists {
		assert.Equal(t, a.Specialists[i].Name, b.Specialists[i].Name)
		assert.Equal(t, a.Specialists[i].Timezone, b.Specialists[i].Timezone)
	}
	for i := range a.Patients {
		assert.Equal(t, a.Patients[i].ContactChannel, b.Patients[i].ContactChannel)
	}
}

func TestLoadMemory(t *testing.T) {
	ds := Generate(Options{Specialists: 2, Patients: 3, Seed: 1})
	store := memory.New()
	require.NoError(t, LoadMemory(store, ds))

	ctx := context.Background()
	for _, sp := range ds.Specialists {
		got, err := store.GetSpecialist(ctx, sp.ID)
		require.NoError(t, err)
		assert.Equal(t, sp.Name, got.Name)

		var weekly int
		for wd := time.Monday; wd <= time.Friday; wd++ {
			tpls, err := store.ListTemplates(ctx, sp.ID, wd)
			require.NoError(t, err)
			weekly += len(tpls)
		}
		assert.Positive(t, weekly)
	}

	for _, p := range ds.Patients {
		_, err := store.GetPatient(ctx, p.ID)
		require.NoError(t, err)
	}
}
