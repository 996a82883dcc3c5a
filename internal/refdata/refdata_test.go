package refdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticLookupAsOf(t *testing.T) {
	ctx := context.Background()
	p := NewStatic()

	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	jun := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	p.Put(AdjustmentFactor, "600000", Value{Number: 1.0, EffectiveAt: jan})
	p.Put(AdjustmentFactor, "600000", Value{Number: 1.25, EffectiveAt: jun})

	v, err := p.Lookup(ctx, AdjustmentFactor, "600000", jan.AddDate(0, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, 1.0, v.Number)

	v, err = p.Lookup(ctx, AdjustmentFactor, "600000", jun)
	require.NoError(t, err)
	assert.Equal(t, 1.25, v.Number)

	v, err = p.Lookup(ctx, AdjustmentFactor, "600000", jun.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1.25, v.Number)
}

func TestStaticLookupMisses(t *testing.T) {
	ctx := context.Background()
	p := NewStatic()
	jun := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	p.Put(AdjustmentFactor, "600000", Value{Number: 1.25, EffectiveAt: jun})

	_, err := p.Lookup(ctx, AdjustmentFactor, "999999", jun)
	assert.ErrorIs(t, err, ErrNotFound)

	// Value exists but only after asOf.
	_, err = p.Lookup(ctx, AdjustmentFactor, "600000", jun.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = p.Lookup(ctx, IndustryClass, "600000", jun)
	assert.ErrorIs(t, err, ErrNotFound)
}
