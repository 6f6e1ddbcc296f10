package workbase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePoolDiff(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0.05, 0.05},
		{0.999, 0.999},
		{1.0, 1.0},
		{1.4, 1.0},
		{1.6, 2.0},
		{100.5, 101.0},
	}
	for _, c := range cases {
		got := NormalizePoolDiff(c.in)
		assert.InDelta(t, c.want, got, 1e-9, "NormalizePoolDiff(%v)", c.in)
	}
}

func TestNormalizePoolDiffIdempotent(t *testing.T) {
	// NormalizePoolDiff is idempotent.
	for _, x := range []float64{0, 0.01, 0.999999, 1.0, 1.5, 2.5, 9999.9} {
		once := NormalizePoolDiff(x)
		twice := NormalizePoolDiff(once)
		assert.InDelta(t, once, twice, 1e-9, "not idempotent for %v", x)
	}
}

func TestNormalizeNetworkDiff(t *testing.T) {
	m := NewManager(PayoutOutput{}, DonationConfig{}, false)
	assert.Equal(t, 1.0, m.NormalizeNetworkDiff(0.3))
	assert.Equal(t, 1.0, m.NormalizeNetworkDiff(1.0))
	assert.Equal(t, 5.0, m.NormalizeNetworkDiff(5.0))

	low := NewManager(PayoutOutput{}, DonationConfig{}, true)
	assert.Equal(t, 0.3, low.NormalizeNetworkDiff(0.3))
}

func TestNormalizeDonationPercent(t *testing.T) {
	assert.Equal(t, 0.1, NormalizeDonationPercent(-5))
	assert.Equal(t, 0.1, NormalizeDonationPercent(0))
	assert.Equal(t, 99.9, NormalizeDonationPercent(100))
	assert.Equal(t, 2.5, NormalizeDonationPercent(2.5))
}

func TestPublishAssignsMonotoneIDs(t *testing.T) {
	m := NewManager(PayoutOutput{Script: []byte{0x76, 0xa9}, Value: 0}, DonationConfig{Percent: 1}, false)

	wb1, err := m.Ingest(Template{Height: 100, CoinbaseValue: 5000000000}, 0, 8, 2.0)
	require.NoError(t, err)
	id1 := m.Publish(wb1)

	wb2, err := m.Ingest(Template{Height: 101, CoinbaseValue: 5000000000}, 0, 8, 2.0)
	require.NoError(t, err)
	id2 := m.Publish(wb2)

	assert.Greater(t, id2, id1)
	assert.Equal(t, id2, m.CurrentID())
}

func TestLookupPinsAndRetireRespectsReaders(t *testing.T) {
	m := NewManager(PayoutOutput{Script: []byte{0x76, 0xa9}}, DonationConfig{Percent: 1}, false)
	wb, _ := m.Ingest(Template{Height: 1, CoinbaseValue: 100}, 0, 8, 2.0)
	id := m.Publish(wb)

	// Supersede it so it's no longer current.
	wb2, _ := m.Ingest(Template{Height: 2, CoinbaseValue: 100}, 0, 8, 2.0)
	m.Publish(wb2)

	found, err := m.Lookup(id)
	require.NoError(t, err)
	require.NotNil(t, found)

	// Pinned: retire should not drop it even past retention (simulated by
	// directly checking readerCount semantics rather than sleeping).
	assert.Equal(t, int32(1), found.readerCount())
	found.Unpin()
	assert.Equal(t, int32(0), found.readerCount())
}

func TestLookupUnknownID(t *testing.T) {
	m := NewManager(PayoutOutput{}, DonationConfig{}, false)
	_, err := m.Lookup(999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestComputeHeaderHashDeterministic(t *testing.T) {
	m := NewManager(PayoutOutput{Script: []byte{0x76, 0xa9, 0x14}}, DonationConfig{Percent: 1}, false)
	wb, err := m.Ingest(Template{
		Height:        700000,
		CoinbaseValue: 625000000,
		TxHashes:      [][]byte{make([]byte, 32)},
	}, 0, 8, 5.0)
	require.NoError(t, err)
	m.Publish(wb)

	enonce1 := make([]byte, 4)
	enonce2 := make([]byte, 8)

	h1, root1 := wb.ComputeHeaderHash(enonce1, enonce2, 123456, 0)
	h2, root2 := wb.ComputeHeaderHash(enonce1, enonce2, 123456, 0)
	assert.Equal(t, h1, h2)
	assert.Equal(t, root1, root2)

	h3, _ := wb.ComputeHeaderHash(enonce1, enonce2, 123456, 1)
	assert.NotEqual(t, h1, h3)
}
