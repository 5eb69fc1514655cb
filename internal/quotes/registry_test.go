package quotes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakySource fails until healed, then serves a fixed price.
type flakySource struct {
	failWith error
	price    float64
}

func (f *flakySource) ID() string     { return "flaky" }
func (f *flakySource) Label() string  { return "Flaky vendor" }
func (f *flakySource) Vendor() string { return "test" }
func (f *flakySource) Close() error   { return nil }

func (f *flakySource) Fetch(ctx context.Context, symbol string) (*Quote, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &Quote{Symbol: symbol, Price: f.price, Timestamp: time.Now().UTC(), Source: f.ID()}, nil
}

func TestRegistryMockActiveByDefault(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	assert.Equal(t, "mock", r.Active().ID)
	assert.True(t, r.Active().Active)

	q, err := r.Fetch(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, "mock", q.Source)
	assert.Greater(t, q.Price, 0.0)
}

func TestRegistrySetActiveUnknown(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	err := r.SetActive("nope")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.ID)

	// the active source is untouched after a failed switch
	assert.Equal(t, "mock", r.Active().ID)
}

func TestRegistryHotSwitch(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	src := &flakySource{price: 42}
	r.Register(src, 0)
	require.NoError(t, r.SetActive("flaky"))
	assert.Equal(t, "flaky", r.Active().ID)

	q, err := r.Fetch(context.Background(), "ZZZ")
	require.NoError(t, err)
	assert.Equal(t, 42.0, q.Price)
	assert.Equal(t, "flaky", q.Source)
}

func TestRegistryFailureMarksUnreadyNoFailover(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	src := &flakySource{failWith: NewNetworkError("flaky", "AAPL", "connection refused", nil)}
	r.Register(src, 0)
	require.NoError(t, r.SetActive("flaky"))

	_, err := r.Fetch(context.Background(), "AAPL")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "network", fe.Kind)

	// health reflects the failure but the registry does not fail over
	d := r.Active()
	assert.Equal(t, "flaky", d.ID)
	assert.False(t, d.Ready)
	assert.Equal(t, 1, d.ConsecutiveErrors)
	assert.Equal(t, int64(1), d.TotalErrors)

	// operator switches to the mock and fetching recovers
	require.NoError(t, r.SetActive("mock"))
	q, err := r.Fetch(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "mock", q.Source)
}

func TestRegistryRecoveryResetsConsecutiveErrors(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	src := &flakySource{failWith: NewProviderError("flaky", "AAPL", "500", nil)}
	r.Register(src, 0)
	require.NoError(t, r.SetActive("flaky"))

	for i := 0; i < 3; i++ {
		_, err := r.Fetch(context.Background(), "AAPL")
		require.Error(t, err)
	}
	assert.Equal(t, 3, r.Active().ConsecutiveErrors)

	src.failWith = nil
	src.price = 99.5
	_, err := r.Fetch(context.Background(), "AAPL")
	require.NoError(t, err)

	d := r.Active()
	assert.True(t, d.Ready)
	assert.Equal(t, 0, d.ConsecutiveErrors)
	assert.Equal(t, int64(3), d.TotalErrors)
	assert.Equal(t, int64(4), d.TotalRequests)
	assert.False(t, d.LastSuccess.IsZero())
}

func TestRegistryRejectsInvalidQuote(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	src := &flakySource{price: -1}
	r.Register(src, 0)
	require.NoError(t, r.SetActive("flaky"))

	_, err := r.Fetch(context.Background(), "AAPL")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "provider_error", fe.Kind)
	assert.False(t, r.Active().Ready)
}

func TestRegistryLatestSurvivesSwitch(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	mock := NewMockSource()
	mock.SetPrice("AAPL", 100)
	r.Register(mock, 0)

	_, err := r.Fetch(context.Background(), "AAPL")
	require.NoError(t, err)

	src := &flakySource{failWith: NewTimeoutError("flaky", "AAPL", context.DeadlineExceeded)}
	r.Register(src, 0)
	require.NoError(t, r.SetActive("flaky"))

	_, err = r.Fetch(context.Background(), "AAPL")
	require.Error(t, err)

	// the last good quote remains available for marking and reports
	q, ok := r.Latest("AAPL")
	require.True(t, ok)
	assert.Equal(t, 100.0, q.Price)

	all := r.LatestAll()
	require.Contains(t, all, "AAPL")
	assert.Equal(t, 100.0, all["AAPL"].Price)
}

func TestRegistryListOrder(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	r.Register(&flakySource{price: 1}, 0)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "mock", list[0].ID)
	assert.True(t, list[0].Active)
	assert.Equal(t, "flaky", list[1].ID)
	assert.False(t, list[1].Active)
}

func TestEWMA(t *testing.T) {
	assert.Equal(t, 100.0, ewma(0, 100))
	assert.InDelta(t, 0.3*200+0.7*100, ewma(100, 200), 1e-9)
}

func TestMockSyntheticPriceStable(t *testing.T) {
	m := NewMockSource()
	q1, err := m.Fetch(context.Background(), "zzzz")
	require.NoError(t, err)
	q2, err := m.Fetch(context.Background(), "ZZZZ")
	require.NoError(t, err)

	assert.Equal(t, "ZZZZ", q1.Symbol)
	assert.Equal(t, q1.Price, q2.Price)
	assert.GreaterOrEqual(t, q1.Price, 10.0)
	assert.Less(t, q1.Price, 510.0)
}
