package scanner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/momentumscanner/internal/alertstate"
	"github.com/rewired-gh/momentumscanner/internal/models"
	"github.com/rewired-gh/momentumscanner/internal/signal"
)

var wib = time.FixedZone("WIB", 7*60*60)

// mockNotifier records outbound messages.
type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Send(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

type fakeFetcher struct {
	closes map[string][]float64
	errs   map[string]error
	calls  []string
}

func (f *fakeFetcher) FetchCloses(ctx context.Context, symbol string) ([]float64, error) {
	f.calls = append(f.calls, symbol)
	if err, ok := f.errs[symbol]; ok {
		return nil, err
	}
	if c, ok := f.closes[symbol]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", models.ErrDataUnavailable, symbol)
}

type fakeMarket struct {
	snapshots []models.TickerSnapshot
	err       error
	calls     int
}

func (f *fakeMarket) Tickers(ctx context.Context) ([]models.TickerSnapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshots, nil
}

func snapshot(pair string, last, volume int64) models.TickerSnapshot {
	return models.TickerSnapshot{
		Pair:        pair,
		Symbol:      models.BaseSymbol(pair),
		LastPrice:   decimal.NewFromInt(last),
		VolumeQuote: decimal.NewFromInt(volume),
	}
}

// uptrendCloses is 25 flat closes followed by a five-candle upward run.
func uptrendCloses(base float64) []float64 {
	out := make([]float64, 0, 30)
	for i := 0; i < 25; i++ {
		out = append(out, base)
	}
	for i := 1; i <= 5; i++ {
		out = append(out, base*(1+0.003*float64(i)))
	}
	return out
}

func downtrendCloses(base float64) []float64 {
	out := make([]float64, 30)
	for i := range out {
		out[i] = base * (1 - 0.002*float64(i))
	}
	return out
}

type fixture struct {
	store    *alertstate.Store
	fetcher  *fakeFetcher
	sleeper  *recordingSleeper
	notifier *mockNotifier
	scanner  *Scanner
}

func newFixture(t *testing.T, minVolume int64) *fixture {
	t.Helper()
	cfg := alertstate.DefaultConfig()
	cfg.Cooldown = 30 * time.Minute
	cfg.Location = wib

	f := &fixture{
		store:    alertstate.New(cfg),
		fetcher:  &fakeFetcher{closes: map[string][]float64{}, errs: map[string]error{}},
		sleeper:  &recordingSleeper{},
		notifier: &mockNotifier{},
	}
	strategy := signal.DefaultStrategy()
	strategy.MinVolume = decimal.NewFromInt(minVolume)

	f.scanner = New(nil, f.fetcher, f.store, strategy, DefaultConfig(),
		WithNotifier(f.notifier, nil),
		WithSleeper(f.sleeper),
	)
	return f
}

func TestRunCycle_EmitsOneAlertForQualifyingPair(t *testing.T) {
	f := newFixture(t, 1e9)
	f.fetcher.closes["BTC"] = uptrendCloses(490000000)
	f.notifier.On("Send", mock.Anything, mock.AnythingOfType("string")).Return(nil).Once()

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, wib)
	alerts := f.scanner.RunCycle(context.Background(),
		[]models.TickerSnapshot{snapshot("btc_idr", 500000000, 2e9)}, f.fetcher, now)

	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, "BTC", a.Symbol)
	assert.Equal(t, 1, a.Sequence)
	assert.Greater(t, a.RSI, 50.0)
	assert.Less(t, a.SMA25, 500000000.0)
	assert.Greater(t, a.DeviationPct, 0.0)
	assert.True(t, a.Notified)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, string(alertstate.ReasonFirstAlert), a.Reason)

	state, ok := f.store.Get("BTC")
	require.True(t, ok)
	assert.Equal(t, 1, state.AlertCount)
	f.notifier.AssertExpectations(t)
}

func TestRunCycle_VolumePrefilterSkipsFetch(t *testing.T) {
	f := newFixture(t, 1e9)
	f.fetcher.closes["BTC"] = uptrendCloses(490000000)
	f.fetcher.closes["DOGE"] = uptrendCloses(2000)
	f.notifier.On("Send", mock.Anything, mock.Anything).Return(nil)

	alerts := f.scanner.RunCycle(context.Background(), []models.TickerSnapshot{
		snapshot("doge_idr", 2100, 1e9), // equal to the floor
		snapshot("btc_idr", 500000000, 2e9),
	}, f.fetcher, time.Now())

	assert.Equal(t, []string{"BTC"}, f.fetcher.calls)
	assert.Len(t, alerts, 1)
	assert.Empty(t, f.sleeper.delays, "no pacing before the first fetch")
}

func TestRunCycle_PacesSuccessiveFetches(t *testing.T) {
	f := newFixture(t, 1e9)
	f.notifier.On("Send", mock.Anything, mock.Anything).Return(nil)
	for _, sym := range []string{"AAA", "BBB", "CCC"} {
		f.fetcher.closes[sym] = downtrendCloses(1000)
	}

	f.scanner.RunCycle(context.Background(), []models.TickerSnapshot{
		snapshot("aaa_idr", 900, 2e9),
		snapshot("low_idr", 900, 10),
		snapshot("bbb_idr", 900, 2e9),
		snapshot("ccc_idr", 900, 2e9),
	}, f.fetcher, time.Now())

	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, f.fetcher.calls, "listing order is preserved")
	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 1500 * time.Millisecond}, f.sleeper.delays)
	f.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestRunCycle_PairFailuresDoNotAbortCycle(t *testing.T) {
	f := newFixture(t, 1e9)
	f.fetcher.errs["AAA"] = fmt.Errorf("%w: timeout", models.ErrDataUnavailable)
	f.fetcher.closes["BBB"] = []float64{1, 2, 3} // too short
	f.fetcher.closes["ETH"] = uptrendCloses(59000000)
	f.notifier.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	alerts := f.scanner.RunCycle(context.Background(), []models.TickerSnapshot{
		snapshot("aaa_idr", 100, 2e9),
		snapshot("bbb_idr", 100, 2e9),
		snapshot("eth_idr", 60000000, 2e9),
	}, f.fetcher, time.Now())

	require.Len(t, alerts, 1)
	assert.Equal(t, "ETH", alerts[0].Symbol)
	_, tracked := f.store.Get("AAA")
	assert.False(t, tracked)
}

func TestRunCycle_RecoversPairPanic(t *testing.T) {
	f := newFixture(t, 1e9)
	f.notifier.On("Send", mock.Anything, mock.Anything).Return(nil)

	calls := 0
	fetcher := CandleFetcherFunc(func(ctx context.Context, symbol string) ([]float64, error) {
		calls++
		if symbol == "BAD" {
			panic("decoder exploded")
		}
		return uptrendCloses(490000000), nil
	})

	alerts := f.scanner.RunCycle(context.Background(), []models.TickerSnapshot{
		snapshot("bad_idr", 500000000, 2e9),
		snapshot("btc_idr", 500000000, 2e9),
	}, fetcher, time.Now())

	assert.Equal(t, 2, calls)
	require.Len(t, alerts, 1)
	assert.Equal(t, "BTC", alerts[0].Symbol)
}

func TestRunCycle_NotifyFailureStillRecordsAlert(t *testing.T) {
	f := newFixture(t, 1e9)
	f.fetcher.closes["BTC"] = uptrendCloses(490000000)
	f.notifier.On("Send", mock.Anything, mock.Anything).Return(errors.New("telegram down")).Once()

	alerts := f.scanner.RunCycle(context.Background(),
		[]models.TickerSnapshot{snapshot("btc_idr", 500000000, 2e9)}, f.fetcher, time.Now())

	require.Len(t, alerts, 1)
	assert.False(t, alerts[0].Notified)
	state, ok := f.store.Get("BTC")
	require.True(t, ok)
	assert.Equal(t, 1, state.AlertCount)
}

func TestRunCycle_CooldownAcrossCycles(t *testing.T) {
	f := newFixture(t, 1e9)
	f.fetcher.closes["BTC"] = uptrendCloses(490000000)
	f.notifier.On("Send", mock.Anything, mock.Anything).Return(nil)

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, wib)
	snaps := []models.TickerSnapshot{snapshot("btc_idr", 500000000, 2e9)}

	first := f.scanner.RunCycle(context.Background(), snaps, f.fetcher, start)
	second := f.scanner.RunCycle(context.Background(), snaps, f.fetcher, start.Add(5*time.Minute))
	require.Len(t, first, 1)
	assert.Empty(t, second, "no movement inside the cooldown")

	// +2.5% breaks the cooldown
	broken := f.scanner.RunCycle(context.Background(),
		[]models.TickerSnapshot{snapshot("btc_idr", 512500000, 2e9)}, f.fetcher, start.Add(10*time.Minute))
	require.Len(t, broken, 1)
	assert.Equal(t, 2, broken[0].Sequence)
	assert.Equal(t, string(alertstate.ReasonPriceBreak), broken[0].Reason)

	f.notifier.AssertNumberOfCalls(t, "Send", 2)
}

func TestRunCycle_StopsWhenContextCancelled(t *testing.T) {
	f := newFixture(t, 1e9)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	alerts := f.scanner.RunCycle(ctx, []models.TickerSnapshot{
		snapshot("btc_idr", 500000000, 2e9),
	}, f.fetcher, time.Now())

	assert.Empty(t, alerts)
	assert.Empty(t, f.fetcher.calls)
}

func TestScan_ListingFailure(t *testing.T) {
	f := newFixture(t, 1e9)
	market := &fakeMarket{err: fmt.Errorf("failed to fetch summaries: %w", models.ErrRateLimited)}
	f.scanner.market = market

	alerts, err := f.scanner.Scan(context.Background(), time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrRateLimited))
	assert.Nil(t, alerts)
	assert.Empty(t, f.fetcher.calls)
}

func TestScan_UsesConfiguredFetcher(t *testing.T) {
	f := newFixture(t, 1e9)
	f.fetcher.closes["BTC"] = uptrendCloses(490000000)
	f.notifier.On("Send", mock.Anything, mock.Anything).Return(nil)
	f.scanner.market = &fakeMarket{snapshots: []models.TickerSnapshot{snapshot("btc_idr", 500000000, 2e9)}}

	alerts, err := f.scanner.Scan(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}
