package promotion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPromoRepo struct {
	rules   map[string]*Rule
	err     error
	codeErr error
	finds   int
}

func (m *mockPromoRepo) FindByCode(_ context.Context, code string) (*Rule, error) {
	m.finds++
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.rules[code]
	if !ok {
		return nil, ErrUnknownCode
	}
	return r, nil
}

func (m *mockPromoRepo) Codes(_ context.Context, fn func(string) error) error {
	if m.codeErr != nil {
		return m.codeErr
	}
	for c := range m.rules {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "SAVE10", Normalize("  save10\t"))
}

func TestDemoTable(t *testing.T) {
	table := DemoTable()
	ctx := context.Background()

	tests := []struct {
		code    string
		want    int64
		wantErr error
	}{
		{code: "SAVE10", want: 10},
		{code: " welcome15 ", want: 15},
		{code: "SUMMER20", want: 20},
		{code: "half50", want: 50},
		{code: "BOGUS", wantErr: ErrUnknownCode},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			r, err := table.Lookup(ctx, tt.code)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.NewFromInt(tt.want).Equal(r.Percent))
		})
	}

	assert.Equal(t, []string{"HALF50", "SAVE10", "SUMMER20", "WELCOME15"}, table.Codes())
}

func TestStaticTable_LookupReturnsCopy(t *testing.T) {
	table := DemoTable()

	r, err := table.Lookup(context.Background(), "SAVE10")
	require.NoError(t, err)
	r.Percent = decimal.NewFromInt(99)

	again, err := table.Lookup(context.Background(), "SAVE10")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(again.Percent))
}

func TestRepoTable_Lookup(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := fixedNow.Add(-24 * time.Hour)
	future := fixedNow.Add(24 * time.Hour)

	tests := []struct {
		name    string
		repo    *mockPromoRepo
		code    string
		want    int64
		wantErr error
	}{
		{
			name: "known code",
			repo: &mockPromoRepo{rules: map[string]*Rule{
				"SAVE10": {Code: "SAVE10", Percent: decimal.NewFromInt(10)},
			}},
			code: "save10",
			want: 10,
		},
		{
			name:    "unknown code",
			repo:    &mockPromoRepo{rules: map[string]*Rule{}},
			code:    "NOPE",
			wantErr: ErrUnknownCode,
		},
		{
			name: "expired",
			repo: &mockPromoRepo{rules: map[string]*Rule{
				"OLD": {Code: "OLD", Percent: decimal.NewFromInt(5), ValidUntil: &past},
			}},
			code:    "OLD",
			wantErr: ErrExpired,
		},
		{
			name: "not yet valid",
			repo: &mockPromoRepo{rules: map[string]*Rule{
				"SOON": {Code: "SOON", Percent: decimal.NewFromInt(5), ValidFrom: &future},
			}},
			code:    "SOON",
			wantErr: ErrExpired,
		},
		{
			name: "inside window",
			repo: &mockPromoRepo{rules: map[string]*Rule{
				"NOW": {Code: "NOW", Percent: decimal.NewFromInt(7), ValidFrom: &past, ValidUntil: &future},
			}},
			code: "NOW",
			want: 7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := NewRepoTable(tt.repo, WithClock(func() time.Time { return fixedNow }))

			r, err := table.Lookup(context.Background(), tt.code)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.NewFromInt(tt.want).Equal(r.Percent))
		})
	}
}

func TestRepoTable_RepositoryError(t *testing.T) {
	repo := &mockPromoRepo{err: errors.New("connection refused")}
	table := NewRepoTable(repo)

	_, err := table.Lookup(context.Background(), "SAVE10")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownCode)
	assert.Contains(t, err.Error(), "lookup promotion")
}

func TestRepoTable_BloomPrefilter(t *testing.T) {
	repo := &mockPromoRepo{rules: map[string]*Rule{
		"SAVE10": {Code: "SAVE10", Percent: decimal.NewFromInt(10)},
	}}
	table := NewRepoTable(repo, WithFilterEstimate(1000, 0.0001))

	n, err := table.Warm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = table.Lookup(context.Background(), "UNKNOWN1")
	require.ErrorIs(t, err, ErrUnknownCode)
	assert.Equal(t, 0, repo.finds, "filter miss must not reach the repository")

	_, err = table.Lookup(context.Background(), "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.finds)

	repo.rules["LATE5"] = &Rule{Code: "LATE5", Percent: decimal.NewFromInt(5)}
	table.Add("late5")
	_, err = table.Lookup(context.Background(), "LATE5")
	require.NoError(t, err)
}

func TestRepoTable_WarmError(t *testing.T) {
	table := NewRepoTable(&mockPromoRepo{codeErr: errors.New("boom")})

	_, err := table.Warm(context.Background())
	require.Error(t, err)

	// Without a filter every lookup falls through to the repository.
	_, err = table.Lookup(context.Background(), "ANY")
	require.ErrorIs(t, err, ErrUnknownCode)
}

type lockedRepo struct {
	mu    sync.Mutex
	inner *mockPromoRepo
}

func (l *lockedRepo) FindByCode(ctx context.Context, code string) (*Rule, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.FindByCode(ctx, code)
}

func (l *lockedRepo) Codes(ctx context.Context, fn func(string) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Codes(ctx, fn)
}

func (l *lockedRepo) put(r *Rule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inner.rules[r.Code] = r
}

func TestRepoTable_StartRefresher(t *testing.T) {
	repo := &lockedRepo{inner: &mockPromoRepo{rules: map[string]*Rule{}}}
	table := NewRepoTable(repo, WithFilterEstimate(1000, 0.0001))
	_, err := table.Warm(context.Background())
	require.NoError(t, err)

	repo.put(&Rule{Code: "LATE5", Percent: decimal.NewFromInt(5)})
	_, err = table.Lookup(context.Background(), "LATE5")
	require.ErrorIs(t, err, ErrUnknownCode, "not in the filter yet")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	table.StartRefresher(ctx, time.Millisecond)

	assert.Eventually(t, func() bool {
		_, err := table.Lookup(context.Background(), "LATE5")
		return err == nil
	}, time.Second, 5*time.Millisecond)
}
