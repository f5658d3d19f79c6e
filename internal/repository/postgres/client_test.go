package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/fieldsync/internal/config"
	apperrors "github.com/jwalitptl/fieldsync/pkg/errors"
	"github.com/jwalitptl/fieldsync/pkg/metrics"
)

func testDBConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		MaxOpenConns:         4,
		RetryAttempts:        5,
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     10 * time.Second,
	}
}

func newTestClient(t *testing.T, store *fakeStore, opts ...Option) (*Client, *fakeTimer) {
	t.Helper()
	timer := newFakeTimer()
	opts = append([]Option{WithTimer(timer)}, opts...)
	return NewClient(newFakeDB(t, store), testDBConfig(), opts...), timer
}

func always(err error) func(int) error {
	return func(int) error { return err }
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	store := &fakeStore{fail: always(&pq.Error{Code: "08006", Message: "connection failure"})}
	reg := prometheus.NewRegistry()
	m := metrics.New("test", reg)
	client, timer := newTestClient(t, store, WithMetrics(m))

	_, err := client.Execute(context.Background(), "INSERT INTO oos_tracks VALUES ($1)", []any{1}, FetchNone)

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.TransientInfrastructureFailure))
	assert.Contains(t, err.Error(), "after 5 attempts")

	_, _, begins := store.counts()
	assert.Equal(t, 5, begins)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, timer.Waits())

	waits := timer.Waits()
	for i := 1; i < len(waits); i++ {
		assert.Greater(t, waits[i], waits[i-1])
		assert.LessOrEqual(t, waits[i], 10*time.Second)
	}

	assert.Equal(t, float64(4), testutil.ToFloat64(m.StoreRetries))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StoreOperations.WithLabelValues("none", "transient_infrastructure_failure")))
}

func TestExecuteWaitsAreCappedAtCeiling(t *testing.T) {
	store := &fakeStore{fail: always(driver.ErrBadConn)}
	cfg := testDBConfig()
	cfg.RetryAttempts = 7
	timer := newFakeTimer()
	client := NewClient(newFakeDB(t, store), cfg, WithTimer(timer))

	_, err := client.Execute(context.Background(), "SELECT 1", nil, FetchOne)

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.TransientInfrastructureFailure))
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second,
	}, timer.Waits())
}

func TestExecuteRecoversAfterTransientFailure(t *testing.T) {
	store := &fakeStore{
		fail: func(attempt int) error {
			if attempt < 3 {
				return &pq.Error{Code: "57P01", Message: "terminating connection due to administrator command"}
			}
			return nil
		},
	}
	client, timer := newTestClient(t, store)

	rows, err := client.Execute(context.Background(), "INSERT INTO order_tracks VALUES ($1)", []any{"x"}, FetchNone)

	require.NoError(t, err)
	assert.Nil(t, rows)
	_, _, begins := store.counts()
	assert.Equal(t, 3, begins)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, timer.Waits())
}

func TestExecuteDuplicateIsNotRetried(t *testing.T) {
	store := &fakeStore{fail: always(&pq.Error{Code: "23505", Constraint: "outlets_phone_contact_key"})}
	client, timer := newTestClient(t, store)

	_, err := client.Execute(context.Background(), "INSERT INTO outlets VALUES ($1)", []any{"0803"}, FetchNone)

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.DuplicateEntry))
	assert.Equal(t, "Submission failed: Duplicate entry detected.", err.(*apperrors.AppError).Message)

	_, _, begins := store.counts()
	assert.Equal(t, 1, begins)
	assert.Empty(t, timer.Waits())
}

func TestExecuteConsistencyConflictIsNotRetried(t *testing.T) {
	for _, code := range []pq.ErrorCode{"40001", "40P01"} {
		t.Run(string(code), func(t *testing.T) {
			store := &fakeStore{fail: always(&pq.Error{Code: code})}
			client, timer := newTestClient(t, store)

			_, err := client.Execute(context.Background(), "UPDATE outlets SET name = $1", []any{"n"}, FetchNone)

			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ConsistencyConflict))
			_, _, begins := store.counts()
			assert.Equal(t, 1, begins)
			assert.Empty(t, timer.Waits())
		})
	}
}

func TestExecuteQueryErrorIsNotRetried(t *testing.T) {
	store := &fakeStore{fail: always(&pq.Error{Code: "42601", Message: "syntax error"})}
	client, timer := newTestClient(t, store)

	_, err := client.Execute(context.Background(), "SELEC 1", nil, FetchAll)

	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.QueryError))
	_, _, begins := store.counts()
	assert.Equal(t, 1, begins)
	assert.Empty(t, timer.Waits())
}

func TestExecuteUsesSerializableTransactions(t *testing.T) {
	store := &fakeStore{}
	client, _ := newTestClient(t, store)

	require.NoError(t, client.Exec(context.Background(), "INSERT INTO posms (name) VALUES ($1)", "Shelf strip"))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.isolations, 1)
	assert.Equal(t, driver.IsolationLevel(sql.LevelSerializable), store.isolations[0])
	assert.Equal(t, 1, store.commits)
	assert.Equal(t, 0, store.rollbacks)
}

func TestExecuteModes(t *testing.T) {
	store := &fakeStore{
		columns: []string{"id", "name"},
		values: [][]driver.Value{
			{int64(1), []byte("Cola 50cl")},
			{int64(2), []byte("Cola 1L")},
		},
	}
	client, _ := newTestClient(t, store)
	ctx := context.Background()

	all, err := client.All(ctx, "SELECT id, name FROM skus")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0]["id"])
	assert.Equal(t, "Cola 50cl", all[0]["name"])
	assert.Equal(t, "Cola 1L", all[1]["name"])

	one, err := client.One(ctx, "SELECT id, name FROM skus WHERE id = $1", 1)
	require.NoError(t, err)
	assert.Equal(t, Row{"id": int64(1), "name": "Cola 50cl"}, one)

	none, err := client.Execute(ctx, "DELETE FROM skus", nil, FetchNone)
	require.NoError(t, err)
	assert.Nil(t, none)

	store.mu.Lock()
	store.values = nil
	store.mu.Unlock()
	missing, err := client.One(ctx, "SELECT id, name FROM skus WHERE id = $1", 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestExecuteReleasesConnections(t *testing.T) {
	cases := map[string]error{
		"success":   nil,
		"duplicate": &pq.Error{Code: "23505"},
		"query":     &pq.Error{Code: "22P02"},
		"transient": &pq.Error{Code: "53300"},
	}
	for name, failure := range cases {
		t.Run(name, func(t *testing.T) {
			store := &fakeStore{fail: always(failure)}
			client, _ := newTestClient(t, store)

			_, _ = client.Execute(context.Background(), "INSERT INTO price_tracks VALUES ($1)", []any{1}, FetchNone)

			assert.Equal(t, 0, client.DB().Stats().InUse)
		})
	}
}

func TestExecuteDiscardsBrokenConnections(t *testing.T) {
	store := &fakeStore{fail: always(&pq.Error{Code: "08006"})}
	client, _ := newTestClient(t, store)

	_, err := client.Execute(context.Background(), "SELECT 1", nil, FetchOne)
	require.Error(t, err)

	opened, closed, begins := store.counts()
	assert.Equal(t, 5, begins)
	assert.Equal(t, opened, closed, "every broken connection must be closed, not pooled")
	assert.Equal(t, 0, client.DB().Stats().OpenConnections)
}

func TestExecuteBoundsConcurrentConnections(t *testing.T) {
	store := &fakeStore{}
	cfg := testDBConfig()
	cfg.MaxOpenConns = 2
	client := NewClient(newFakeDB(t, store), cfg, WithTimer(newFakeTimer()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, client.Exec(context.Background(), "INSERT INTO oos_tracks VALUES ($1)", 1))
		}()
	}
	wg.Wait()

	opened, _, begins := store.counts()
	assert.Equal(t, 20, begins)
	assert.LessOrEqual(t, opened, 2)
	assert.Equal(t, 0, client.DB().Stats().InUse)
}

func TestExecuteCallerCancellation(t *testing.T) {
	store := &fakeStore{fail: always(&pq.Error{Code: "08001"})}
	client, _ := newTestClient(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Execute(ctx, "SELECT 1", nil, FetchOne)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.TransientInfrastructureFailure))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		timedOut bool
		want     errorClass
	}{
		{"unique violation", &pq.Error{Code: "23505"}, false, classDuplicate},
		{"serialization failure", &pq.Error{Code: "40001"}, false, classConflict},
		{"deadlock", &pq.Error{Code: "40P01"}, false, classConflict},
		{"connection exception", &pq.Error{Code: "08003"}, false, classTransient},
		{"too many connections", &pq.Error{Code: "53300"}, false, classTransient},
		{"cannot connect now", &pq.Error{Code: "57P03"}, false, classTransient},
		{"bad conn", driver.ErrBadConn, false, classTransient},
		{"attempt timeout", context.DeadlineExceeded, true, classTransient},
		{"statement canceled by attempt timeout", &pq.Error{Code: "57014"}, true, classTransient},
		{"statement canceled otherwise", &pq.Error{Code: "57014"}, false, classQuery},
		{"foreign key", &pq.Error{Code: "23503"}, false, classQuery},
		{"syntax", &pq.Error{Code: "42601"}, false, classQuery},
		{"plain error", errors.New("boom"), false, classQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err, tt.timedOut))
		})
	}
}
