package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/semaphore"

	"github.com/jwalitptl/fieldsync/internal/config"
	apperrors "github.com/jwalitptl/fieldsync/pkg/errors"
	"github.com/jwalitptl/fieldsync/pkg/logger"
	"github.com/jwalitptl/fieldsync/pkg/metrics"
)

// Mode selects the result shape of Execute.
type Mode int

const (
	FetchAll Mode = iota
	FetchOne
	FetchNone
)

func (m Mode) String() string {
	switch m {
	case FetchAll:
		return "all"
	case FetchOne:
		return "one"
	default:
		return "none"
	}
}

// Row maps column names to values. Text columns are returned as string.
type Row = map[string]any

// Executor is the store boundary used by repositories.
type Executor interface {
	Execute(ctx context.Context, statement string, args []any, mode Mode) ([]Row, error)
}

// Client runs statements against Postgres with bounded, fairly admitted
// connections and retries transient failures with exponential backoff.
// Every attempt runs in its own SERIALIZABLE transaction.
type Client struct {
	db          *sqlx.DB
	sem         *semaphore.Weighted
	maxAttempts int
	initial     time.Duration
	ceiling     time.Duration
	timeout     time.Duration
	timer       backoff.Timer
	metrics     *metrics.Metrics
	logger      *logger.Logger
}

type Option func(*Client)

// WithTimer replaces the wall-clock timer used between retries.
func WithTimer(t backoff.Timer) Option {
	return func(c *Client) { c.timer = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(db *sqlx.DB, cfg config.DatabaseConfig, opts ...Option) *Client {
	size := cfg.MaxOpenConns
	if size <= 0 {
		size = 10
	}
	db.SetMaxOpenConns(size)

	c := &Client{
		db:          db,
		sem:         semaphore.NewWeighted(int64(size)),
		maxAttempts: cfg.RetryAttempts,
		initial:     cfg.RetryInitialInterval,
		ceiling:     cfg.RetryMaxInterval,
		timeout:     cfg.StatementTimeout,
		logger:      logger.Nop(),
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 5
	}
	if c.initial <= 0 {
		c.initial = time.Second
	}
	if c.ceiling < c.initial {
		c.ceiling = 10 * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Ping checks the store is reachable without going through the retry loop.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     c.initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.ceiling,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.maxAttempts-1)), ctx)
}

// Execute runs statement with positional args. FetchAll returns every row,
// FetchOne at most one row and FetchNone no rows.
//
// Errors are *apperrors.AppError with one of the codes ErrDuplicateEntry,
// ErrConsistencyConflict, ErrQuery or ErrTransientInfrastructure.
func (c *Client) Execute(ctx context.Context, statement string, args []any, mode Mode) ([]Row, error) {
	start := time.Now()
	attempts := 0
	var rows []Row

	op := func() error {
		attempts++
		r, timedOut, err := c.attempt(ctx, statement, args, mode)
		if err == nil {
			rows = r
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if classify(err, timedOut) != classTransient {
			return backoff.Permanent(err)
		}
		return &transientError{err: err}
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("transient store failure, retrying",
			"attempt", attempts,
			"wait", wait.String(),
			"error", err.Error(),
		)
		if c.metrics != nil {
			c.metrics.StoreRetries.Inc()
		}
	}

	err := backoff.RetryNotifyWithTimer(op, c.newBackOff(ctx), notify, c.timer)
	err = c.toAppError(ctx, err, attempts)
	c.observe(mode, start, err)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// All is Execute with FetchAll.
func (c *Client) All(ctx context.Context, statement string, args ...any) ([]Row, error) {
	return c.Execute(ctx, statement, args, FetchAll)
}

// One is Execute with FetchOne; the row is nil when nothing matched.
func (c *Client) One(ctx context.Context, statement string, args ...any) (Row, error) {
	rows, err := c.Execute(ctx, statement, args, FetchOne)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Exec is Execute with FetchNone.
func (c *Client) Exec(ctx context.Context, statement string, args ...any) error {
	_, err := c.Execute(ctx, statement, args, FetchNone)
	return err
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func (c *Client) toAppError(ctx context.Context, err error, attempts int) error {
	if err == nil {
		return nil
	}
	var t *transientError
	if errors.As(err, &t) {
		return apperrors.Transient(attempts, t.err)
	}
	// The caller gave up; the statement's outcome says nothing about the query itself.
	if ctx.Err() != nil {
		return apperrors.Transient(attempts, err)
	}
	switch classify(err, false) {
	case classDuplicate:
		return apperrors.Duplicate(err)
	case classConflict:
		return apperrors.Conflict(err)
	case classTransient:
		return apperrors.Transient(attempts, err)
	default:
		return apperrors.Query(err)
	}
}

// attempt acquires one connection, runs the statement in a serializable
// transaction and releases the connection on every path.
func (c *Client) attempt(parent context.Context, statement string, args []any, mode Mode) (rows []Row, timedOut bool, err error) {
	if err := c.sem.Acquire(parent, 1); err != nil {
		return nil, false, err
	}
	defer c.sem.Release(1)

	actx := parent
	if c.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(parent, c.timeout)
		defer cancel()
		defer func() {
			timedOut = err != nil && parent.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded)
		}()
	}

	conn, err := c.db.Connx(actx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}
	if c.metrics != nil {
		c.metrics.StoreConnectionsUse.Inc()
		defer c.metrics.StoreConnectionsUse.Dec()
	}
	defer func() {
		if err != nil && isBrokenConn(err) {
			// Returning ErrBadConn from Raw makes database/sql discard the connection.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
	}()

	tx, err := conn.BeginTxx(actx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}

	rows, err = run(actx, tx, statement, args, mode)
	if err != nil {
		_ = tx.Rollback()
		return nil, false, err
	}
	if err = tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return rows, false, nil
}

func run(ctx context.Context, tx *sqlx.Tx, statement string, args []any, mode Mode) ([]Row, error) {
	if mode == FetchNone {
		_, err := tx.ExecContext(ctx, statement, args...)
		return nil, err
	}

	rs, err := tx.QueryxContext(ctx, statement, args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var rows []Row
	for rs.Next() {
		row := Row{}
		if err := rs.MapScan(row); err != nil {
			return nil, err
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		rows = append(rows, row)
		if mode == FetchOne {
			break
		}
	}
	if err := rs.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) observe(mode Mode, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = apperrors.CodeOf(err).Name()
	}
	c.metrics.StoreOperations.WithLabelValues(mode.String(), status).Inc()
	c.metrics.StoreLatency.WithLabelValues(mode.String()).Observe(time.Since(start).Seconds())
}
