package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
)

// fakeStore scripts what the fake driver does for one test database.
type fakeStore struct {
	mu sync.Mutex

	opened     int
	closed     int
	begins     int
	commits    int
	rollbacks  int
	isolations []driver.IsolationLevel
	statements []string
	args       [][]driver.NamedValue

	// fail is consulted on every statement with the 1-based attempt number.
	fail    func(attempt int) error
	columns []string
	values  [][]driver.Value
}

func (s *fakeStore) counts() (opened, closed, begins int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened, s.closed, s.begins
}

type fakeDriver struct {
	mu     sync.Mutex
	stores map[string]*fakeStore
}

var fakes = &fakeDriver{stores: map[string]*fakeStore{}}

func init() {
	sql.Register("fakepq", fakes)
}

func (d *fakeDriver) Open(name string) (driver.Conn, error) {
	d.mu.Lock()
	s := d.stores[name]
	d.mu.Unlock()

	s.mu.Lock()
	s.opened++
	s.mu.Unlock()
	return &fakeConn{store: s}, nil
}

// newFakeDB registers a fresh store under the test's name.
func newFakeDB(t *testing.T, s *fakeStore) *sqlx.DB {
	t.Helper()
	fakes.mu.Lock()
	fakes.stores[t.Name()] = s
	fakes.mu.Unlock()

	db, err := sqlx.Open("fakepq", t.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeConn struct {
	store   *fakeStore
	attempt int
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return nil, driver.ErrSkip
}

func (c *fakeConn) Close() error {
	c.store.mu.Lock()
	c.store.closed++
	c.store.mu.Unlock()
	return nil
}

func (c *fakeConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *fakeConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.store.begins++
	c.attempt = c.store.begins
	c.store.isolations = append(c.store.isolations, opts.Isolation)
	return &fakeTx{store: c.store}, nil
}

func (c *fakeConn) record(query string, args []driver.NamedValue) error {
	c.store.mu.Lock()
	c.store.statements = append(c.store.statements, query)
	c.store.args = append(c.store.args, args)
	fail := c.store.fail
	c.store.mu.Unlock()
	if fail != nil {
		return fail(c.attempt)
	}
	return nil
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := c.record(query, args); err != nil {
		return nil, err
	}
	return driver.RowsAffected(1), nil
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := c.record(query, args); err != nil {
		return nil, err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return &fakeRows{columns: c.store.columns, values: c.store.values}, nil
}

type fakeTx struct {
	store *fakeStore
}

func (tx *fakeTx) Commit() error {
	tx.store.mu.Lock()
	tx.store.commits++
	tx.store.mu.Unlock()
	return nil
}

func (tx *fakeTx) Rollback() error {
	tx.store.mu.Lock()
	tx.store.rollbacks++
	tx.store.mu.Unlock()
	return nil
}

type fakeRows struct {
	columns []string
	values  [][]driver.Value
	pos     int
}

func (r *fakeRows) Columns() []string { return r.columns }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.pos])
	r.pos++
	return nil
}

// fakeTimer fires immediately and records each requested wait.
type fakeTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

func newFakeTimer() *fakeTimer {
	return &fakeTimer{c: make(chan time.Time, 1)}
}

func (t *fakeTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.waits = append(t.waits, d)
	t.mu.Unlock()
	t.c <- time.Now()
}

func (t *fakeTimer) Stop() {}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

func (t *fakeTimer) Waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.waits...)
}
