package exigo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb"
	_ "github.com/snowflakedb/gosnowflake"

	"github.com/ignite/exigo-bridge/internal/domain"
)

// Supported Sync database drivers.
const (
	DriverSQLServer = "sqlserver"
	DriverSnowflake = "snowflake"
)

// AutoOrderStatusActive is Exigo's status for a running autoship.
const AutoOrderStatusActive = 0

var activeAutoshipQueries = map[string]string{
	DriverSQLServer: `SELECT DISTINCT ao.CustomerID FROM AutoOrders ao WHERE ao.AutoOrderStatusID = @p1`,
	DriverSnowflake: `SELECT DISTINCT ao.CUSTOMERID FROM AUTOORDERS ao WHERE ao.AUTOORDERSTATUSID = ?`,
}

var customerAutoshipQueries = map[string]string{
	DriverSQLServer: `SELECT COUNT(1) FROM AutoOrders ao WHERE ao.AutoOrderStatusID = @p1 AND ao.CustomerID = @p2`,
	DriverSnowflake: `SELECT COUNT(1) FROM AUTOORDERS ao WHERE ao.AUTOORDERSTATUSID = ? AND ao.CUSTOMERID = ?`,
}

// AutoshipSource reads active autoships from a company's Exigo Sync
// database, either SQL Server or the Snowflake replica.
type AutoshipSource struct {
	db           *sql.DB
	driver       string
	queryTimeout time.Duration
}

// OpenAutoshipSource opens the Sync database for driver and dsn.
// The connection is lazy; failures surface on the first query.
func OpenAutoshipSource(driver, dsn string, queryTimeout time.Duration) (*AutoshipSource, error) {
	if _, ok := activeAutoshipQueries[driver]; !ok {
		return nil, fmt.Errorf("exigo: unsupported sql driver %q", driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("exigo: empty dsn for driver %s", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &ConnectionError{Driver: driver, Err: err}
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewAutoshipSource(db, driver, queryTimeout), nil
}

// NewAutoshipSource wraps an existing handle.
func NewAutoshipSource(db *sql.DB, driver string, queryTimeout time.Duration) *AutoshipSource {
	return &AutoshipSource{db: db, driver: driver, queryTimeout: queryTimeout}
}

// Close releases the database handle.
func (s *AutoshipSource) Close() error {
	return s.db.Close()
}

func (s *AutoshipSource) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// ActiveAutoshipExternalIDs returns every customer ID with an active
// autoship, normalized. Any failure is returned as *ConnectionError or
// *QueryError; a partial set is never returned.
func (s *AutoshipSource) ActiveAutoshipExternalIDs(ctx context.Context) (domain.IDSet, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return nil, &ConnectionError{Driver: s.driver, Err: err}
	}

	rows, err := s.db.QueryContext(ctx, activeAutoshipQueries[s.driver], AutoOrderStatusActive)
	if err != nil {
		return nil, &QueryError{Query: "active autoships", Err: err}
	}
	defer rows.Close()

	ids := domain.NewIDSet()
	for rows.Next() {
		var raw sql.NullString
		if err := rows.Scan(&raw); err != nil {
			return nil, &QueryError{Query: "active autoships", Err: fmt.Errorf("scan: %w", err)}
		}
		if raw.Valid {
			ids.Add(raw.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Query: "active autoships", Err: err}
	}
	return ids, nil
}

// CustomerHasActiveAutoship checks a single customer.
func (s *AutoshipSource) CustomerHasActiveAutoship(ctx context.Context, externalID string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int
	err := s.db.QueryRowContext(ctx, customerAutoshipQueries[s.driver],
		AutoOrderStatusActive, domain.NormalizeExternalID(externalID)).Scan(&n)
	if err != nil {
		return false, &QueryError{Query: "customer autoship", Err: err}
	}
	return n > 0, nil
}
