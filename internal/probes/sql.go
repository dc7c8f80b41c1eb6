package probes

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

// DefaultSQLQuery is the diagnostic query for SQL Server.
const DefaultSQLQuery = "SELECT @@VERSION"

// SQL opens a dedicated connection from the pool, runs a read-only
// diagnostic query and is healthy when it returns at least one row.
// The connection is always returned, including on error paths.
type SQL struct {
	DB    *sql.DB
	Query string
}

func (p *SQL) Run(ctx context.Context) (health.Outcome, error) {
	start := time.Now()
	q := p.Query
	if q == "" {
		q = DefaultSQLQuery
	}

	conn, err := p.DB.Conn(ctx)
	if err != nil {
		return health.Outcome{}, xerrors.Wrap(err, "open sql connection")
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, q)
	if err != nil {
		return health.Outcome{}, xerrors.Wrapf(err, "query %q", q)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return health.Outcome{}, xerrors.Wrapf(err, "read %q", q)
		}
		return health.Unhealthy(start, fmt.Sprintf("%s returned no rows", q), nil), nil
	}

	var first sql.NullString
	cols, _ := rows.Columns()
	dest := make([]any, len(cols))
	for i := range dest {
		dest[i] = new(sql.RawBytes)
	}
	if len(dest) > 0 {
		dest[0] = &first
	}
	if err := rows.Scan(dest...); err != nil {
		return health.Outcome{}, xerrors.Wrapf(err, "scan %q", q)
	}

	out := health.Healthy(start, fmt.Sprintf("%s succeeded", q))
	if first.Valid {
		out = out.WithData("Result", first.String)
	}
	return out, nil
}
