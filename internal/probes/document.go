package probes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

// ErrDatabaseNotFound is returned by a DatabaseReader for a missing database.
var ErrDatabaseNotFound = errors.New("database not found")

// DatabaseReader reads a database's properties by name.
type DatabaseReader interface {
	ReadDatabase(ctx context.Context, name string) error
}

// DocumentDB checks that a named database can be read.
type DocumentDB struct {
	Client   DatabaseReader
	Database string
	Setting  string
}

func (p *DocumentDB) Run(ctx context.Context) (health.Outcome, error) {
	start := time.Now()
	if p.Database == "" {
		return health.Unhealthy(start, fmt.Sprintf("App setting %s is not set.", p.Setting), nil), nil
	}

	err := p.Client.ReadDatabase(ctx, p.Database)
	switch {
	case err == nil:
		return health.Healthy(start, fmt.Sprintf("Read database %q succeeded.", p.Database)), nil
	case errors.Is(err, ErrDatabaseNotFound):
		return health.Unhealthy(start, fmt.Sprintf("Cosmos database %q not found.", p.Database), err), nil
	default:
		return health.Outcome{}, xerrors.Wrapf(err, "read database %s", p.Database)
	}
}

// CosmosDatabases adapts an Azure Cosmos DB client.
type CosmosDatabases struct {
	Client *azcosmos.Client
}

func (a CosmosDatabases) ReadDatabase(ctx context.Context, name string) error {
	db, err := a.Client.NewDatabase(name)
	if err != nil {
		return err
	}
	_, err = db.Read(ctx, nil)
	return cosmosError(err)
}

// cosmosError maps a 404 response to ErrDatabaseNotFound, keeping the
// service error in the chain for diagnostics.
func cosmosError(err error) error {
	if err == nil {
		return nil
	}
	var re *azcore.ResponseError
	if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrDatabaseNotFound, err)
	}
	return err
}
