package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
)

const (
	// DefaultMaxItems applies when a caller omits max_items.
	DefaultMaxItems = 100
	// HardMaxItems is the ceiling on items per query, regardless of caller input.
	HardMaxItems = 5_000
)

// clampItems applies the default and the hard ceiling to a requested item count.
func clampItems(requested int) int {
	if requested <= 0 {
		requested = DefaultMaxItems
	}
	if requested > HardMaxItems {
		return HardMaxItems
	}
	return requested
}

// documentStore abstracts the Cosmos DB client so tests can run the gateway
// against canned pagers. The production implementation is azcosmosStore.
type documentStore interface {
	QueryDatabases() namePager
	QueryContainers(database string) (namePager, error)
	QueryItems(database, container, query string, partitionKey *string, pageSizeHint int32) (itemPager, error)
}

// namePager pages over database or container names.
type namePager interface {
	More() bool
	NextPage(ctx context.Context) ([]string, error)
}

// itemPager pages over raw JSON documents.
type itemPager interface {
	More() bool
	NextPage(ctx context.Context) ([]json.RawMessage, error)
}

// cosmosGateway runs bounded SQL-API queries against Azure Cosmos DB. A
// fresh client is built per call; pagers are pull-based, so abandoning one on
// error or on reaching a cap releases it.
type cosmosGateway struct {
	cfg *CosmosConfig

	// newStore builds the client; tests substitute a fake to prove that no
	// network path is reached when authentication is unavailable.
	newStore func(cfg *CosmosConfig) (documentStore, error)
}

func newCosmosGateway(cfg *CosmosConfig) *cosmosGateway {
	return &cosmosGateway{cfg: cfg, newStore: newAzcosmosStore}
}

// store performs the authentication gate. Only key-based auth is supported;
// an endpoint without a key fails here, before any client is constructed.
func (g *cosmosGateway) store() (documentStore, error) {
	if g.cfg.Key == "" {
		return nil, fmt.Errorf("%w: Cosmos DB authentication requires %s to be set", ErrAuthUnavailable, EnvCosmosKey)
	}
	return g.newStore(g.cfg)
}

// ListDatabases returns the names of all databases in the account, in the
// order the store yields them.
func (g *cosmosGateway) ListDatabases(ctx context.Context) ([]string, error) {
	store, err := g.store()
	if err != nil {
		return nil, err
	}

	return drainNames(ctx, store.QueryDatabases(), "database list")
}

// ListContainers returns the names of all containers in one database.
func (g *cosmosGateway) ListContainers(ctx context.Context, database string) ([]string, error) {
	store, err := g.store()
	if err != nil {
		return nil, err
	}

	pager, err := store.QueryContainers(database)
	if err != nil {
		return nil, fmt.Errorf("%w: querying containers of %s: %v", ErrQuery, database, err)
	}
	return drainNames(ctx, pager, "container list")
}

func drainNames(ctx context.Context, pager namePager, what string) ([]string, error) {
	names := []string{}
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: iterating %s: %v", ErrQuery, what, err)
		}
		names = append(names, page...)
	}
	return names, nil
}

// QueryItems runs a SQL-API query against one container. A nil partitionKey
// issues a cross-partition query. The cap is enforced client-side: pages are
// pulled until the cursor is exhausted or the accumulated count reaches
// maxItems, and any within-page overage is truncated so exactly maxItems
// items come back at most.
func (g *cosmosGateway) QueryItems(ctx context.Context, database, container, query string, partitionKey *string, maxItems int) ([]json.RawMessage, error) {
	maxItems = clampItems(maxItems)

	store, err := g.store()
	if err != nil {
		return nil, err
	}

	pageSizeHint := int32(maxItems)
	pager, err := store.QueryItems(database, container, query, partitionKey, pageSizeHint)
	if err != nil {
		return nil, fmt.Errorf("%w: querying items in %s/%s: %v", ErrQuery, database, container, err)
	}

	items := []json.RawMessage{}
	for pager.More() && len(items) < maxItems {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: iterating query results: %v", ErrQuery, err)
		}
		items = append(items, page...)
	}
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items, nil
}

// --- azcosmos-backed implementation ---

type azcosmosStore struct {
	client *azcosmos.Client
}

func newAzcosmosStore(cfg *CosmosConfig) (documentStore, error) {
	cred, err := azcosmos.NewKeyCredential(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: building Cosmos DB key credential: %v", ErrConnection, err)
	}
	client, err := azcosmos.NewClientWithKey(cfg.Endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating Cosmos DB client for %s: %v", ErrConnection, cfg.Endpoint, err)
	}
	return &azcosmosStore{client: client}, nil
}

func (s *azcosmosStore) QueryDatabases() namePager {
	return &databasePager{pager: s.client.NewQueryDatabasesPager("SELECT * FROM c", nil)}
}

func (s *azcosmosStore) QueryContainers(database string) (namePager, error) {
	db, err := s.client.NewDatabase(database)
	if err != nil {
		return nil, err
	}
	return &containerPager{pager: db.NewQueryContainersPager("SELECT * FROM c", nil)}, nil
}

func (s *azcosmosStore) QueryItems(database, container, query string, partitionKey *string, pageSizeHint int32) (itemPager, error) {
	cc, err := s.client.NewContainer(database, container)
	if err != nil {
		return nil, err
	}

	// An empty partition key makes the SDK issue a cross-partition query.
	pk := azcosmos.NewPartitionKey()
	if partitionKey != nil {
		pk = azcosmos.NewPartitionKeyString(*partitionKey)
	}

	opts := &azcosmos.QueryOptions{PageSizeHint: pageSizeHint}
	return &documentItemPager{pager: cc.NewQueryItemsPager(query, pk, opts)}, nil
}

type databasePager struct {
	pager *runtime.Pager[azcosmos.QueryDatabasesResponse]
}

func (p *databasePager) More() bool { return p.pager.More() }

func (p *databasePager) NextPage(ctx context.Context) ([]string, error) {
	resp, err := p.pager.NextPage(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Databases))
	for _, db := range resp.Databases {
		names = append(names, db.ID)
	}
	return names, nil
}

type containerPager struct {
	pager *runtime.Pager[azcosmos.QueryContainersResponse]
}

func (p *containerPager) More() bool { return p.pager.More() }

func (p *containerPager) NextPage(ctx context.Context) ([]string, error) {
	resp, err := p.pager.NextPage(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Containers))
	for _, c := range resp.Containers {
		names = append(names, c.ID)
	}
	return names, nil
}

type documentItemPager struct {
	pager *runtime.Pager[azcosmos.QueryItemsResponse]
}

func (p *documentItemPager) More() bool { return p.pager.More() }

func (p *documentItemPager) NextPage(ctx context.Context) ([]json.RawMessage, error) {
	resp, err := p.pager.NextPage(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]json.RawMessage, 0, len(resp.Items))
	for _, raw := range resp.Items {
		items = append(items, json.RawMessage(raw))
	}
	return items, nil
}
