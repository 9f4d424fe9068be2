package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

type fakeRelationalGateway struct {
	tables []tableRef
	rows   []map[string]any
	schema []map[string]any

	gotQuery   string
	gotMaxRows int
	calls      int
}

func (f *fakeRelationalGateway) ListTables(ctx context.Context) ([]tableRef, error) {
	f.calls++
	return f.tables, nil
}

func (f *fakeRelationalGateway) ExecuteQuery(ctx context.Context, query string, maxRows int) ([]map[string]any, error) {
	f.calls++
	f.gotQuery = query
	f.gotMaxRows = maxRows
	return f.rows, nil
}

func (f *fakeRelationalGateway) TableSchema(ctx context.Context, schema, table string) ([]map[string]any, error) {
	f.calls++
	return f.schema, nil
}

type fakeDocumentGateway struct {
	databases  []string
	containers []string
	items      []json.RawMessage

	gotDatabase     string
	gotContainer    string
	gotQuery        string
	gotPartitionKey *string
	gotMaxItems     int
	calls           int
}

func (f *fakeDocumentGateway) ListDatabases(ctx context.Context) ([]string, error) {
	f.calls++
	return f.databases, nil
}

func (f *fakeDocumentGateway) ListContainers(ctx context.Context, database string) ([]string, error) {
	f.calls++
	f.gotDatabase = database
	return f.containers, nil
}

func (f *fakeDocumentGateway) QueryItems(ctx context.Context, database, container, query string, partitionKey *string, maxItems int) ([]json.RawMessage, error) {
	f.calls++
	f.gotDatabase = database
	f.gotContainer = container
	f.gotQuery = query
	f.gotPartitionKey = partitionKey
	f.gotMaxItems = maxItems
	return f.items, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("Expected one content block, got %d", len(res.Content))
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Expected text content, got %T", res.Content[0])
	}
	return tc.Text
}

func mssqlOnlyConfig() *Config {
	return &Config{Mssql: &MssqlConfig{ConnectionString: "server=localhost;database=test"}}
}

func cosmosOnlyConfig(defaultDatabase string) *Config {
	return &Config{Cosmos: &CosmosConfig{
		Endpoint:        "https://example.documents.azure.com:443/",
		Key:             "dGVzdGtleQ==",
		DefaultDatabase: defaultDatabase,
	}}
}

func TestMssqlExecuteQuery_EndToEnd(t *testing.T) {
	fake := &fakeRelationalGateway{rows: []map[string]any{{"x": int64(1)}}}
	s := &toolServer{cfg: mssqlOnlyConfig(), logger: testLogger(), mssql: fake}

	res, err := s.handleMssqlExecuteQuery(context.Background(), callRequest(map[string]any{
		"query":    "SELECT 1 AS x",
		"max_rows": float64(5),
	}))
	if err != nil {
		t.Fatalf("Handler returned protocol error: %v", err)
	}
	if res.IsError {
		t.Fatalf("Expected success, got error result: %s", resultText(t, res))
	}

	if got := resultText(t, res); got != `[{"x":1}]` {
		t.Errorf("Expected [{\"x\":1}], got %s", got)
	}
	if fake.gotQuery != "SELECT 1 AS x" || fake.gotMaxRows != 5 {
		t.Errorf("Gateway received query=%q maxRows=%d", fake.gotQuery, fake.gotMaxRows)
	}
}

func TestMssqlListTables_ResultShape(t *testing.T) {
	fake := &fakeRelationalGateway{tables: []tableRef{{Schema: "dbo", TableName: "users"}}}
	s := &toolServer{cfg: mssqlOnlyConfig(), logger: testLogger(), mssql: fake}

	res, err := s.handleMssqlListTables(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("Handler returned protocol error: %v", err)
	}
	if got := resultText(t, res); got != `[{"schema":"dbo","table_name":"users"}]` {
		t.Errorf("Unexpected result shape: %s", got)
	}
}

func TestMssqlTools_NotConfigured(t *testing.T) {
	s := &toolServer{cfg: cosmosOnlyConfig(""), logger: testLogger()}

	res, err := s.handleMssqlListTables(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("Handler returned protocol error: %v", err)
	}
	if !res.IsError {
		t.Fatal("Expected an error result")
	}
	if got := resultText(t, res); !strings.Contains(got, EnvMssqlConnectionString) {
		t.Errorf("Expected the error to name %s, got: %s", EnvMssqlConnectionString, got)
	}
}

func TestCosmosTools_NotConfigured(t *testing.T) {
	s := &toolServer{cfg: mssqlOnlyConfig(), logger: testLogger()}

	res, err := s.handleCosmosListDatabases(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("Handler returned protocol error: %v", err)
	}
	if !res.IsError {
		t.Fatal("Expected an error result")
	}
	if got := resultText(t, res); !strings.Contains(got, EnvCosmosEndpoint) {
		t.Errorf("Expected the error to name %s, got: %s", EnvCosmosEndpoint, got)
	}
}

func TestMssqlExecuteQuery_MissingQueryParameter(t *testing.T) {
	fake := &fakeRelationalGateway{}
	s := &toolServer{cfg: mssqlOnlyConfig(), logger: testLogger(), mssql: fake}

	res, err := s.handleMssqlExecuteQuery(context.Background(), callRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("Handler returned protocol error: %v", err)
	}
	if !res.IsError {
		t.Fatal("Expected an error result")
	}
	if got := resultText(t, res); !strings.Contains(got, "query") {
		t.Errorf("Expected the error to name the query parameter, got: %s", got)
	}
	if fake.calls != 0 {
		t.Errorf("Expected no gateway call before validation, got %d", fake.calls)
	}
}

func TestCosmosListContainers_NoDatabaseNoDefault(t *testing.T) {
	fake := &fakeDocumentGateway{}
	s := &toolServer{cfg: cosmosOnlyConfig(""), logger: testLogger(), cosmos: fake}

	res, err := s.handleCosmosListContainers(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("Handler returned protocol error: %v", err)
	}
	if !res.IsError {
		t.Fatal("Expected an error result")
	}
	got := resultText(t, res)
	if !strings.Contains(got, "database") || !strings.Contains(got, EnvCosmosDefaultDatabase) {
		t.Errorf("Expected the error to name the missing parameter and its fallback, got: %s", got)
	}
	if fake.calls != 0 {
		t.Errorf("Expected no gateway call, got %d", fake.calls)
	}
}

func TestCosmosListContainers_DefaultDatabaseFallback(t *testing.T) {
	fake := &fakeDocumentGateway{containers: []string{"users"}}
	s := &toolServer{cfg: cosmosOnlyConfig("fallbackdb"), logger: testLogger(), cosmos: fake}

	res, err := s.handleCosmosListContainers(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("Handler returned protocol error: %v", err)
	}
	if res.IsError {
		t.Fatalf("Expected success, got: %s", resultText(t, res))
	}
	if fake.gotDatabase != "fallbackdb" {
		t.Errorf("Expected fallback database, got %q", fake.gotDatabase)
	}
	if got := resultText(t, res); got != `["users"]` {
		t.Errorf("Unexpected result: %s", got)
	}
}

func TestCosmosListContainers_ExplicitDatabaseWins(t *testing.T) {
	fake := &fakeDocumentGateway{containers: []string{}}
	s := &toolServer{cfg: cosmosOnlyConfig("fallbackdb"), logger: testLogger(), cosmos: fake}

	_, err := s.handleCosmosListContainers(context.Background(), callRequest(map[string]any{
		"database": "explicit",
	}))
	if err != nil {
		t.Fatalf("Handler returned protocol error: %v", err)
	}
	if fake.gotDatabase != "explicit" {
		t.Errorf("Expected explicit database to win, got %q", fake.gotDatabase)
	}
}

func TestCosmosQueryItems_ArgumentHandling(t *testing.T) {
	t.Run("partition key forwarded", func(t *testing.T) {
		fake := &fakeDocumentGateway{items: []json.RawMessage{json.RawMessage(`{"id":"1"}`)}}
		s := &toolServer{cfg: cosmosOnlyConfig("db"), logger: testLogger(), cosmos: fake}

		res, err := s.handleCosmosQueryItems(context.Background(), callRequest(map[string]any{
			"query":         "SELECT * FROM c",
			"container":     "events",
			"partition_key": "tenant-1",
			"max_items":     float64(10),
		}))
		if err != nil {
			t.Fatalf("Handler returned protocol error: %v", err)
		}
		if res.IsError {
			t.Fatalf("Expected success, got: %s", resultText(t, res))
		}
		if fake.gotPartitionKey == nil || *fake.gotPartitionKey != "tenant-1" {
			t.Errorf("Expected partition key tenant-1, got %v", fake.gotPartitionKey)
		}
		if fake.gotMaxItems != 10 || fake.gotContainer != "events" {
			t.Errorf("Gateway received maxItems=%d container=%q", fake.gotMaxItems, fake.gotContainer)
		}
		if got := resultText(t, res); got != `[{"id":"1"}]` {
			t.Errorf("Unexpected result: %s", got)
		}
	})

	t.Run("omitted partition key is cross-partition", func(t *testing.T) {
		fake := &fakeDocumentGateway{items: []json.RawMessage{}}
		s := &toolServer{cfg: cosmosOnlyConfig("db"), logger: testLogger(), cosmos: fake}

		_, err := s.handleCosmosQueryItems(context.Background(), callRequest(map[string]any{
			"query":     "SELECT * FROM c",
			"container": "events",
		}))
		if err != nil {
			t.Fatalf("Handler returned protocol error: %v", err)
		}
		if fake.gotPartitionKey != nil {
			t.Errorf("Expected nil partition key, got %v", fake.gotPartitionKey)
		}
		if fake.gotMaxItems != 0 {
			t.Errorf("Expected omitted max_items to reach the gateway as 0, got %d", fake.gotMaxItems)
		}
	})

	t.Run("missing container rejected", func(t *testing.T) {
		fake := &fakeDocumentGateway{}
		s := &toolServer{cfg: cosmosOnlyConfig("db"), logger: testLogger(), cosmos: fake}

		res, err := s.handleCosmosQueryItems(context.Background(), callRequest(map[string]any{
			"query": "SELECT * FROM c",
		}))
		if err != nil {
			t.Fatalf("Handler returned protocol error: %v", err)
		}
		if !res.IsError {
			t.Fatal("Expected an error result")
		}
		if got := resultText(t, res); !strings.Contains(got, "container") {
			t.Errorf("Expected the error to name container, got: %s", got)
		}
		if fake.calls != 0 {
			t.Errorf("Expected no gateway call, got %d", fake.calls)
		}
	})
}

func TestParseTableURI(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		wantSchema string
		wantTable  string
		wantErr    bool
	}{
		{"valid", "mssql://dbo/users/columns", "dbo", "users", false},
		{"wrong scheme", "mysql://dbo/users/columns", "", "", true},
		{"missing suffix", "mssql://dbo/users", "", "", true},
		{"wrong suffix", "mssql://dbo/users/schema", "", "", true},
		{"empty schema", "mssql:///users/columns", "", "", true},
		{"empty table", "mssql://dbo//columns", "", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			schema, table, err := parseTableURI(tc.uri)
			if tc.wantErr {
				if err == nil {
					t.Errorf("Expected an error for %q", tc.uri)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected %q to parse, got: %v", tc.uri, err)
			}
			if schema != tc.wantSchema || table != tc.wantTable {
				t.Errorf("Expected %s.%s, got %s.%s", tc.wantSchema, tc.wantTable, schema, table)
			}
		})
	}
}

func TestTableColumnsResource(t *testing.T) {
	fake := &fakeRelationalGateway{schema: []map[string]any{
		{"column_name": "id", "data_type": "int", "is_nullable": "NO"},
	}}
	s := &toolServer{cfg: mssqlOnlyConfig(), logger: testLogger(), mssql: fake}

	var req mcp.ReadResourceRequest
	req.Params.URI = "mssql://dbo/users/columns"

	contents, err := s.handleTableColumnsResource(context.Background(), req)
	if err != nil {
		t.Fatalf("Expected resource read to succeed, got: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("Expected one content entry, got %d", len(contents))
	}

	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("Expected text resource contents, got %T", contents[0])
	}
	if text.MIMEType != "application/json" {
		t.Errorf("Expected application/json, got %q", text.MIMEType)
	}
	if !strings.Contains(text.Text, `"column_name":"id"`) {
		t.Errorf("Expected column metadata in payload, got: %s", text.Text)
	}
}

func TestTableColumnsResource_MssqlNotConfigured(t *testing.T) {
	s := &toolServer{cfg: cosmosOnlyConfig(""), logger: testLogger()}

	var req mcp.ReadResourceRequest
	req.Params.URI = "mssql://dbo/users/columns"

	if _, err := s.handleTableColumnsResource(context.Background(), req); err == nil {
		t.Error("Expected an error when MSSQL is not configured")
	}
}

func TestNewToolServer_GatewayWiring(t *testing.T) {
	cfg := &Config{
		Mssql:  &MssqlConfig{ConnectionString: "server=localhost"},
		Cosmos: &CosmosConfig{Endpoint: "https://example.documents.azure.com:443/", Key: "k"},
	}
	s := newToolServer(cfg, testLogger())
	if s.mssql == nil {
		t.Error("Expected an MSSQL gateway for a configured store")
	}
	if s.cosmos == nil {
		t.Error("Expected a Cosmos gateway for a configured store")
	}

	s = newToolServer(mssqlOnlyConfig(), testLogger())
	if s.cosmos != nil {
		t.Error("Expected no Cosmos gateway when unconfigured")
	}
}
