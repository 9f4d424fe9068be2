package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	ServerName    = "azure-data-mcp"
	ServerVersion = "1.0.0"

	serverInstructions = "This MCP server provides tools for querying Azure MSSQL and " +
		"Azure Cosmos DB data stores. Use the mssql_* tools for relational data " +
		"and the cosmos_* tools for document data."
)

// relationalGateway is what the tool surface needs from the MSSQL side.
// Implemented by mssqlGateway; tests substitute fakes.
type relationalGateway interface {
	ListTables(ctx context.Context) ([]tableRef, error)
	ExecuteQuery(ctx context.Context, query string, maxRows int) ([]map[string]any, error)
	TableSchema(ctx context.Context, schema, table string) ([]map[string]any, error)
}

// documentGateway is what the tool surface needs from the Cosmos side.
type documentGateway interface {
	ListDatabases(ctx context.Context) ([]string, error)
	ListContainers(ctx context.Context, database string) ([]string, error)
	QueryItems(ctx context.Context, database, container, query string, partitionKey *string, maxItems int) ([]json.RawMessage, error)
}

// toolServer maps the five MCP tools onto the two gateways. It holds no
// mutable state; the configuration is immutable and the gateways open
// per-call connections, so concurrent tool invocations need no
// synchronization.
type toolServer struct {
	cfg    *Config
	logger *slog.Logger
	mssql  relationalGateway
	cosmos documentGateway
}

func newToolServer(cfg *Config, logger *slog.Logger) *toolServer {
	s := &toolServer{cfg: cfg, logger: logger}
	if cfg.Mssql != nil {
		s.mssql = newMssqlGateway(cfg.Mssql)
	}
	if cfg.Cosmos != nil {
		s.cosmos = newCosmosGateway(cfg.Cosmos)
	}
	return s
}

// mcpServer builds the MCP server with every tool and resource registered.
// Tools for an unconfigured store are still registered; calling one returns
// the not-configured error rather than an unknown-tool failure.
func (s *toolServer) mcpServer() *server.MCPServer {
	srv := server.NewMCPServer(ServerName, ServerVersion,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions(serverInstructions),
	)

	srv.AddTool(
		mcp.NewTool("mssql_list_tables",
			mcp.WithDescription("List all user tables in the Azure MSSQL database. "+
				"Returns a JSON array of objects with schema and table_name fields."),
		),
		s.logged("mssql_list_tables", s.handleMssqlListTables),
	)

	srv.AddTool(
		mcp.NewTool("mssql_execute_query",
			mcp.WithDescription("Execute a SQL query against Azure MSSQL. Results are "+
				"returned as a JSON array of row objects, capped at max_rows "+
				"(default 500, maximum 10000)."),
			mcp.WithString("query", mcp.Required(),
				mcp.Description("SQL query to execute. Results are capped to max_rows rows.")),
			mcp.WithNumber("max_rows",
				mcp.Description("Maximum number of rows to return (default: 500, maximum: 10000).")),
		),
		s.logged("mssql_execute_query", s.handleMssqlExecuteQuery),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_list_databases",
			mcp.WithDescription("List all databases in the Azure Cosmos DB account. "+
				"Returns a JSON array of database name strings."),
		),
		s.logged("cosmos_list_databases", s.handleCosmosListDatabases),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_list_containers",
			mcp.WithDescription("List all containers in an Azure Cosmos DB database. "+
				"database defaults to "+EnvCosmosDefaultDatabase+" when omitted."),
			mcp.WithString("database",
				mcp.Description("Cosmos DB database name. Falls back to "+EnvCosmosDefaultDatabase+" when omitted.")),
		),
		s.logged("cosmos_list_containers", s.handleCosmosListContainers),
	)

	srv.AddTool(
		mcp.NewTool("cosmos_query_items",
			mcp.WithDescription("Query items in an Azure Cosmos DB container using a "+
				"Cosmos SQL-API query string. Results are capped at max_items "+
				"(default 100, maximum 5000)."),
			mcp.WithString("query", mcp.Required(),
				mcp.Description("SQL-API query string, e.g. \"SELECT * FROM c WHERE c.active = true\".")),
			mcp.WithString("container", mcp.Required(),
				mcp.Description("Container to query.")),
			mcp.WithString("database",
				mcp.Description("Cosmos DB database name. Falls back to "+EnvCosmosDefaultDatabase+" when omitted.")),
			mcp.WithString("partition_key",
				mcp.Description("Partition key value for single-partition queries. Omit to issue a cross-partition query.")),
			mcp.WithNumber("max_items",
				mcp.Description("Maximum number of items to return (default: 100, maximum: 5000).")),
		),
		s.logged("cosmos_query_items", s.handleCosmosQueryItems),
	)

	srv.AddResourceTemplate(
		mcp.NewResourceTemplate("mssql://{schema}/{table}/columns", "MSSQL table columns",
			mcp.WithTemplateDescription("Column definitions for one MSSQL table, read from the catalog."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleTableColumnsResource,
	)

	return srv
}

// logged wraps a tool handler with per-call logging. Each invocation gets a
// correlation id so concurrent calls stay distinguishable in the log.
func (s *toolServer) logged(name string, h server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callID := uuid.NewString()
		start := time.Now()
		s.logger.Info("tool call", "tool", name, "call_id", callID)

		res, err := h(ctx, req)

		switch {
		case err != nil:
			s.logger.Error("tool call failed", "tool", name, "call_id", callID, "error", err)
		case res != nil && res.IsError:
			s.logger.Warn("tool call returned error", "tool", name, "call_id", callID, "elapsed", time.Since(start))
		default:
			s.logger.Info("tool call completed", "tool", name, "call_id", callID, "elapsed", time.Since(start))
		}
		return res, err
	}
}

// --- MSSQL tools ---

func (s *toolServer) handleMssqlListTables(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := s.cfg.RequireMssql(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	tables, err := s.mssql.ListTables(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(tables)
}

func (s *toolServer) handleMssqlExecuteQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := s.cfg.RequireMssql(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	args := req.GetArguments()
	query := stringArg(args, "query")
	if query == "" {
		return mcp.NewToolResultError(fmt.Sprintf("%v: query", ErrMissingParameter)), nil
	}
	maxRows := intArg(args, "max_rows", 0)

	rows, err := s.mssql.ExecuteQuery(ctx, query, maxRows)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rows)
}

// --- Cosmos DB tools ---

func (s *toolServer) handleCosmosListDatabases(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := s.cfg.RequireCosmos(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	names, err := s.cosmos.ListDatabases(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(names)
}

func (s *toolServer) handleCosmosListContainers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg, err := s.cfg.RequireCosmos()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	database, err := resolveDatabase(req.GetArguments(), cfg)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	names, err := s.cosmos.ListContainers(ctx, database)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(names)
}

func (s *toolServer) handleCosmosQueryItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg, err := s.cfg.RequireCosmos()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	args := req.GetArguments()
	query := stringArg(args, "query")
	if query == "" {
		return mcp.NewToolResultError(fmt.Sprintf("%v: query", ErrMissingParameter)), nil
	}
	container := stringArg(args, "container")
	if container == "" {
		return mcp.NewToolResultError(fmt.Sprintf("%v: container", ErrMissingParameter)), nil
	}
	database, err := resolveDatabase(args, cfg)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var partitionKey *string
	if pk, ok := args["partition_key"].(string); ok {
		partitionKey = &pk
	}
	maxItems := intArg(args, "max_items", 0)

	items, err := s.cosmos.QueryItems(ctx, database, container, query, partitionKey, maxItems)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(items)
}

// resolveDatabase picks the database parameter or the configured default.
// This happens before the gateway is touched, so a missing name never costs
// a network call.
func resolveDatabase(args map[string]any, cfg *CosmosConfig) (string, error) {
	if db := stringArg(args, "database"); db != "" {
		return db, nil
	}
	if cfg.DefaultDatabase != "" {
		return cfg.DefaultDatabase, nil
	}
	return "", fmt.Errorf("%w: database parameter is required when %s is not set",
		ErrMissingParameter, EnvCosmosDefaultDatabase)
}

// --- resources ---

func (s *toolServer) handleTableColumnsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if _, err := s.cfg.RequireMssql(); err != nil {
		return nil, err
	}

	schema, table, err := parseTableURI(req.Params.URI)
	if err != nil {
		return nil, err
	}

	columns, err := s.mssql.TableSchema(ctx, schema, table)
	if err != nil {
		return nil, err
	}

	text, err := json.Marshal(columns)
	if err != nil {
		return nil, fmt.Errorf("encoding schema for %s.%s: %w", schema, table, err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(text),
		},
	}, nil
}

// parseTableURI splits mssql://{schema}/{table}/columns into its parts.
func parseTableURI(uri string) (schema, table string, err error) {
	rest, ok := strings.CutPrefix(uri, "mssql://")
	if !ok {
		return "", "", fmt.Errorf("invalid resource URI %q: must start with mssql://", uri)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] != "columns" {
		return "", "", fmt.Errorf("invalid resource URI %q: expected mssql://{schema}/{table}/columns", uri)
	}
	return parts[0], parts[1], nil
}

// --- helpers ---

func jsonResult(v any) (*mcp.CallToolResult, error) {
	text, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(text)), nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return def
	}
}
