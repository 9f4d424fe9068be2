package main

import "errors"

// Internal error taxonomy. Handlers branch on these with errors.Is; the MCP
// boundary only ever sees the flattened error string.
var (
	// ErrNotConfigured: a tool targeted a store whose configuration was
	// never provided.
	ErrNotConfigured = errors.New("store not configured")

	// ErrAuthUnavailable: the Cosmos endpoint is configured but no account
	// key is available, so no document operation can authenticate.
	ErrAuthUnavailable = errors.New("authentication not configured")

	// ErrMissingParameter: a required tool parameter was absent and no
	// configured default could substitute for it.
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrConnection: opening or handshaking a connection to a store failed.
	ErrConnection = errors.New("connection failed")

	// ErrQuery: the store accepted the connection but rejected or failed to
	// execute the operation. The driver message is preserved verbatim.
	ErrQuery = errors.New("query failed")
)
