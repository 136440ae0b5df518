// Package httpapi exposes the ledger's commands and queries over HTTP.
//
// Caller identity comes from the X-Participant header. The server trusts it
// as-is: authentication belongs to whatever sits in front of this service.
//
// Ledger errors map to HTTP statuses by code:
//
//	NOT_FOUND         404
//	INVALID_STATE     409
//	UNAUTHORIZED      403
//	INVALID_ARGUMENT  400
//	DUPLICATE_ACTION  409
//	EXPIRED           410
//
// GET /v1/events returns the durable event log; the same path upgraded to a
// WebSocket streams committed events as they happen.
package httpapi
