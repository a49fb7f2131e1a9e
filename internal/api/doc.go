// Package api provides the HTTP REST API for doorgate.
//
// Public routes cover health, login, registration and the caller's lockout
// status. Everything else requires an opaque session token, sent either as
// "Authorization: Bearer <token>" or in the X-Session-Token header. The
// /admin routes additionally require the ADMIN role.
//
// Login outcomes map to status codes: success 200, invalid credentials
// 401, disabled account 403, blocked address 429.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
