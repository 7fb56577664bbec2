// Package ws implements the WebSocket hub that streams the status page.
//
// New(store, branding, interval) creates a Hub.
// Hub.Run(ctx) checks the store every interval and broadcasts the tree when
// an aggregation pass ran since the last broadcast; it blocks until ctx is
// cancelled, then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// status immediately on connect, then streams updates.
//
// Message format sent to clients:
//
//	{
//	  "event": "status",
//	  "data":  { /* same schema as GET /api/v1/status */ }
//	}
//
// The hub is mounted at /ws/stream by the server.
package ws
