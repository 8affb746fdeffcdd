// Package wifiwatch is the client session and realtime synchronization layer
// for a WiFi device monitoring service. It authenticates a user, keeps the
// short-lived access token valid across an unbounded session, issues
// authenticated REST requests, and maintains a live websocket event stream
// that keeps in-memory views (devices, alerts, dashboard counters) consistent
// with server state without polling.
//
// The layer is assembled from explicitly constructed parts:
//
//	store := tokenstore.NewMemoryStore()
//	mgr, _ := session.NewManager(baseURL, store)
//	disp, _ := transport.NewDispatcher(baseURL, mgr)
//	client, _ := api.NewClient(disp)
//	ch, _ := events.NewChannel(wsURL, events.WithAuthorizer(mgr))
//
// The root package holds only the shared error taxonomy.
package wifiwatch
