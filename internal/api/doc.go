// Package api exposes the fpcore control surface over HTTP and WebSocket.
//
// REST routes live under /api/v1 and require an HS256 bearer token, except
// /health. The WebSocket hub streams the same events the MQTT publisher
// sends; browser clients subscribe to topic patterns and may bind a
// session, whose reservations are released when the socket closes.
//
//	hub := api.NewHub(cfg.WebSocket, logger, registry)
//	go hub.Run(ctx)
//	server, err := api.New(api.Deps{Hub: hub, ...})
//	server.Start(ctx)
//	defer server.Close()
package api
