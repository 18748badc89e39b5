// Package gateway wires the chat-gateway components and serves the HTTP API.
//
// # Overview
//
// The Gateway owns the store, the credential pool, the usage ledger, the reply
// orchestrator, the admission governor and the verification cooldown. New
// builds all of them from a config.Config; Run serves HTTP until the context
// is canceled and then shuts everything down.
//
// # HTTP API
//
// Every API route is registered twice, at the root and under /api:
//
//   - POST /session - site snapshot and the chat models visible to the caller
//   - POST /user-send-verification-code - verification bucket, cooldown, delivery
//   - GET /chatrooms, POST /room-create, /room-rename, /room-prompt, /room-context, /room-delete
//   - GET /chat-history, GET /chat-response-history
//   - POST /chat-process - streamed reply (chat bucket)
//   - POST /chat-abort - abort the caller's running reply (chat bucket)
//   - POST /chat-delete, /chat-clear, /chat-clear-all
//   - POST /statistics/by-day
//   - GET /setting-keys, POST /setting-key-upsert, /setting-key-status (Admin only)
//   - GET /health, GET /health/ready
//
// Non-streaming replies use the envelope:
//
//	{"status": "Success" | "Fail" | "Unauthorized", "message": ..., "data": ...}
//
// Application failures are reported as Fail on HTTP 200 and are not counted
// against admission buckets.
//
// # Streaming
//
// chat-process answers with application/octet-stream. Each chunk is one JSON
// object; the first is written bare and later ones are newline-prefixed. The
// final write is the full result including usage:
//
//	{"id":"...","conversationId":"...","text":"Hel","detail":{"choices":[{"finish_reason":null}]}}
//	{"id":"...","conversationId":"...","text":"Hello","detail":{"choices":[{"finish_reason":"stop"}],"usage":{...}}}
//
// A failure after streaming began is written as {"message": "..."}.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	err = gw.Run(ctx)
package gateway
