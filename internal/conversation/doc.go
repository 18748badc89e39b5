// Package conversation runs chat exchanges between callers and the
// completion backend.
//
// # Overview
//
// The Orchestrator sits between the HTTP handlers and the backend client.
// For each prompt it checks the room, audits the content, records the
// message, selects credentials from the pool, streams the answer to the
// caller and persists the outcome.
//
//	orch := conversation.New(conversation.Deps{
//	    Store:  s,
//	    Pool:   pool,
//	    Ledger: ledger,
//	    Client: client,
//	}, settings)
//	outcome, err := orch.Process(ctx, req, sink)
//
// # Exchange Lifecycle
//
// An exchange moves through pending, sending, streaming and finalizing
// before ending as completed, aborted or failed. Finalization runs exactly
// once, on a context detached from the caller, so a disconnected client
// still gets its answer stored. Regenerating an answered message keeps the
// previous answer as an alternative.
//
// # Aborting
//
// Each caller has at most one running exchange, tracked by the Registry.
// Abort cancels it and hands over the text the caller already saw; the
// exchange persists that text when it finalizes.
//
// # History
//
// History and ResponseAt build the chat history view, hiding the prompt or
// answer side of a message when that side is soft-deleted.
package conversation
