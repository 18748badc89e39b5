// Package credential selects which backend credential serves an exchange.
//
// A credential is eligible when it is enabled, its model scope contains the
// requested model, and its role scope shares at least one role with the
// caller. Pool.Pick returns every eligible credential ordered by the
// configured Strategy; the orchestrator uses the first and may retry once
// with the second after a transport failure.
//
// Administrative changes (Upsert, SetStatus) are read on the next selection.
// An exchange already holding a credential keeps using it.
package credential
