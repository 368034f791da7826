package storage

// Capabilities reports which optional behaviors a Storage implementation
// supports, so the scheduler and executor pool can select strategies
// without a type switch on the concrete backend (spec §6: "an optional
// notify/subscribe pair", §4.2: "If the backend lacks skip-locked
// semantics, the worker performs a conditional UPDATE").
type Capabilities struct {
	// SkipLocked is true when ClaimReady uses SELECT ... FOR UPDATE SKIP
	// LOCKED internally (sqlstore), or claims under a single exclusive
	// process-local lock (memstore). False means it uses the
	// compare-and-set version-column fallback (sqlitestore).
	SkipLocked bool

	// Notify is true when the backend can wake idle workers via a push
	// channel rather than relying purely on poll-interval sweeps.
	Notify bool

	// Backend names the compiled driver, used in BackendMismatchError
	// messages and logging ("sqlite", "mysql", "memory").
	Backend string
}
