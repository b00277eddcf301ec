// Package feed contains the Feed bounded context: batch submission of mapped
// items through the marketplace's asynchronous feed API and reconciliation of
// the per-item outcomes.
//
// Key concepts:
//   - Batch / SubBatch: a submission request split into independently submitted slices
//   - SubBatchState: BUILT → SUBMITTING → SUBMITTED → POLLING → PROCESSED,
//     with SUBMIT_FAILED and POLL_TIMEOUT as the other terminal states
//   - BatchBuilder: splits mapped items by item count and estimated payload size
//   - ReconciliationAggregator: merges sub-batch responses into a BatchReport,
//     keeping "no answer yet" distinct from failure
//   - MarketplaceClient: port for the marketplace feed API
package feed
