package feed

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ItemOutcome is the reconciled outcome of one submitted item
type ItemOutcome string

const (
	ItemOutcomeSuccess ItemOutcome = "SUCCESS"
	ItemOutcomeFailure ItemOutcome = "FAILURE"
	// ItemOutcomePending covers sub-batches without a terminal response, poll timeouts included.
	ItemOutcomePending ItemOutcome = "PENDING"
	// ItemOutcomeSubmitFailed means the feed never reached the marketplace.
	ItemOutcomeSubmitFailed ItemOutcome = "SUBMIT_FAILED"
	// ItemOutcomeExcluded marks a pre-submission failure.
	ItemOutcomeExcluded ItemOutcome = "EXCLUDED"
	// ItemOutcomeUnconfirmed marks an item a DONE response never mentions.
	ItemOutcomeUnconfirmed ItemOutcome = "UNCONFIRMED"
)

// ItemResult is the per-item line of a BatchReport
type ItemResult struct {
	SourceItemID uuid.UUID     `json:"source_item_id"`
	SKU          string        `json:"sku"`
	SubBatchID   *uuid.UUID    `json:"sub_batch_id,omitempty"`
	Outcome      ItemOutcome   `json:"outcome"`
	Code         string        `json:"code,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
	State        SubBatchState `json:"sub_batch_state,omitempty"`
}

// SubBatchContribution says whether a SubBatch contributed confirmed data
type SubBatchContribution struct {
	SubBatchID uuid.UUID        `json:"sub_batch_id"`
	Sequence   int              `json:"sequence"`
	State      SubBatchState    `json:"state"`
	FeedID     string           `json:"feed_id,omitempty"`
	Status     ProcessingStatus `json:"processing_status,omitempty"`
	ItemCount  int              `json:"item_count"`
}

// ReconciliationMismatch records a divergence between the marketplace summary
// and the per-item results extracted from the same response, or submitted SKUs
// those results leave out.
type ReconciliationMismatch struct {
	SubBatchID      uuid.UUID `json:"sub_batch_id"`
	FeedID          string    `json:"feed_id"`
	// ReportedInvalid is -1 when the response carried no summary.
	ReportedInvalid int `json:"reported_invalid"`
	ExtractedFailed int `json:"extracted_failed"`
	// UnconfirmedSKUs are submitted SKUs absent from the per-item results.
	UnconfirmedSKUs []string `json:"unconfirmed_skus,omitempty"`
}

// BatchReport is the reconciled view of a Batch. It is derived, never authoritative.
type BatchReport struct {
	BatchID           uuid.UUID                `json:"batch_id"`
	SuccessCount      int                      `json:"success_count"`
	FailureCount      int                      `json:"failure_count"`
	PendingCount      int                      `json:"pending_count"`
	SubmitFailedCount int                      `json:"submit_failed_count"`
	ExcludedCount     int                      `json:"excluded_count"`
	UnconfirmedCount  int                      `json:"unconfirmed_count"`
	PerItemResults    []ItemResult             `json:"per_item_results"`
	Contributing      []SubBatchContribution   `json:"contributing"`
	Missing           []SubBatchContribution   `json:"missing"`
	Mismatches        []ReconciliationMismatch `json:"mismatches,omitempty"`
}

// IsComplete returns true when every SubBatch contributed a terminal response
// or failed to submit, and every submitted item has a confirmed outcome.
func (r *BatchReport) IsComplete() bool {
	return r.PendingCount == 0 && r.UnconfirmedCount == 0
}

// ConfirmedFailures lists only failures backed by a terminal marketplace response
func (r *BatchReport) ConfirmedFailures() []ItemResult {
	var out []ItemResult
	for _, res := range r.PerItemResults {
		if res.Outcome == ItemOutcomeFailure {
			out = append(out, res)
		}
	}
	return out
}

// Err returns ErrPartialData when some items have no known outcome yet
func (r *BatchReport) Err() error {
	if r.IsComplete() {
		return nil
	}
	if r.UnconfirmedCount > 0 {
		return fmt.Errorf("%w: %d items in %d sub-batches, %d items missing from processing reports",
			ErrPartialData, r.PendingCount, len(r.pendingSubBatches()), r.UnconfirmedCount)
	}
	return fmt.Errorf("%w: %d items in %d sub-batches", ErrPartialData, r.PendingCount, len(r.pendingSubBatches()))
}

func (r *BatchReport) pendingSubBatches() []SubBatchContribution {
	var out []SubBatchContribution
	for _, m := range r.Missing {
		if m.State != SubBatchStateSubmitFailed {
			out = append(out, m)
		}
	}
	return out
}

// ReconciliationAggregator merges SubBatch responses into a BatchReport
type ReconciliationAggregator struct{}

// NewReconciliationAggregator creates an aggregator
func NewReconciliationAggregator() *ReconciliationAggregator {
	return &ReconciliationAggregator{}
}

// Aggregate tallies every SubBatch of the batch. SubBatches without a terminal
// response are pending, never failed.
func (a *ReconciliationAggregator) Aggregate(batch *Batch) *BatchReport {
	report := &BatchReport{
		BatchID:        batch.ID,
		PerItemResults: []ItemResult{},
		Contributing:   []SubBatchContribution{},
		Missing:        []SubBatchContribution{},
	}

	subs := append([]*SubBatch(nil), batch.SubBatches...)
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].Sequence < subs[j].Sequence })

	for _, sb := range subs {
		contribution := SubBatchContribution{
			SubBatchID: sb.ID,
			Sequence:   sb.Sequence,
			State:      sb.State,
			FeedID:     sb.FeedID,
			ItemCount:  len(sb.Items),
		}

		switch {
		case sb.HasResponse():
			contribution.Status = sb.APIResponse.Status
			report.Contributing = append(report.Contributing, contribution)
			a.tallyResponse(report, sb)
		case sb.State == SubBatchStateSubmitFailed:
			report.Missing = append(report.Missing, contribution)
			a.tallyUnresolved(report, sb, ItemOutcomeSubmitFailed, sb.LastError)
		default:
			report.Missing = append(report.Missing, contribution)
			a.tallyUnresolved(report, sb, ItemOutcomePending, pendingReason(sb))
		}
	}

	for _, f := range batch.PreSubmissionFailures {
		report.ExcludedCount++
		report.PerItemResults = append(report.PerItemResults, ItemResult{
			SourceItemID: f.SourceItemID,
			SKU:          f.SKU,
			Outcome:      ItemOutcomeExcluded,
			Code:         f.Kind,
			Reason:       f.Reason,
		})
	}

	return report
}

func (a *ReconciliationAggregator) tallyResponse(report *BatchReport, sb *SubBatch) {
	resp := sb.APIResponse
	worst := worstResultBySKU(resp.Results)
	extractedFailed := 0
	var unconfirmed []string
	subID := sb.ID

	for _, item := range sb.Items {
		res := ItemResult{
			SourceItemID: item.SourceItemID,
			SKU:          item.Identity.SKU,
			SubBatchID:   &subID,
			State:        sb.State,
		}
		switch resp.Status {
		case ProcessingStatusDone:
			entry, ok := worst[item.Identity.SKU]
			switch {
			case !ok:
				res.Outcome = ItemOutcomeUnconfirmed
				res.Reason = fmt.Sprintf("feed %s finished without a result for this item; outcome unknown", sb.FeedID)
				unconfirmed = append(unconfirmed, item.Identity.SKU)
			case entry.result.Status == ItemResultError:
				res.Outcome = ItemOutcomeFailure
				res.Code = entry.result.Code
				res.Reason = entry.result.Message
			default:
				res.Outcome = ItemOutcomeSuccess
			}
			if ok {
				res.Warnings = entry.warnings
			}
		default:
			res.Outcome = ItemOutcomeFailure
			res.Code = string(resp.Status)
			res.Reason = fmt.Sprintf("feed %s ended with status %s", sb.FeedID, resp.Status)
		}

		switch res.Outcome {
		case ItemOutcomeFailure:
			report.FailureCount++
			extractedFailed++
		case ItemOutcomeUnconfirmed:
			report.UnconfirmedCount++
		default:
			report.SuccessCount++
		}
		report.PerItemResults = append(report.PerItemResults, res)
	}

	if resp.Status != ProcessingStatusDone {
		return
	}
	summaryDiverges := resp.Summary != nil && resp.Summary.MessagesInvalid != extractedFailed
	if !summaryDiverges && len(unconfirmed) == 0 {
		return
	}
	mismatch := ReconciliationMismatch{
		SubBatchID:      sb.ID,
		FeedID:          sb.FeedID,
		ReportedInvalid: -1,
		ExtractedFailed: extractedFailed,
		UnconfirmedSKUs: unconfirmed,
	}
	if resp.Summary != nil {
		mismatch.ReportedInvalid = resp.Summary.MessagesInvalid
	}
	report.Mismatches = append(report.Mismatches, mismatch)
}

func (a *ReconciliationAggregator) tallyUnresolved(report *BatchReport, sb *SubBatch, outcome ItemOutcome, reason string) {
	subID := sb.ID
	for _, item := range sb.Items {
		if outcome == ItemOutcomeSubmitFailed {
			report.SubmitFailedCount++
		} else {
			report.PendingCount++
		}
		report.PerItemResults = append(report.PerItemResults, ItemResult{
			SourceItemID: item.SourceItemID,
			SKU:          item.Identity.SKU,
			SubBatchID:   &subID,
			Outcome:      outcome,
			Reason:       reason,
			State:        sb.State,
		})
	}
}

func pendingReason(sb *SubBatch) string {
	switch sb.State {
	case SubBatchStatePollTimeout:
		return "status polling gave up before a terminal status; outcome unknown"
	case SubBatchStateBuilt, SubBatchStateSubmitting:
		return "not yet submitted"
	default:
		return "awaiting marketplace processing report"
	}
}

type skuEntry struct {
	result   FeedItemResult
	warnings []string
}

// worstResultBySKU keeps the most severe result per SKU and collects warnings.
func worstResultBySKU(results []FeedItemResult) map[string]skuEntry {
	out := make(map[string]skuEntry, len(results))
	for _, r := range results {
		entry, ok := out[r.SKU]
		if !ok || r.Status.severity() > entry.result.Status.severity() {
			entry.result = r
		}
		if r.Status == ItemResultWarning && r.Message != "" {
			entry.warnings = append(entry.warnings, r.Message)
		}
		out[r.SKU] = entry
	}
	return out
}
