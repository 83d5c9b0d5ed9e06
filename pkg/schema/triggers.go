package schema

import (
	"sort"
	"sync"
)

// TriggerKind is the domain event kind that causes workflows to be considered.
type TriggerKind string

const (
	TriggerDiscoveryRequestCreated      TriggerKind = "discovery_request_created"
	TriggerDiscoveryRequestServed       TriggerKind = "discovery_request_served"
	TriggerDiscoveryResponseDue         TriggerKind = "discovery_response_due"
	TriggerDiscoveryResponseReceived    TriggerKind = "discovery_response_received"
	TriggerDiscoveryDeadlineApproaching TriggerKind = "discovery_deadline_approaching"

	TriggerDocumentUploaded TriggerKind = "document_uploaded"
	TriggerDocumentReviewed TriggerKind = "document_reviewed"
	TriggerDocumentFiled    TriggerKind = "document_filed"

	TriggerCaseCreated       TriggerKind = "case_created"
	TriggerCaseStatusChanged TriggerKind = "case_status_changed"
	TriggerCaseAssigned      TriggerKind = "case_assigned"

	TriggerDeadlineApproaching TriggerKind = "deadline_approaching"
	TriggerDeadlineToday       TriggerKind = "deadline_today"
	TriggerDeadlineOverdue     TriggerKind = "deadline_overdue"

	TriggerInvoiceCreated TriggerKind = "invoice_created"
	TriggerInvoiceSent    TriggerKind = "invoice_sent"

	TriggerPaymentReceived TriggerKind = "payment_received"
	TriggerPaymentOverdue  TriggerKind = "payment_overdue"

	TriggerTaskCreated   TriggerKind = "task_created"
	TriggerTaskAssigned  TriggerKind = "task_assigned"
	TriggerTaskCompleted TriggerKind = "task_completed"
	TriggerTaskOverdue   TriggerKind = "task_overdue"
)

var (
	triggerMu    sync.RWMutex
	triggerKinds = map[TriggerKind]struct{}{
		TriggerDiscoveryRequestCreated:      {},
		TriggerDiscoveryRequestServed:       {},
		TriggerDiscoveryResponseDue:         {},
		TriggerDiscoveryResponseReceived:    {},
		TriggerDiscoveryDeadlineApproaching: {},
		TriggerDocumentUploaded:             {},
		TriggerDocumentReviewed:             {},
		TriggerDocumentFiled:                {},
		TriggerCaseCreated:                  {},
		TriggerCaseStatusChanged:            {},
		TriggerCaseAssigned:                 {},
		TriggerDeadlineApproaching:          {},
		TriggerDeadlineToday:                {},
		TriggerDeadlineOverdue:              {},
		TriggerInvoiceCreated:               {},
		TriggerInvoiceSent:                  {},
		TriggerPaymentReceived:              {},
		TriggerPaymentOverdue:               {},
		TriggerTaskCreated:                  {},
		TriggerTaskAssigned:                 {},
		TriggerTaskCompleted:                {},
		TriggerTaskOverdue:                  {},
	}
)

// RegisterTriggerKind adds a trigger kind to the known set.
func RegisterTriggerKind(kind TriggerKind) {
	if kind == "" {
		return
	}
	triggerMu.Lock()
	defer triggerMu.Unlock()
	triggerKinds[kind] = struct{}{}
}

// IsKnown reports whether the trigger kind has been registered.
func (k TriggerKind) IsKnown() bool {
	triggerMu.RLock()
	defer triggerMu.RUnlock()
	_, ok := triggerKinds[k]
	return ok
}

// TriggerKinds returns all known trigger kinds, sorted.
func TriggerKinds() []TriggerKind {
	triggerMu.RLock()
	defer triggerMu.RUnlock()
	kinds := make([]TriggerKind, 0, len(triggerKinds))
	for k := range triggerKinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
