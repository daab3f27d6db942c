package stellarconnect

import "fmt"

// legalTransitions is the SEP-31 transaction state machine as anchors are
// expected to walk it. Each key is a "from" state, and the value is the set of
// valid "to" states. Terminal states have no outgoing transitions.
var legalTransitions = map[PaymentStatus]map[PaymentStatus]bool{
	StatusPendingSender: {
		StatusPendingAnchor:                true,
		StatusPendingStellar:               true,
		StatusPendingReceiver:              true,
		StatusPendingCustomerInfoUpdate:    true,
		StatusPendingTransactionInfoUpdate: true,
		StatusExpired:                      true,
		StatusError:                        true,
		StatusRefunded:                     true,
	},
	StatusPendingAnchor: {
		StatusPendingStellar:               true,
		StatusPendingReceiver:              true,
		StatusPendingExternal:              true,
		StatusPendingCustomerInfoUpdate:    true,
		StatusPendingTransactionInfoUpdate: true,
		StatusCompleted:                    true,
		StatusError:                        true,
		StatusRefunded:                     true,
	},
	StatusPendingStellar: {
		StatusPendingAnchor:   true,
		StatusPendingReceiver: true,
		StatusPendingExternal: true,
		StatusCompleted:       true,
		StatusError:           true,
		StatusRefunded:        true,
	},
	StatusPendingReceiver: {
		StatusPendingExternal:              true,
		StatusPendingCustomerInfoUpdate:    true,
		StatusPendingTransactionInfoUpdate: true,
		StatusCompleted:                    true,
		StatusError:                        true,
		StatusRefunded:                     true,
	},
	StatusPendingExternal: {
		StatusPendingReceiver: true,
		StatusCompleted:       true,
		StatusError:           true,
		StatusRefunded:        true,
	},
	StatusPendingCustomerInfoUpdate: {
		StatusPendingAnchor:   true,
		StatusPendingReceiver: true,
		StatusError:           true,
		StatusRefunded:        true,
	},
	StatusPendingTransactionInfoUpdate: {
		StatusPendingAnchor:   true,
		StatusPendingReceiver: true,
		StatusError:           true,
		StatusRefunded:        true,
	},
	StatusCompleted: {},
	StatusError:     {},
	StatusRefunded:  {},
	StatusExpired:   {},
}

// ValidateTransition checks whether an anchor may move a transaction from
// "from" to "to". Reporting the same status again is always legal.
//
// The client never rejects what an anchor reports; this is used to flag
// out-of-order reports in logs and to keep scripted test anchors honest.
func ValidateTransition(from, to PaymentStatus) error {
	if from == to {
		return nil
	}
	validToStates, exists := legalTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !validToStates[to] {
		return fmt.Errorf("illegal transition from %s to %s", from, to)
	}
	return nil
}
