package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Circulation holds counters for the borrow/return lifecycle.
type Circulation struct {
	BorrowsCreated  prometheus.Counter
	ReturnsClosed   prometheus.Counter
	AlreadyClosed   prometheus.Counter
	PenaltyAssessed prometheus.Counter
	DateParseErrors prometheus.Counter
	UnmatchedBooks  prometheus.Counter
	Reconciled      prometheus.Counter
}

// NewCirculation registers the counters on reg. Tests pass prometheus.NewRegistry().
func NewCirculation(reg prometheus.Registerer) *Circulation {
	f := promauto.With(reg)
	return &Circulation{
		BorrowsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "libris_borrows_created_total",
			Help: "Borrow transactions opened",
		}),
		ReturnsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "libris_returns_closed_total",
			Help: "Borrow transactions closed by a return",
		}),
		AlreadyClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "libris_returns_already_closed_total",
			Help: "Return attempts on an already closed borrow",
		}),
		PenaltyAssessed: f.NewCounter(prometheus.CounterOpts{
			Name: "libris_penalty_assessed_total",
			Help: "Sum of penalties fixed at return time",
		}),
		DateParseErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "libris_penalty_date_parse_errors_total",
			Help: "Penalty computations that hit an unparseable due date",
		}),
		UnmatchedBooks: f.NewCounter(prometheus.CounterOpts{
			Name: "libris_returns_unmatched_book_total",
			Help: "Returns whose book row could not be restocked",
		}),
		Reconciled: f.NewCounter(prometheus.CounterOpts{
			Name: "libris_returns_reconciled_total",
			Help: "Return records back-filled by the reconciliation sweep",
		}),
	}
}
