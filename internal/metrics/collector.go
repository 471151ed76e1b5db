package metrics

import "time"

// User copy results
const (
	UserCopied    = "copied"
	UserUnchanged = "unchanged"
	UserRetried   = "retried"
	UserMissing   = "missing"
	UserFailed    = "failed"
	UserMemoized  = "memoized"
)

// Collector wraps metrics with helpers. A nil Collector records nothing.
type Collector struct{}

// NewCollector creates a new Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// ObserveItem records one processed database.
func (c *Collector) ObserveItem(op string, err error, elapsed time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	ItemsTotal.WithLabelValues(op, status).Inc()
	ItemDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// IncUserCopy records the result of one user document copy.
func (c *Collector) IncUserCopy(result string) {
	if c == nil {
		return
	}
	UserCopiesTotal.WithLabelValues(result).Inc()
}

// IncProgressPoll records one active task poll.
func (c *Collector) IncProgressPoll(matched bool) {
	if c == nil {
		return
	}
	label := "false"
	if matched {
		label = "true"
	}
	ProgressPollsTotal.WithLabelValues(label).Inc()
}

// IncRun records one finished run.
func (c *Collector) IncRun(op, status string) {
	if c == nil {
		return
	}
	RunsTotal.WithLabelValues(op, status).Inc()
}
