package store

import "github.com/Masterplan16/friday-trust/internal/governance"

var (
	_ governance.ReceiptStore = (*Store)(nil)
	_ governance.RuleStore    = (*Store)(nil)
	_ governance.MetricStore  = (*Store)(nil)

	_ governance.ReceiptStore = (*MemoryStore)(nil)
	_ governance.RuleStore    = (*MemoryStore)(nil)
	_ governance.MetricStore  = (*MemoryStore)(nil)
)
