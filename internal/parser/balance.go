package parser

import (
	"fmt"
)

// CheckBalance verifies that the opening balance plus the signed transaction
// amounts reaches every running balance the source carried and finally the
// closing balance. Comparison is exact.
func (p *ParsedStatement) CheckBalance() error {
	running := p.OpeningBalance
	for i, tx := range p.Transactions {
		next, err := running.Add(tx.Amount)
		if err != nil {
			return fmt.Errorf("CheckBalance: entry %d: %w", i, err)
		}
		running = next
		if tx.RunningBalance != nil && !tx.RunningBalance.Equal(running) {
			return &BalanceMismatchError{Expected: *tx.RunningBalance, Actual: running, Index: i}
		}
	}
	if !p.ClosingBalance.Equal(running) {
		return &BalanceMismatchError{Expected: p.ClosingBalance, Actual: running, Index: -1}
	}
	return nil
}
