package shared

import "fmt"

// ReconcileLockKey builds the redis key guarding one scheduled reconciliation of period and axis.
func ReconcileLockKey(period, axis string) string {
	return fmt.Sprintf("gl:reconcile:%s:%s:lock", period, axis)
}
