package mstbake

import "sync/atomic"

// Ledger 待暂存组计数，归零时恰好触发一次
type Ledger struct {
	pending atomic.Int64
	fired   atomic.Bool
}

func NewLedger(n int) *Ledger {
	l := &Ledger{}
	if n > 0 {
		l.pending.Store(int64(n))
	}
	return l
}

func (l *Ledger) Pending() int {
	return int(l.pending.Load())
}

// Done 标记一个组已暂存，计数归零的那次调用返回 true；计数已为零时不再递减
func (l *Ledger) Done() bool {
	for {
		v := l.pending.Load()
		if v <= 0 {
			return false
		}
		if l.pending.CompareAndSwap(v, v-1) {
			if v-1 == 0 {
				return l.fired.CompareAndSwap(false, true)
			}
			return false
		}
	}
}

// Fire 计数为零且尚未触发时返回 true，用于没有任何组的情况
func (l *Ledger) Fire() bool {
	if l.pending.Load() != 0 {
		return false
	}
	return l.fired.CompareAndSwap(false, true)
}

func (l *Ledger) Fired() bool {
	return l.fired.Load()
}
