package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/opwatch/opwatch/internal/util"
)

// Operation is one in-flight external call.
type Operation struct {
	Id        string `json:"id"`
	Name      string `json:"name"`
	StartTime int64  `json:"startTime"`
}

func (o *Operation) String() string {
	return fmt.Sprintf("Operation(id=%s, name=%s, startTime=%d)", o.Id, o.Name, o.StartTime)
}

// Ledger tracks the operations that have been started but have not yet
// settled. The zero value is not usable, use New.
type Ledger struct {
	mu         sync.RWMutex
	operations map[string]*Operation
}

func New() *Ledger {
	return &Ledger{
		operations: map[string]*Operation{},
	}
}

// Add records an operation. Ids come from a fresh generator and must not
// already be present.
func (l *Ledger) Add(op Operation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, exists := l.operations[op.Id]
	util.Assert(!exists, "operation already in ledger")

	l.operations[op.Id] = &op
}

// Remove deletes the operation with the given id, absent ids are ignored.
func (l *Ledger) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.operations, id)
}

func (l *Ledger) Get(id string) (*Operation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	op, ok := l.operations[id]
	if !ok {
		return nil, false
	}

	cp := *op
	return &cp, true
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.operations)
}

// Snapshot returns a copy of all pending operations, oldest first.
func (l *Ledger) Snapshot() []*Operation {
	l.mu.RLock()
	ops := make([]*Operation, 0, len(l.operations))
	for _, op := range l.operations { // nosemgrep: range-over-map
		cp := *op
		ops = append(ops, &cp)
	}
	l.mu.RUnlock()

	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].StartTime == ops[j].StartTime {
			return ops[i].Id < ops[j].Id
		}
		return ops[i].StartTime < ops[j].StartTime
	})

	return ops
}
