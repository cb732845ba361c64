package bulk

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/Aman-CERP/indexsync/internal/store"
)

// Failure is one failed operation of a bulk response.
type Failure struct {
	Action store.Action
	ID     string
	Error  store.BulkError
}

// Classify extracts the failed items of a bulk response, in response order.
func Classify(items []store.BulkItem) []Failure {
	var failures []Failure
	for _, item := range items {
		if !item.Failed() {
			continue
		}
		failures = append(failures, Failure{Action: item.Action, ID: item.ID, Error: *item.Error})
	}
	return failures
}

// Signature returns the literal error payload used to group failures.
func Signature(e store.BulkError) string {
	b, err := json.Marshal(e)
	if err != nil {
		return e.Type + ": " + e.Reason
	}
	return string(b)
}

// ParseSignature decodes a signature produced by Signature.
func ParseSignature(sig string) (store.BulkError, bool) {
	var e store.BulkError
	if err := json.Unmarshal([]byte(sig), &e); err != nil {
		return store.BulkError{}, false
	}
	return e, true
}

// ErrorMap groups failed ids by action, then by error signature.
type ErrorMap map[store.Action]map[string][]string

// Group builds an ErrorMap from failures.
func Group(failures []Failure) ErrorMap {
	m := make(ErrorMap)
	for _, f := range failures {
		m.Add(f.Action, Signature(f.Error), f.ID)
	}
	return m
}

// Add records ids under action and signature.
func (m ErrorMap) Add(action store.Action, signature string, ids ...string) {
	if len(ids) == 0 {
		return
	}
	bySig, ok := m[action]
	if !ok {
		bySig = make(map[string][]string)
		m[action] = bySig
	}
	bySig[signature] = append(bySig[signature], ids...)
}

// Merge adds every entry of other into m.
func (m ErrorMap) Merge(other ErrorMap) {
	for action, bySig := range other {
		for sig, ids := range bySig {
			m.Add(action, sig, ids...)
		}
	}
}

// Len returns the number of failed ids across all actions and signatures.
func (m ErrorMap) Len() int {
	n := 0
	for _, bySig := range m {
		for _, ids := range bySig {
			n += len(ids)
		}
	}
	return n
}

// Empty reports whether no failures are recorded.
func (m ErrorMap) Empty() bool {
	return m.Len() == 0
}

// IDsOfType returns the ids failing under action with the given error type.
func (m ErrorMap) IDsOfType(action store.Action, errType string) []string {
	var ids []string
	for sig, sigIDs := range m[action] {
		if e, ok := ParseSignature(sig); ok && e.Type == errType {
			ids = append(ids, sigIDs...)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Remove drops ids from every signature of action, pruning empty entries.
func (m ErrorMap) Remove(action store.Action, ids []string) {
	bySig, ok := m[action]
	if !ok {
		return
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	for sig, sigIDs := range bySig {
		kept := sigIDs[:0:0]
		for _, id := range sigIDs {
			if _, ok := drop[id]; !ok {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(bySig, sig)
		} else {
			bySig[sig] = kept
		}
	}
	if len(bySig) == 0 {
		delete(m, action)
	}
}

// Counts returns action -> signature -> number of affected ids.
func (m ErrorMap) Counts() map[store.Action]map[string]int {
	out := make(map[store.Action]map[string]int, len(m))
	for action, bySig := range m {
		out[action] = make(map[string]int, len(bySig))
		for sig, ids := range bySig {
			out[action][sig] = len(ids)
		}
	}
	return out
}

// String renders the map one signature per line, sorted for stable output.
func (m ErrorMap) String() string {
	var lines []string
	for action, bySig := range m {
		for sig, ids := range bySig {
			lines = append(lines, fmt.Sprintf("%s %s: %d", action, sig, len(ids)))
		}
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}
