package bulk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/indexsync/internal/store"
)

func missing(id string) *store.BulkError {
	return &store.BulkError{Type: store.ErrTypeDocumentMissing, Reason: "[" + id + "]: document missing"}
}

func TestClassify_OnlyFailedItems(t *testing.T) {
	items := []store.BulkItem{
		{Action: store.ActionUpdate, ID: "1", Status: store.StatusOK},
		{Action: store.ActionUpdate, ID: "2", Status: store.StatusNotFound, Error: missing("2")},
		{Action: store.ActionDelete, ID: "3", Status: store.StatusNotFound},
	}

	failures := Classify(items)

	require.Len(t, failures, 1)
	assert.Equal(t, "2", failures[0].ID)
	assert.Equal(t, store.ActionUpdate, failures[0].Action)
}

func TestGroup_ByActionThenSignature(t *testing.T) {
	mapping := store.BulkError{Type: store.ErrTypeMapperParsing, Reason: "failed to parse"}
	failures := []Failure{
		{Action: store.ActionIndex, ID: "1", Error: mapping},
		{Action: store.ActionIndex, ID: "2", Error: mapping},
		{Action: store.ActionUpdate, ID: "3", Error: *missing("3")},
	}

	m := Group(failures)

	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []string{"1", "2"}, m[store.ActionIndex][Signature(mapping)])
	assert.Len(t, m[store.ActionUpdate], 1)

	counts := m.Counts()
	assert.Equal(t, 2, counts[store.ActionIndex][Signature(mapping)])
}

func TestSignature_RoundTrip(t *testing.T) {
	e := store.BulkError{Type: "t", Reason: "r"}
	sig := Signature(e)
	assert.Equal(t, `{"type":"t","reason":"r"}`, sig)

	parsed, ok := ParseSignature(sig)
	require.True(t, ok)
	assert.Equal(t, e, parsed)

	_, ok = ParseSignature("not json")
	assert.False(t, ok)
}

func TestErrorMap_IDsOfTypeAndRemove(t *testing.T) {
	m := Group([]Failure{
		{Action: store.ActionUpdate, ID: "b", Error: *missing("b")},
		{Action: store.ActionUpdate, ID: "a", Error: *missing("a")},
		{Action: store.ActionUpdate, ID: "c", Error: store.BulkError{Type: store.ErrTypeMapperParsing, Reason: "x"}},
	})

	ids := m.IDsOfType(store.ActionUpdate, store.ErrTypeDocumentMissing)
	assert.Equal(t, []string{"a", "b"}, ids)

	m.Remove(store.ActionUpdate, ids)
	assert.Equal(t, 1, m.Len())

	m.Remove(store.ActionUpdate, []string{"c"})
	assert.True(t, m.Empty())
	assert.NotContains(t, m, store.ActionUpdate)
}

func TestErrorMap_Merge(t *testing.T) {
	a := ErrorMap{}
	a.Add(store.ActionIndex, "sig", "1")
	b := ErrorMap{}
	b.Add(store.ActionIndex, "sig", "2")
	b.Add(store.ActionDelete, "other", "3")

	a.Merge(b)

	assert.Equal(t, []string{"1", "2"}, a[store.ActionIndex]["sig"])
	assert.Equal(t, 3, a.Len())
	assert.Contains(t, a.String(), "delete other: 1")
}
