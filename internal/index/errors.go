package index

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/indexsync/internal/bulk"
	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
)

// ErrImportFailed matches every *ImportFailedError with errors.Is.
var ErrImportFailed = syncerr.New(syncerr.ErrCodeImportFailed, "import failed", nil)

// ImportFailedError is returned by strict imports when per-document errors
// remain after failover.
type ImportFailedError struct {
	Index  string
	Errors bulk.ErrorMap
}

func (e *ImportFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "import failed for index %s: %d documents", e.Index, e.Errors.Len())
	for _, line := range strings.Split(e.Errors.String(), "\n") {
		if line != "" {
			b.WriteString("\n  ")
			b.WriteString(line)
		}
	}
	return b.String()
}

// Unwrap exposes the structured error so errors.Is and the error helpers work.
func (e *ImportFailedError) Unwrap() error {
	return syncerr.New(syncerr.ErrCodeImportFailed, fmt.Sprintf("import failed for index %s", e.Index), nil).
		WithDetail("index", e.Index).
		WithDetail("failed", fmt.Sprint(e.Errors.Len())).
		WithSuggestion("Inspect the error signatures and fix the offending documents")
}
