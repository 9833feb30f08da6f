package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

var (
	// ErrNotFound means no state was saved yet.
	ErrNotFound = errors.New("record not found")

	// ErrTransactionConflict means two writers raced on the state record.
	// The persister's next write supersedes the lost one.
	ErrTransactionConflict = errors.New("transaction conflict")
)

// queryErrorKinds maps server message fragments to sentinels.
var queryErrorKinds = []struct {
	fragment string
	sentinel error
}{
	{"Transaction conflict", ErrTransactionConflict},
}

// wrapQueryError tags SurrealDB query errors with a sentinel when the
// message is recognized. Other errors pass through unchanged.
func wrapQueryError(err error) error {
	var qe *surrealdb.QueryError
	if !errors.As(err, &qe) {
		return err
	}
	for _, k := range queryErrorKinds {
		if strings.Contains(qe.Message, k.fragment) {
			return fmt.Errorf("%w: %s", k.sentinel, qe.Message)
		}
	}
	return err
}
