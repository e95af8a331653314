package rank

import "fmt"

// ItemError is returned when the texts of an item could not be embedded.
type ItemError struct {
	ID  string
	Err error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("rank: failed to embed item %q: %v", e.ID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// QueryError is returned when the query could not be embedded.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("rank: failed to embed query: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
