package storage

import "github.com/google/uuid"

// refNamespace scopes the deterministic ids derived from external references.
var refNamespace = uuid.MustParse("6f1d3c0e-8d1e-4c55-9a3b-5f7b2c1e9a42")

// NewTransactionID returns the id for a new transaction. Rows carrying an external
// reference get an id derived from it, so the row key itself is the idempotency key.
func NewTransactionID(externalRef string) string {
	if externalRef == "" {
		return uuid.New().String()
	}
	return uuid.NewSHA1(refNamespace, []byte(externalRef)).String()
}
