package storage

// ApiStore defines the non-privileged operations needed by the read side of the API.
type ApiStore interface {
	AccountStore
	TransactionReader
	ConfigStore
}

// Storage defines the root interface for the entire data layer.
// Components should depend on the more granular interfaces instead of this one.
type Storage interface {
	ApiStore
	LedgerWriter
	OutboxStore
}
