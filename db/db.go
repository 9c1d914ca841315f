package db

type IDB interface {
	Put(key []byte, value []byte) error
	// Iterate calls fn for every key with prefix, in key order.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}
