package storage

// Space names a keyspace inside the shared database.
type Space string

const (
	// KeySpace holds sealed private keys, one per wallet id.
	KeySpace Space = "k/"
	// JournalSpace holds transfers awaiting a ledger write or a receipt.
	JournalSpace Space = "j/"
)

// Namespace is a view of a DB restricted to one Space. Keys passed in and
// handed back are relative to the space.
type Namespace struct {
	inner DB
	space []byte
}

// Namespaced returns the view of db under space.
func Namespaced(db DB, space Space) *Namespace {
	return &Namespace{inner: db, space: []byte(space)}
}

func (n *Namespace) key(k []byte) []byte {
	out := make([]byte, 0, len(n.space)+len(k))
	return append(append(out, n.space...), k...)
}

func (n *Namespace) Get(key []byte) ([]byte, error) { return n.inner.Get(n.key(key)) }

func (n *Namespace) Put(key, value []byte) error { return n.inner.Put(n.key(key), value) }

func (n *Namespace) Delete(key []byte) error { return n.inner.Delete(n.key(key)) }

func (n *Namespace) Has(key []byte) (bool, error) { return n.inner.Has(n.key(key)) }

// ForEach visits keys under prefix within the space, with the space stripped.
func (n *Namespace) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return n.inner.ForEach(n.key(prefix), func(k, v []byte) error {
		return fn(k[len(n.space):], v)
	})
}

// NewBatch returns a batch whose keys land in the space.
func (n *Namespace) NewBatch() Batch {
	return &namespaceBatch{ns: n, inner: n.inner.NewBatch()}
}

// Close does nothing. The shared database is closed by its owner.
func (n *Namespace) Close() error { return nil }

type namespaceBatch struct {
	ns    *Namespace
	inner Batch
}

func (b *namespaceBatch) Put(key, value []byte) error { return b.inner.Put(b.ns.key(key), value) }

func (b *namespaceBatch) Delete(key []byte) error { return b.inner.Delete(b.ns.key(key)) }

func (b *namespaceBatch) Commit() error { return b.inner.Commit() }
