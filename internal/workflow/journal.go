package workflow

import (
	"fmt"

	"Cosign/internal/combiner"
	"Cosign/internal/storage"
)

// Journal entry status bytes.
const (
	entryPending  = 0x01 // Combined, not yet settled
	entrySettled  = 0x02 // Accepted by the ledger
	entryRejected = 0x03 // Permanently rejected
)

// journalPrefix namespaces journal keys: "att:" + txID.
var journalPrefix = []byte("att:")

// Journal keeps combined transactions in Pebble so a restarted coordinator can resubmit
// the exact bytes instead of collecting signatures again.
// Value format: [1B status] [NB combined transaction]
type Journal struct {
	store *storage.Store
}

// NewJournal creates a journal over store.
func NewJournal(store *storage.Store) *Journal {
	return &Journal{store: store}
}

// Record stores a combined transaction as pending.
func (j *Journal) Record(tx *combiner.Transaction) error {
	return j.put(tx, entryPending)
}

// MarkSettled records that the ledger accepted tx.
func (j *Journal) MarkSettled(tx *combiner.Transaction) error {
	return j.put(tx, entrySettled)
}

// MarkRejected records that the ledger refused tx for good.
func (j *Journal) MarkRejected(tx *combiner.Transaction) error {
	return j.put(tx, entryRejected)
}

func (j *Journal) put(tx *combiner.Transaction, status byte) error {
	id := tx.ID()
	data := tx.Bytes()

	value := make([]byte, 1+len(data))
	value[0] = status
	copy(value[1:], data)

	if err := j.store.Set(journalKey(id), value); err != nil {
		return fmt.Errorf("journal %x:\n%w", id[:6], err)
	}

	return nil
}

// Get returns a journaled transaction and whether it is still pending.
func (j *Journal) Get(id [32]byte) (*combiner.Transaction, bool, error) {
	value, err := j.store.Get(journalKey(id))
	if err != nil {
		return nil, false, err
	}

	if len(value) < 2 {
		return nil, false, nil
	}

	tx, err := combiner.Decode(value[1:])
	if err != nil {
		return nil, false, fmt.Errorf("journal %x:\n%w", id[:6], err)
	}

	return tx, value[0] == entryPending, nil
}

// Pending returns every combined transaction not yet settled or rejected.
func (j *Journal) Pending() ([]*combiner.Transaction, error) {
	var pending []*combiner.Transaction

	err := j.store.IteratePrefix(journalPrefix, func(key, value []byte) error {
		if len(value) < 2 || value[0] != entryPending {
			return nil
		}

		tx, err := combiner.Decode(value[1:])
		if err != nil {
			return fmt.Errorf("journal entry %x:\n%w", key[len(journalPrefix):], err)
		}

		pending = append(pending, tx)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return pending, nil
}

func journalKey(id [32]byte) []byte {
	k := make([]byte, len(journalPrefix)+len(id))
	copy(k, journalPrefix)
	copy(k[len(journalPrefix):], id[:])

	return k
}
