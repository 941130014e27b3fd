package document

import "github.com/protojour/authly/pkg/storage"

// Apply hands a successfully compiled snapshot to storage. Any failure
// here is necessarily a storage-layer problem — compilation already
// succeeded, so the document itself is not at fault (spec §4.5:
// "DocumentDbTxnError::Transaction wraps a failure purely in the apply
// step").
func Apply(store storage.Store, snap *storage.DirectorySnapshot) error {
	if err := store.ApplyDirectorySnapshot(*snap); err != nil {
		return &TxnError{Err: err}
	}
	return nil
}
