// Package store provides the persistent option store used by mrwp-agent.
//
// # Overview
//
// The agent keeps all of its state in a flat key/value store. Keys hold
// opaque byte values; callers in package options encode them as JSON.
// Every mutation goes through Update, which performs a read-modify-write
// that is atomic for that key.
//
// # Backends
//
//   - SQLiteStore: a single "options" table. The pure Go modernc.org/sqlite
//     driver is the default; the cgo mattn/go-sqlite3 driver can be selected
//     with WithDriver(DriverMattn).
//   - MemoryStore: a mutex-guarded map for tests.
//
// # Sealing
//
// When the operator configures database.encryption_key, SQLiteStore seals
// each value with NaCl secretbox before writing it. The key is derived with
// HKDF-SHA256. Plaintext rows written before sealing was enabled are still
// readable and are sealed on their next write.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/mrwp/agent.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	err = s.Update(ctx, "mrwp_agent", func(cur []byte) ([]byte, error) {
//	    return mutate(cur)
//	})
package store
