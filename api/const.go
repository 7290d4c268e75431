package api

import "errors"

// ErrorActiveSnapshots operation cannot succeed because there are active
// snapshots on the storage instance.
var ErrorActiveSnapshots = errors.New("activeSnapshots")

// ErrorActiveCursors operation cannot succeed because there are active
// cursors on the storage instance.
var ErrorActiveCursors = errors.New("activeCursors")

// ErrorKeyMissing operation cannot succeed because specified key is
// missing in the storage instance.
var ErrorKeyMissing = errors.New("keyMissing")

// ErrorClosed operation cannot succeed because the instance is closed
// or destroyed.
var ErrorClosed = errors.New("closed")

// ErrorDurability mutation was aborted because the journal append
// failed; the index is left unchanged and the caller may retry.
var ErrorDurability = errors.New("durabilityFailure")

// ErrorChecksumFail journal record failed its checksum during replay.
var ErrorChecksumFail = errors.New("checksumFail")

// ErrorCorruptJournal journal is structurally damaged beyond a torn
// tail record.
var ErrorCorruptJournal = errors.New("corruptJournal")

// MinKeysize minimum key size.
const MinKeysize = int64(32)

// MaxKeysize maximum key size.
const MaxKeysize = int64(4096)

// MinValsize minimum value size.
const MinValsize = int64(0)

// MaxValsize maximum value size.
const MaxValsize = int64(10 * 1024 * 1024)
