// Package wal supply the durability collaborator for the mvcc index, a
// write-ahead journal over a single append-only file. Every record
// carries an xxh3 checksum, values crossing a threshold are stored
// zstd compressed. The journal directory is fenced with an advisory
// file lock so that two processes never append to the same journal.
package wal

import "encoding/binary"
import "errors"
import "fmt"
import "os"
import "path/filepath"
import "time"

import s "github.com/bnclabs/gosettings"
import json "github.com/goccy/go-json"
import "github.com/klauspost/compress/zstd"
import "golang.org/x/exp/mmap"

import "github.com/bnclabs/mvccstore/api"
import "github.com/bnclabs/mvccstore/flock"

// WAL implement api.Journal. Appends are serialized by the caller,
// the mvcc writer is single, Replay can run on a live journal.
type WAL struct {
	name      string
	dir       string
	logprefix string

	lock  *flock.RWMutex
	file  *os.File
	seqno uint64 // seqno of the last appended record
	block []byte // scratch for record encoding

	zenc *zstd.Encoder
	zdec *zstd.Decoder

	// settings
	fsync         bool
	compresslimit int64

	// statistics
	n_entries    int64
	n_compressed int64
}

type walheader struct {
	Name          string `json:"name"`
	Version       int    `json:"version"`
	Created       string `json:"created"`
	Compresslimit int64  `json:"compresslimit"`
}

const walversion = 1

// Defaultsettings for wal journal.
//
// "wal.fsync" (bool, default: true)
//      Fsync the journal file after every append. Turning this off
//      trades crash durability of the newest records for throughput.
//
// "wal.compresslimit" (int64, default: 512)
//      Values of this size or larger are stored zstd compressed.
//
func Defaultsettings() s.Settings {
	return s.Settings{
		"wal.fsync":         true,
		"wal.compresslimit": int64(512),
	}
}

// Create a fresh journal under dir, truncating any previous journal
// of the same name. The directory is locked for the lifetime of the
// returned WAL.
func Create(name, dir string, setts s.Settings) (*WAL, error) {
	wal, err := openwal(name, dir, setts)
	if err != nil {
		return nil, err
	}

	header := walheader{
		Name: name, Version: walversion,
		Created:       time.Now().Format(time.RFC3339),
		Compresslimit: wal.compresslimit,
	}
	data, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		wal.unlock()
		return nil, err
	}
	if err := os.WriteFile(wal.headerfile(), data, 0640); err != nil {
		wal.unlock()
		return nil, err
	}

	flags := os.O_CREATE | os.O_TRUNC | os.O_WRONLY | os.O_APPEND
	wal.file, err = os.OpenFile(wal.walfile(), flags, 0640)
	if err != nil {
		wal.unlock()
		return nil, err
	}
	infof("%v created under %q\n", wal.logprefix, dir)
	return wal, nil
}

// Load an existing journal under dir for appending, picking up the
// seqno of its last intact record. A torn tail record from a crashed
// append is truncated away.
func Load(name, dir string, setts s.Settings) (*WAL, error) {
	wal, err := openwal(name, dir, setts)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(wal.headerfile())
	if err != nil {
		wal.unlock()
		return nil, err
	}
	var header walheader
	if err := json.Unmarshal(data, &header); err != nil {
		wal.unlock()
		return nil, fmt.Errorf("%w: header: %v", api.ErrorCorruptJournal, err)
	}
	if header.Name != name || header.Version != walversion {
		wal.unlock()
		fmsg := "%w: header names %q version %v"
		return nil, fmt.Errorf(fmsg, api.ErrorCorruptJournal, header.Name, header.Version)
	}
	wal.compresslimit = header.Compresslimit

	lastgood := int64(0)
	err = wal.replayfile(func(seqno uint64, key, value []byte, deleted bool) error {
		wal.seqno, wal.n_entries = seqno, wal.n_entries+1
		return nil
	}, &lastgood)
	if err != nil {
		wal.unlock()
		return nil, err
	}
	if err := os.Truncate(wal.walfile(), lastgood); err != nil {
		if os.IsNotExist(err) == false {
			wal.unlock()
			return nil, err
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	wal.file, err = os.OpenFile(wal.walfile(), flags, 0640)
	if err != nil {
		wal.unlock()
		return nil, err
	}
	fmsg := "%v loaded under %q at seqno %v\n"
	infof(fmsg, wal.logprefix, dir, wal.seqno)
	return wal, nil
}

func openwal(name, dir string, setts s.Settings) (*WAL, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	wal := &WAL{
		name: name, dir: dir,
		logprefix: fmt.Sprintf("WAL [%s]", name),
	}
	setts = make(s.Settings).Mixin(Defaultsettings(), setts)
	wal.readsettings(setts)

	lock, err := flock.New(wal.lockfile())
	if err != nil {
		return nil, err
	}
	lock.Lock()
	wal.lock = lock

	if wal.zenc, err = zstd.NewWriter(nil); err != nil {
		wal.unlock()
		return nil, err
	}
	if wal.zdec, err = zstd.NewReader(nil); err != nil {
		wal.unlock()
		return nil, err
	}
	return wal, nil
}

func (wal *WAL) readsettings(setts s.Settings) *WAL {
	wal.fsync = setts.Bool("wal.fsync")
	wal.compresslimit = setts.Int64("wal.compresslimit")
	return wal
}

func (wal *WAL) headerfile() string {
	return filepath.Join(wal.dir, wal.name+".json")
}

func (wal *WAL) walfile() string {
	return filepath.Join(wal.dir, wal.name+".wal")
}

func (wal *WAL) lockfile() string {
	return filepath.Join(wal.dir, wal.name+".lock")
}

func (wal *WAL) unlock() {
	if wal.lock != nil {
		wal.lock.Unlock()
		wal.lock = nil
	}
}

//---- api.Journal

// Append a mutation record. Seqnos are assigned by the index's
// serialized writer and must arrive strictly increasing, a regression
// means writer serialization was bypassed.
func (wal *WAL) Append(seqno uint64, key, value []byte, deleted bool) error {
	if seqno <= wal.seqno {
		fmsg := "Append(): seqno %v after %v, call the programmer"
		panic(fmt.Errorf(fmsg, seqno, wal.seqno))
	}
	wal.block = wal.encoderecord(wal.block, seqno, key, value, deleted)
	if _, err := wal.file.Write(wal.block); err != nil {
		return err
	}
	if wal.fsync {
		if err := wal.file.Sync(); err != nil {
			return err
		}
	}
	wal.seqno, wal.n_entries = seqno, wal.n_entries+1
	return nil
}

// Replay stream the journal's records through fn in seqno order. The
// key and value slices are only valid for the duration of the call.
// A torn tail record is skipped with a warning, damage anywhere else
// surfaces as ErrorChecksumFail or ErrorCorruptJournal.
func (wal *WAL) Replay(fn api.ReplayFn) error {
	lastgood := int64(0)
	return wal.replayfile(fn, &lastgood)
}

func (wal *WAL) replayfile(fn api.ReplayFn, lastgood *int64) error {
	r, err := mmap.Open(wal.walfile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer r.Close()

	buf := make([]byte, r.Len())
	if len(buf) > 0 {
		if _, err := r.ReadAt(buf, 0); err != nil {
			return err
		}
	}

	off := 0
	for off < len(buf) {
		n, seqno, key, value, deleted, err := wal.decoderecord(buf[off:])
		if err != nil {
			if wal.tailrecord(buf, off) {
				fmsg := "%v torn tail record at %v, ignored\n"
				warnf(fmsg, wal.logprefix, off)
				break
			}
			return err
		}
		if n == 0 { // short of a full record, can only be the tail
			fmsg := "%v torn tail of %v bytes at %v, ignored\n"
			warnf(fmsg, wal.logprefix, len(buf)-off, off)
			break
		}
		if err := fn(seqno, key, value, deleted); err != nil {
			return err
		}
		off += n
		*lastgood = int64(off)
	}
	return nil
}

// tailrecord whether the record at off claims to run exactly to the
// end of the journal. A failed checksum there is a crash torn append,
// anywhere else it is corruption.
func (wal *WAL) tailrecord(buf []byte, off int) bool {
	if len(buf)-off < recdhdrsize {
		return true
	}
	ln := int(binary.BigEndian.Uint32(buf[off : off+4]))
	return off+recdhdrsize+ln >= len(buf)
}

// Purgebefore drop records with seqno below the watermark, rewriting
// the journal in place. Meant to be driven by the flush cycle once a
// sorted run covering those seqnos is durable.
func (wal *WAL) Purgebefore(seqno uint64) error {
	r, err := mmap.Open(wal.walfile())
	if err != nil {
		return err
	}
	buf := make([]byte, r.Len())
	if len(buf) > 0 {
		if _, err := r.ReadAt(buf, 0); err != nil {
			r.Close()
			return err
		}
	}
	r.Close()

	kept, n_kept, off := make([]byte, 0, len(buf)), int64(0), 0
	for off < len(buf) {
		n, recseqno, _, _, _, err := wal.decoderecord(buf[off:])
		if err != nil || n == 0 {
			break // the tail is rewritten away with the purged records
		}
		if recseqno >= seqno {
			kept = append(kept, buf[off:off+n]...)
			n_kept++
		}
		off += n
	}

	tmpfile := wal.walfile() + ".purge"
	if err := os.WriteFile(tmpfile, kept, 0640); err != nil {
		return err
	}
	if err := wal.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpfile, wal.walfile()); err != nil {
		return err
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if wal.file, err = os.OpenFile(wal.walfile(), flags, 0640); err != nil {
		return err
	}

	fmsg := "%v purged below seqno %v, %v records kept\n"
	infof(fmsg, wal.logprefix, seqno, n_kept)
	wal.n_entries = n_kept
	return nil
}

// Close the journal and release the directory lock. Appending after
// Close is a programmer error.
func (wal *WAL) Close() error {
	if wal.file != nil {
		if err := wal.file.Sync(); err != nil && errors.Is(err, os.ErrClosed) == false {
			return err
		}
		if err := wal.file.Close(); err != nil {
			return err
		}
		wal.file = nil
	}
	wal.zenc.Close()
	wal.zdec.Close()
	wal.unlock()
	infof("%v closed\n", wal.logprefix)
	return nil
}

// Stats return journal statistics.
func (wal *WAL) Stats() map[string]interface{} {
	return map[string]interface{}{
		"seqno":        wal.seqno,
		"n_entries":    wal.n_entries,
		"n_compressed": wal.n_compressed,
	}
}
