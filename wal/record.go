package wal

import "encoding/binary"
import "fmt"

import "github.com/zeebo/xxh3"

import "github.com/bnclabs/mvccstore/api"
import "github.com/bnclabs/mvccstore/lib"

// journal record layout, all fields big-endian:
//
//	ln       uint32  length of the body
//	checksum uint64  xxh3 over the body
//	body:
//	  opcode byte    opUpsert | opDelete
//	  flags  byte    flagCompressed
//	  seqno  uint64
//	  keylen uint16
//	  key    keylen bytes
//	  value  remaining bytes
//
// The checksum covers the body only, a record whose header or body is
// cut short by a crash is detected by length, not checksum.

const recdhdrsize = 12
const recdbodysize = 12 // opcode + flags + seqno + keylen

const (
	opUpsert = byte(1)
	opDelete = byte(2)
)

const flagCompressed = byte(0x1)

func (wal *WAL) encoderecord(
	block []byte, seqno uint64, key, value []byte, deleted bool) []byte {

	opcode, flags := opUpsert, byte(0)
	if deleted {
		opcode = opDelete
	}
	if int64(len(value)) >= wal.compresslimit && len(value) > 0 {
		value = wal.zenc.EncodeAll(value, nil)
		flags |= flagCompressed
		wal.n_compressed++
	}

	ln := recdbodysize + len(key) + len(value)
	block = lib.Fixbuffer(block, int64(recdhdrsize+ln))
	body := block[recdhdrsize:]
	body[0], body[1] = opcode, flags
	binary.BigEndian.PutUint64(body[2:10], seqno)
	binary.BigEndian.PutUint16(body[10:12], uint16(len(key)))
	copy(body[recdbodysize:], key)
	copy(body[recdbodysize+len(key):], value)

	binary.BigEndian.PutUint32(block[0:4], uint32(ln))
	binary.BigEndian.PutUint64(block[4:12], xxh3.Hash(body))
	return block
}

// decoderecord parse one record at block[0:]. Return the consumed
// length, zero when the tail is short of a full record.
func (wal *WAL) decoderecord(
	block []byte) (n int, seqno uint64, key, value []byte,
	deleted bool, err error) {

	if len(block) < recdhdrsize {
		return 0, 0, nil, nil, false, nil
	}
	ln := int(binary.BigEndian.Uint32(block[0:4]))
	if len(block) < recdhdrsize+ln {
		return 0, 0, nil, nil, false, nil
	}
	body := block[recdhdrsize : recdhdrsize+ln]
	if checksum := binary.BigEndian.Uint64(block[4:12]); checksum != xxh3.Hash(body) {
		return 0, 0, nil, nil, false, api.ErrorChecksumFail
	}
	if ln < recdbodysize {
		return 0, 0, nil, nil, false, api.ErrorCorruptJournal
	}

	opcode, flags := body[0], body[1]
	if opcode != opUpsert && opcode != opDelete {
		err = fmt.Errorf("%w: opcode %v", api.ErrorCorruptJournal, opcode)
		return 0, 0, nil, nil, false, err
	}
	seqno = binary.BigEndian.Uint64(body[2:10])
	keylen := int(binary.BigEndian.Uint16(body[10:12]))
	if recdbodysize+keylen > ln {
		err = fmt.Errorf("%w: keylen %v", api.ErrorCorruptJournal, keylen)
		return 0, 0, nil, nil, false, err
	}
	key = body[recdbodysize : recdbodysize+keylen]
	value = body[recdbodysize+keylen:]
	if (flags & flagCompressed) != 0 {
		if value, err = wal.zdec.DecodeAll(value, nil); err != nil {
			err = fmt.Errorf("%w: %v", api.ErrorCorruptJournal, err)
			return 0, 0, nil, nil, false, err
		}
	}
	if len(value) == 0 {
		value = nil
	}
	return recdhdrsize + ln, seqno, key, value, opcode == opDelete, nil
}
