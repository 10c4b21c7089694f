package hybrid

import (
	"bytes"
	"encoding/binary"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// reader walks Borsh fields and records the first failure; later reads
// return zero values.
type reader struct {
	dec *bin.Decoder
	err error
}

func newReader(data []byte) *reader {
	return &reader{dec: bin.NewBorshDecoder(data)}
}

func (r *reader) keep(err error) bool {
	if err != nil && r.err == nil {
		r.err = err
	}
	return r.err == nil
}

func (r *reader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint8()
	if !r.keep(err) {
		return 0
	}
	return v
}

func (r *reader) u16() uint16 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint16(binary.LittleEndian)
	if !r.keep(err) {
		return 0
	}
	return v
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint32(binary.LittleEndian)
	if !r.keep(err) {
		return 0
	}
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint64(binary.LittleEndian)
	if !r.keep(err) {
		return 0
	}
	return v
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	b, err := r.dec.ReadNBytes(n)
	if !r.keep(err) {
		return nil
	}
	return b
}

func (r *reader) pubkey() solana.PublicKey {
	if b := r.take(solana.PublicKeyLength); b != nil {
		return solana.PublicKeyFromBytes(b)
	}
	return solana.PublicKey{}
}

func (r *reader) str() string {
	n := r.u32()
	return string(r.take(int(n)))
}

// writer appends Borsh fields. Writes to a bytes.Buffer cannot fail.
type writer struct {
	buf bytes.Buffer
	enc *bin.Encoder
}

func newWriter() *writer {
	w := &writer{}
	w.enc = bin.NewBorshEncoder(&w.buf)
	return w
}

func (w *writer) bytes(b []byte) { _ = w.enc.WriteBytes(b, false) }
func (w *writer) u8(v uint8)     { _ = w.enc.WriteUint8(v) }
func (w *writer) u16(v uint16)   { _ = w.enc.WriteUint16(v, binary.LittleEndian) }
func (w *writer) u64(v uint64)   { _ = w.enc.WriteUint64(v, binary.LittleEndian) }

func (w *writer) pubkey(k solana.PublicKey) { w.bytes(k[:]) }

func (w *writer) str(s string) {
	_ = w.enc.WriteUint32(uint32(len(s)), binary.LittleEndian)
	w.bytes([]byte(s))
}

func (w *writer) data() []byte { return w.buf.Bytes() }
