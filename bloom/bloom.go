// Package bloom implements a serializable Bloom filter used to give SSTable
// readers a cheap "definitely not present" verdict before touching disk.
package bloom

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math"

	"github.com/bits-and-blooms/bitset"
)

const version uint8 = 1

var (
	// ErrUnsupportedVersion is returned by Deserialize when the on-disk
	// filter was written by an incompatible format.
	ErrUnsupportedVersion = errors.New("bloom: unsupported version")
	// ErrTruncated is returned by Deserialize when the byte slice is too
	// short to contain a full header or bit array.
	ErrTruncated = errors.New("bloom: truncated filter")
)

// Filter is a Bloom filter sized from an expected element count and a
// target false-positive rate. It never produces false negatives.
type Filter struct {
	expectedN uint32
	fpr       float64
	m         uint32
	k         uint32
	bits      *bitset.BitSet
}

// New sizes a filter for expected keys (0 is treated as 1, so the filter
// is always usable) and fpr, using the standard optimum
// m = ceil(-n*ln(p)/(ln2)^2), k = ceil((m/n)*ln2).
func New(expected int, fpr float64) *Filter {
	n := expected
	if n < 1 {
		n = 1
	}
	if fpr <= 0 || fpr >= 1 {
		fpr = 0.01
	}

	m := uint32(math.Ceil(-float64(n) * math.Log(fpr) / (math.Ln2 * math.Ln2)))
	if m < 1 {
		m = 1
	}
	k := uint32(math.Ceil((float64(m) / float64(n)) * math.Ln2))
	if k < 1 {
		k = 1
	}

	return &Filter{
		expectedN: uint32(n),
		fpr:       fpr,
		m:         m,
		k:         k,
		bits:      bitset.New(uint(m)),
	}
}

// Add inserts key into the filter.
func (f *Filter) Add(key []byte) {
	for i := uint32(0); i < f.k; i++ {
		f.bits.Set(uint(f.hash(i, key)))
	}
}

// Contains reports whether key may be present. A false result is
// definitive; a true result may be a false positive.
func (f *Filter) Contains(key []byte) bool {
	for i := uint32(0); i < f.k; i++ {
		if !f.bits.Test(uint(f.hash(i, key))) {
			return false
		}
	}
	return true
}

// hash folds the first 4 bytes of sha256(i || key) into [0, m).
func (f *Filter) hash(i uint32, key []byte) uint32 {
	h := sha256.New()
	var seed [4]byte
	binary.BigEndian.PutUint32(seed[:], i)
	_, _ = h.Write(seed[:])
	_, _ = h.Write(key)
	sum := h.Sum(nil)
	return binary.BigEndian.Uint32(sum[:4]) % f.m
}

// Serialize encodes the filter as
// [version u8=1][expected_n u32][fpr_scaled u64][m u32][k u32][bits...].
func (f *Filter) Serialize() []byte {
	byteLen := (f.m + 7) / 8
	out := make([]byte, 1+4+8+4+4+byteLen)

	out[0] = version
	binary.LittleEndian.PutUint32(out[1:5], f.expectedN)
	binary.LittleEndian.PutUint64(out[5:13], uint64(math.Round(f.fpr*1e9)))
	binary.LittleEndian.PutUint32(out[13:17], f.m)
	binary.LittleEndian.PutUint32(out[17:21], f.k)

	bitsOut := out[21:]
	for i := uint32(0); i < f.m; i++ {
		if f.bits.Test(uint(i)) {
			bitsOut[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

// Deserialize reconstructs a Filter from the Serialize format, rejecting
// unknown versions and truncated input.
func Deserialize(b []byte) (*Filter, error) {
	if len(b) < 1+4+8+4+4 {
		return nil, ErrTruncated
	}
	if b[0] != version {
		return nil, ErrUnsupportedVersion
	}

	expectedN := binary.LittleEndian.Uint32(b[1:5])
	fprScaled := binary.LittleEndian.Uint64(b[5:13])
	m := binary.LittleEndian.Uint32(b[13:17])
	k := binary.LittleEndian.Uint32(b[17:21])

	byteLen := (m + 7) / 8
	bitsIn := b[21:]
	if uint32(len(bitsIn)) < byteLen {
		return nil, ErrTruncated
	}

	bits := bitset.New(uint(m))
	for i := uint32(0); i < m; i++ {
		if bitsIn[i/8]&(1<<(i%8)) != 0 {
			bits.Set(uint(i))
		}
	}

	return &Filter{
		expectedN: expectedN,
		fpr:       float64(fprScaled) / 1e9,
		m:         m,
		k:         k,
		bits:      bits,
	}, nil
}
