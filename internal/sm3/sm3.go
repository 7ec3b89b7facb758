// Package sm3 implements the SM3 hash function (GB/T 32905-2016).
//
// The digest is streaming and reusable: Write appends, Sum finalizes a copy of
// the state, and Reset restores the initial vector so the same value can hash
// its own output again.
package sm3

import (
	"encoding/binary"
	"hash"
	"math/bits"
)

// Size is the size of an SM3 checksum in bytes.
const Size = 32

// BlockSize is the block size of SM3 in bytes.
const BlockSize = 64

var iv = [8]uint32{
	0x7380166f, 0x4914b2b9, 0x172442d7, 0xda8a0600,
	0xa96f30bc, 0x163138aa, 0xe38dee4d, 0xb0fb0e4e,
}

const (
	t0 = 0x79cc4519 // rounds 0..15
	t1 = 0x7a879d8a // rounds 16..63
)

type digest struct {
	reg [8]uint32
	buf [BlockSize]byte
	nx  int
	len uint64
}

// New returns a new hash.Hash computing the SM3 checksum.
func New() hash.Hash {
	d := new(digest)
	d.Reset()
	return d
}

// Sum returns the SM3 checksum of data.
func Sum(data []byte) [Size]byte {
	var d digest
	d.Reset()
	d.Write(data)
	return d.checkSum()
}

func (d *digest) Reset() {
	d.reg = iv
	d.nx = 0
	d.len = 0
}

func (d *digest) Size() int { return Size }

func (d *digest) BlockSize() int { return BlockSize }

func (d *digest) Write(p []byte) (int, error) {
	n := len(p)
	d.len += uint64(n)
	if d.nx > 0 {
		c := copy(d.buf[d.nx:], p)
		d.nx += c
		p = p[c:]
		if d.nx == BlockSize {
			d.compress(d.buf[:])
			d.nx = 0
		}
	}
	for len(p) >= BlockSize {
		d.compress(p[:BlockSize])
		p = p[BlockSize:]
	}
	if len(p) > 0 {
		d.nx = copy(d.buf[:], p)
	}
	return n, nil
}

// Sum appends the checksum to in without changing the underlying state.
func (d *digest) Sum(in []byte) []byte {
	d0 := *d
	sum := d0.checkSum()
	return append(in, sum[:]...)
}

func (d *digest) checkSum() [Size]byte {
	bitLen := d.len << 3

	// 0x80, zeros up to 56 mod 64, then the 64-bit big-endian bit length.
	var tmp [BlockSize + 8]byte
	tmp[0] = 0x80
	pad := 56 - int(d.len%BlockSize)
	if pad <= 0 {
		pad += BlockSize
	}
	binary.BigEndian.PutUint64(tmp[pad:], bitLen)
	d.Write(tmp[:pad+8])

	var out [Size]byte
	for i, v := range d.reg {
		binary.BigEndian.PutUint32(out[i*4:], v)
	}
	return out
}

func ff(j int, x, y, z uint32) uint32 {
	if j < 16 {
		return x ^ y ^ z
	}
	return (x & y) | (x & z) | (y & z)
}

func gg(j int, x, y, z uint32) uint32 {
	if j < 16 {
		return x ^ y ^ z
	}
	return (x & y) | (^x & z)
}

func p0(x uint32) uint32 { return x ^ bits.RotateLeft32(x, 9) ^ bits.RotateLeft32(x, 17) }

func p1(x uint32) uint32 { return x ^ bits.RotateLeft32(x, 15) ^ bits.RotateLeft32(x, 23) }

func (d *digest) compress(block []byte) {
	var w [68]uint32
	var w1 [64]uint32
	for i := 0; i < 16; i++ {
		w[i] = binary.BigEndian.Uint32(block[i*4:])
	}
	for j := 16; j < 68; j++ {
		w[j] = p1(w[j-16]^w[j-9]^bits.RotateLeft32(w[j-3], 15)) ^ bits.RotateLeft32(w[j-13], 7) ^ w[j-6]
	}
	for j := 0; j < 64; j++ {
		w1[j] = w[j] ^ w[j+4]
	}

	a, b, c, dd := d.reg[0], d.reg[1], d.reg[2], d.reg[3]
	e, f, g, h := d.reg[4], d.reg[5], d.reg[6], d.reg[7]
	for j := 0; j < 64; j++ {
		t := uint32(t0)
		if j >= 16 {
			t = t1
		}
		ss1 := bits.RotateLeft32(bits.RotateLeft32(a, 12)+e+bits.RotateLeft32(t, j), 7)
		ss2 := ss1 ^ bits.RotateLeft32(a, 12)
		tt1 := ff(j, a, b, c) + dd + ss2 + w1[j]
		tt2 := gg(j, e, f, g) + h + ss1 + w[j]
		dd = c
		c = bits.RotateLeft32(b, 9)
		b = a
		a = tt1
		h = g
		g = bits.RotateLeft32(f, 19)
		f = e
		e = p0(tt2)
	}

	d.reg[0] ^= a
	d.reg[1] ^= b
	d.reg[2] ^= c
	d.reg[3] ^= dd
	d.reg[4] ^= e
	d.reg[5] ^= f
	d.reg[6] ^= g
	d.reg[7] ^= h
}
