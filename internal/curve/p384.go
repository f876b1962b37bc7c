// Package curve recovers a P-384 public point from a private scalar without
// consulting the key-generation primitive. It exists as an independent
// derivation path for imported key material and as a cross-check against
// natively generated keys.
package curve

import (
	"errors"
	"fmt"
	"math/big"
)

var ErrInvalidScalar = errors.New("scalar is out of range for P-384")

// CoordinateSize is the byte width of one canonical P-384 coordinate.
const CoordinateSize = 48

// PointSize is the byte width of an uncompressed point: 0x04 tag plus x and y.
const PointSize = 1 + 2*CoordinateSize

const uncompressedTag = 0x04

// P-384 short Weierstrass parameters (SEC 2, a = -3).
var (
	fieldPrime = mustHex("fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffeffffffff0000000000000000ffffffff")
	curveOrder = mustHex("ffffffffffffffffffffffffffffffffffffffffffffffffc7634d81f4372ddf581a0db248b0a77aecec196accc52973")
	curveA     = new(big.Int).Sub(fieldPrime, big.NewInt(3))
	curveB     = mustHex("b3312fa7e23ee7e4988e056be3f82d19181d9c6efe8141120314088f5013875ac656398d8a2ed19d2a85c8edd3ec2aef")
	baseX      = mustHex("aa87ca22be8b05378eb1c71ef320ad746e1d3b628ba79b9859f741e082542a385502f25dbf55296c3a545e3872760ab7")
	baseY      = mustHex("3617de4a96262c6f5d9e98bf9292dc29f8f41dbd289a147ce9da3113b5f0b8c00a60b1ce1d7e819d7a431d7c90ea0e5f")
)

// affine point; nil pointer means the point at infinity.
type point struct {
	x, y *big.Int
}

// DerivePoint computes Q = d*G over P-384 for the big-endian scalar bytes d.
// The scalar must be non-zero and below the curve order.
//
// This is textbook double-and-add over math/big and is NOT constant time;
// the scalar handled here is the caller's own key material.
func DerivePoint(d []byte) (x, y *big.Int, err error) {
	scalar := new(big.Int).SetBytes(d)
	if scalar.Sign() == 0 || scalar.Cmp(curveOrder) >= 0 {
		return nil, nil, ErrInvalidScalar
	}

	base := &point{x: new(big.Int).Set(baseX), y: new(big.Int).Set(baseY)}
	var acc *point
	for i := scalar.BitLen() - 1; i >= 0; i-- {
		acc = pointDouble(acc)
		if scalar.Bit(i) == 1 {
			acc = pointAdd(acc, base)
		}
	}
	if acc == nil {
		// Unreachable for 0 < d < n, kept as a guard against arithmetic bugs.
		return nil, nil, ErrInvalidScalar
	}
	return acc.x, acc.y, nil
}

// DeriveUncompressedPoint derives d*G and encodes it as 0x04 ‖ x ‖ y with
// both coordinates canonicalized to 48 big-endian bytes.
func DeriveUncompressedPoint(d []byte) ([]byte, error) {
	x, y, err := DerivePoint(d)
	if err != nil {
		return nil, err
	}
	return EncodeUncompressedPoint(x, y), nil
}

// EncodeUncompressedPoint canonicalizes x and y to the fixed coordinate
// width. Shorter values are left-zero-padded; longer values keep only the
// low 48 bytes.
func EncodeUncompressedPoint(x, y *big.Int) []byte {
	out := make([]byte, PointSize)
	out[0] = uncompressedTag
	copy(out[1:1+CoordinateSize], coordinateBytes(x))
	copy(out[1+CoordinateSize:], coordinateBytes(y))
	return out
}

func coordinateBytes(v *big.Int) []byte {
	raw := v.Bytes()
	if len(raw) > CoordinateSize {
		raw = raw[len(raw)-CoordinateSize:]
	}
	out := make([]byte, CoordinateSize)
	copy(out[CoordinateSize-len(raw):], raw)
	return out
}

func pointDouble(p *point) *point {
	if p == nil {
		return nil
	}
	if p.y.Sign() == 0 {
		return nil
	}
	// λ = (3x² + a) / 2y
	num := new(big.Int).Mul(p.x, p.x)
	num.Mul(num, big.NewInt(3))
	num.Add(num, curveA)
	num.Mod(num, fieldPrime)
	den := new(big.Int).Lsh(p.y, 1)
	lambda := fieldDiv(num, den)

	x3 := new(big.Int).Mul(lambda, lambda)
	x3.Sub(x3, p.x)
	x3.Sub(x3, p.x)
	x3.Mod(x3, fieldPrime)

	y3 := new(big.Int).Sub(p.x, x3)
	y3.Mul(y3, lambda)
	y3.Sub(y3, p.y)
	y3.Mod(y3, fieldPrime)

	return &point{x: x3, y: y3}
}

func pointAdd(p, q *point) *point {
	if p == nil {
		return q
	}
	if q == nil {
		return p
	}
	if p.x.Cmp(q.x) == 0 {
		if p.y.Cmp(q.y) == 0 {
			return pointDouble(p)
		}
		// P + (-P) = infinity
		return nil
	}
	// λ = (y2 - y1) / (x2 - x1)
	num := new(big.Int).Sub(q.y, p.y)
	den := new(big.Int).Sub(q.x, p.x)
	lambda := fieldDiv(num, den)

	x3 := new(big.Int).Mul(lambda, lambda)
	x3.Sub(x3, p.x)
	x3.Sub(x3, q.x)
	x3.Mod(x3, fieldPrime)

	y3 := new(big.Int).Sub(p.x, x3)
	y3.Mul(y3, lambda)
	y3.Sub(y3, p.y)
	y3.Mod(y3, fieldPrime)

	return &point{x: x3, y: y3}
}

// fieldDiv computes num/den mod the field prime.
func fieldDiv(num, den *big.Int) *big.Int {
	inv := modInverse(new(big.Int).Mod(den, fieldPrime), fieldPrime)
	out := new(big.Int).Mod(num, fieldPrime)
	out.Mul(out, inv)
	out.Mod(out, fieldPrime)
	return out
}

// modInverse computes a⁻¹ mod m via the extended Euclidean algorithm.
// The field prime guarantees an inverse exists for any non-zero residue;
// a zero residue never reaches here because the group law handles the
// doubling/opposite cases before dividing.
func modInverse(a, m *big.Int) *big.Int {
	r0 := new(big.Int).Set(m)
	r1 := new(big.Int).Mod(a, m)
	s0 := big.NewInt(0)
	s1 := big.NewInt(1)
	for r1.Sign() != 0 {
		q := new(big.Int).Div(r0, r1)
		r0.Sub(r0, new(big.Int).Mul(q, r1))
		r0, r1 = r1, r0
		s0.Sub(s0, new(big.Int).Mul(q, s1))
		s0, s1 = s1, s0
	}
	if r0.Cmp(big.NewInt(1)) != 0 {
		panic(fmt.Sprintf("curve: no inverse for residue %v", a))
	}
	return s0.Mod(s0, m)
}

func mustHex(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("curve: bad curve constant " + s)
	}
	return v
}
