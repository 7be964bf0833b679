package audio

import (
	"encoding/binary"
	"math"
)

func byteOrder(f Format) binary.ByteOrder {
	if f.ByteOrder == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Silence fills buf with the silence value of f.
func Silence(buf []byte, f Format) {
	var v byte
	if f.Encoding == EncodingU8 {
		v = 0x80
	}
	for i := range buf {
		buf[i] = v
	}
}

// Mix adds the samples in src to the samples in dst, saturating at the
// limits of the encoding. Trailing bytes that do not form a whole sample are
// ignored.
func Mix(dst, src []byte, f Format) {
	n := min(len(dst), len(src))
	size := f.SampleSize()
	if size == 0 {
		return
	}
	n -= n % size
	order := byteOrder(f)

	switch f.Encoding {
	case EncodingU8:
		for i := 0; i < n; i++ {
			v := int(dst[i]) - 128 + int(src[i]) - 128
			dst[i] = byte(clamp(v, math.MinInt8, math.MaxInt8) + 128)
		}
	case EncodingS8:
		for i := 0; i < n; i++ {
			v := int(int8(dst[i])) + int(int8(src[i]))
			dst[i] = byte(int8(clamp(v, math.MinInt8, math.MaxInt8)))
		}
	case EncodingS16:
		for i := 0; i < n; i += 2 {
			v := int(int16(order.Uint16(dst[i:]))) + int(int16(order.Uint16(src[i:])))
			order.PutUint16(dst[i:], uint16(int16(clamp(v, math.MinInt16, math.MaxInt16))))
		}
	case EncodingS32:
		for i := 0; i < n; i += 4 {
			v := int64(int32(order.Uint32(dst[i:]))) + int64(int32(order.Uint32(src[i:])))
			if v > math.MaxInt32 {
				v = math.MaxInt32
			} else if v < math.MinInt32 {
				v = math.MinInt32
			}
			order.PutUint32(dst[i:], uint32(int32(v)))
		}
	case EncodingF32:
		for i := 0; i < n; i += 4 {
			v := math.Float32frombits(order.Uint32(dst[i:])) +
				math.Float32frombits(order.Uint32(src[i:]))
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			order.PutUint32(dst[i:], math.Float32bits(v))
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
