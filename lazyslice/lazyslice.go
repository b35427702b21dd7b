package lazyslice

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/lunfardo314/epochledger"
)

// Array can be interpreted two ways:
// - as byte slice
// - as serialized append-only array of byte slices
// Serialization is optimized by analyzing maximum length of the data element
type Array struct {
	bytes          []byte
	parsed         [][]byte
	maxNumElements int
}

type lenPrefixType uint16

// prefix of the serialized slice array are two bytes interpreted as uint16
// The highest 2 bits are interpreted as 4 possible DataLenBytes (0, 1, 2 and 4 bytes)
// The rest is interpreted as uint16 of the number of elements in the array
const (
	DataLenBytes0  = uint16(0x00) << 14
	DataLenBytes8  = uint16(0x01) << 14
	DataLenBytes16 = uint16(0x02) << 14
	DataLenBytes32 = uint16(0x03) << 14

	DataLenMask  = uint16(0x03) << 14
	ArrayLenMask = ^DataLenMask
	MaxArrayLen  = int(ArrayLenMask) // 16383

	emptyArrayPrefix = lenPrefixType(0)
)

func (dl lenPrefixType) DataLenBytes() int {
	m := uint16(dl) & DataLenMask
	switch m {
	case DataLenBytes0:
		return 0
	case DataLenBytes8:
		return 1
	case DataLenBytes16:
		return 2
	case DataLenBytes32:
		return 4
	}
	panic("very bad")
}

func (dl lenPrefixType) NumElements() int {
	s := uint16(dl) & ArrayLenMask
	return int(s)
}

func (dl lenPrefixType) Bytes() []byte {
	return epochledger.EncodeInteger(uint16(dl))
}

// ArrayFromBytes wraps data without parsing it. Parsing is lazy and panics on wrong data
func ArrayFromBytes(data []byte, maxNumElements ...int) *Array {
	mx := MaxArrayLen
	if len(maxNumElements) > 0 {
		mx = maxNumElements[0]
	}
	return &Array{
		bytes:          data,
		maxNumElements: mx,
	}
}

// ParseArray parses data eagerly and returns an error instead of panicking
func ParseArray(data []byte, maxNumElements ...int) (*Array, error) {
	ret := ArrayFromBytes(data, maxNumElements...)
	var err error
	if ret.parsed, err = parseArray(data, ret.maxNumElements); err != nil {
		return nil, err
	}
	return ret, nil
}

func EmptyArray(maxNumElements ...int) *Array {
	return ArrayFromBytes(emptyArrayPrefix.Bytes(), maxNumElements...)
}

// MakeArray makes array from byte slices and from other arrays
func MakeArray(elems ...interface{}) *Array {
	ret := EmptyArray(len(elems))
	for _, e := range elems {
		switch e := e.(type) {
		case nil:
			ret.Push(nil)
		case []byte:
			ret.Push(e)
		case *Array:
			ret.Push(e.Bytes())
		default:
			panic(fmt.Sprintf("MakeArray: unsupported element type %T", e))
		}
	}
	return ret
}

func (a *Array) SetData(data []byte) {
	a.bytes = data
	a.parsed = nil
}

func (a *Array) SetEmptyArray() {
	a.SetData(emptyArrayPrefix.Bytes())
}

func (a *Array) Push(data []byte) int {
	a.ensureParsed()
	if len(a.parsed) >= a.maxNumElements {
		panic("Array.Push: too many elements")
	}
	a.parsed = append(a.parsed, data)
	a.bytes = nil // invalidate bytes
	return len(a.parsed) - 1
}

func (a *Array) ForEach(fun func(i int, data []byte) bool) {
	for i := 0; i < a.NumElements(); i++ {
		if !fun(i, a.At(i)) {
			break
		}
	}
}

func (a *Array) ensureParsed() {
	if a.parsed != nil {
		return
	}
	var err error
	a.parsed, err = parseArray(a.bytes, a.maxNumElements)
	if err != nil {
		panic(err)
	}
}

func (a *Array) ensureBytes() {
	if a.bytes != nil {
		return
	}
	if len(a.parsed) == 0 {
		// bytes == nil
		return
	}
	var buf bytes.Buffer
	if err := encodeArray(a.parsed, &buf); err != nil {
		panic(err)
	}
	a.bytes = buf.Bytes()
}

func (a *Array) At(idx int) []byte {
	a.ensureParsed()
	return a.parsed[idx]
}

func (a *Array) NumElements() int {
	a.ensureParsed()
	return len(a.parsed)
}

func (a *Array) Bytes() []byte {
	a.ensureBytes()
	return a.bytes
}

func calcLenPrefix(data [][]byte) (lenPrefixType, error) {
	if len(data) > MaxArrayLen {
		return 0, errors.New("too long data")
	}
	if len(data) == 0 {
		return 0, nil
	}
	var dl uint16
	var t uint16
	for _, d := range data {
		t = DataLenBytes0
		switch {
		case len(d) > math.MaxUint32:
			return 0, errors.New("data can't be longer that MaxInt32")
		case len(d) > math.MaxUint16:
			t = DataLenBytes32
		case len(d) > math.MaxUint8:
			t = DataLenBytes16
		case len(d) > 0:
			t = DataLenBytes8
		}
		if dl < t {
			dl = t
		}
	}
	return lenPrefixType(dl | uint16(len(data))), nil
}

func writeData(data [][]byte, numDataLenBytes int, w io.Writer) error {
	if numDataLenBytes == 0 {
		return nil // all empty
	}
	for _, d := range data {
		switch numDataLenBytes {
		case 1:
			if err := epochledger.WriteInteger(w, byte(len(d))); err != nil {
				return err
			}
		case 2:
			if err := epochledger.WriteInteger(w, uint16(len(d))); err != nil {
				return err
			}
		case 4:
			if err := epochledger.WriteInteger(w, uint32(len(d))); err != nil {
				return err
			}
		}
		if _, err := w.Write(d); err != nil {
			return err
		}
	}
	return nil
}

// decodeElement 'reads' element without memory allocation, just cutting a slice
// from the data. Suitable for immutable data
func decodeElement(buf []byte, numDataLenBytes int) ([]byte, []byte, error) {
	if len(buf) < numDataLenBytes {
		return nil, nil, errors.New("unexpected EOF")
	}
	var sz int
	switch numDataLenBytes {
	case 0:
		sz = 0
	case 1:
		sz = int(buf[0])
	case 2:
		sz = int(epochledger.DecodeInteger[uint16](buf[:2]))
	case 4:
		sz = int(epochledger.DecodeInteger[uint32](buf[:4]))
	default:
		return nil, nil, errors.New("wrong lenPrefixType value")
	}
	if len(buf) < numDataLenBytes+sz {
		return nil, nil, errors.New("unexpected EOF")
	}
	return buf[numDataLenBytes+sz:], buf[numDataLenBytes : numDataLenBytes+sz], nil
}

// decodeData decodes by splitting into slices, reusing the same underlying array
func decodeData(data []byte, numDataLenBytes int, n int) ([][]byte, error) {
	ret := make([][]byte, n)
	var err error
	for i := 0; i < n; i++ {
		data, ret[i], err = decodeElement(data, numDataLenBytes)
		if err != nil {
			return nil, err
		}
	}
	if len(data) != 0 {
		return nil, errors.New("serialization error: not all bytes were consumed")
	}
	return ret, nil
}

func encodeArray(data [][]byte, w io.Writer) error {
	prefix, err := calcLenPrefix(data)
	if err != nil {
		return err
	}
	if _, err = w.Write(prefix.Bytes()); err != nil {
		return err
	}
	return writeData(data, prefix.DataLenBytes(), w)
}

func parseArray(data []byte, maxNumElements int) ([][]byte, error) {
	if len(data) < 2 {
		return nil, errors.New("unexpected EOF")
	}
	prefix := lenPrefixType(epochledger.DecodeInteger[uint16](data[:2]))
	if prefix.NumElements() > maxNumElements {
		return nil, errors.Errorf("parseArray: number of elements in the prefix %d is larger than maxNumElements %d ",
			prefix.NumElements(), maxNumElements)
	}
	return decodeData(data[2:], prefix.DataLenBytes(), prefix.NumElements())
}
