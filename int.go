package epochledger

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
)

// all integers on the wire are big-endian
var byteOrder = binary.BigEndian

type integerIntern interface {
	uint8 | int8 | uint16 | int16 | uint32 | int32 | uint64 | int64
}

func ReadInteger[T integerIntern](r io.Reader, pval *T) error {
	return binary.Read(r, byteOrder, pval)
}

func WriteInteger[T integerIntern](w io.Writer, val T) error {
	return binary.Write(w, byteOrder, val)
}

func EncodeInteger[T integerIntern](v T) []byte {
	var buf bytes.Buffer
	if err := binary.Write(&buf, byteOrder, v); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// DecodeInteger panics if the length of data is not the size of T
func DecodeInteger[T integerIntern](data []byte) T {
	ret, err := TryDecodeInteger[T](data)
	if err != nil {
		panic(err)
	}
	return ret
}

// TryDecodeInteger requires data to be exactly the size of T
func TryDecodeInteger[T integerIntern](data []byte) (T, error) {
	var ret T
	if len(data) != binary.Size(ret) {
		return ret, errors.Errorf("wrong data length %d, expected %d", len(data), binary.Size(ret))
	}
	if err := binary.Read(bytes.NewReader(data), byteOrder, &ret); err != nil {
		return ret, err
	}
	return ret, nil
}
