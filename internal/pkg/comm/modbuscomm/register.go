package modbuscomm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DataType defines the type of Modbus register for encoding/decoding
type DataType string

// Constants of DataType
const (
	U16 DataType = "u16"
	U32 DataType = "u32"
	U64 DataType = "u64"
	I16 DataType = "i16"
	I32 DataType = "i32"
	I64 DataType = "i64"
	F32 DataType = "f32"
	F64 DataType = "f64"
)

// Endian byte order of Modbus register for encoding/decoding
type Endian string

// Constants of Endian
const (
	LittleEndian Endian = "little"
	BigEndian    Endian = "big"
)

// Function codes the poller reads with.
const (
	ReadHolding = 3
	ReadInput   = 4
)

// Register locates the value a field device exposes for presence.
type Register struct {
	Name         string   `json:"Name"`
	Address      uint16   `json:"Address"`
	DataType     DataType `json:"DataType"`
	FunctionCode int      `json:"FunctionCode"`
	Endianness   Endian   `json:"Endianness"`
}

// Validate checks the register can be read.
func (r Register) Validate() error {
	if sizeOf(r.DataType) == 0 {
		return fmt.Errorf("register %s: unknown data type %q", r.Name, r.DataType)
	}
	if r.FunctionCode != ReadHolding && r.FunctionCode != ReadInput {
		return fmt.Errorf("register %s: unsupported function code %d", r.Name, r.FunctionCode)
	}
	return nil
}

// sizeOf returns the number of u16 registers for the datatype
func sizeOf(t DataType) uint16 {
	switch t {
	case U16, I16:
		return 1
	case U32, I32, F32:
		return 2
	case U64, I64, F64:
		return 4
	}
	return 0
}

func byteOrder(e Endian) binary.ByteOrder {
	if e == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// encode converts a float64 into the register's wire bytes
func encode(val float64, r Register) []byte {
	b := make([]byte, 2*sizeOf(r.DataType))
	order := byteOrder(r.Endianness)
	switch r.DataType {
	case U16:
		order.PutUint16(b, uint16(val))
	case I16:
		order.PutUint16(b, uint16(int16(val)))
	case U32:
		order.PutUint32(b, uint32(val))
	case I32:
		order.PutUint32(b, uint32(int32(val)))
	case F32:
		order.PutUint32(b, math.Float32bits(float32(val)))
	case U64:
		order.PutUint64(b, uint64(val))
	case I64:
		order.PutUint64(b, uint64(int64(val)))
	case F64:
		order.PutUint64(b, math.Float64bits(val))
	}
	return b
}

// decode converts the register's wire bytes into a float64
func decode(b []byte, r Register) (float64, error) {
	if want := int(2 * sizeOf(r.DataType)); want == 0 || len(b) < want {
		return 0, fmt.Errorf("register %s: %d bytes for %s", r.Name, len(b), r.DataType)
	}
	order := byteOrder(r.Endianness)
	switch r.DataType {
	case U16:
		return float64(order.Uint16(b)), nil
	case I16:
		return float64(int16(order.Uint16(b))), nil
	case U32:
		return float64(order.Uint32(b)), nil
	case I32:
		return float64(int32(order.Uint32(b))), nil
	case F32:
		return float64(math.Float32frombits(order.Uint32(b))), nil
	case U64:
		return float64(order.Uint64(b)), nil
	case I64:
		return float64(int64(order.Uint64(b))), nil
	}
	return math.Float64frombits(order.Uint64(b)), nil
}
