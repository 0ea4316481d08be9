package wire

import "encoding/binary"

// ByteOrder is the device's negotiated multi-byte integer order, discovered
// during the HELLO handshake. Every message on the wire uses this order
// except the HELLO reply itself, whose cmd_buffer_size field is always
// network (big-endian) regardless of the device's declared order.
type ByteOrder struct {
	binary.ByteOrder
	// name identifies the order for logging; binary.ByteOrder has no
	// exported name accessor of its own.
	name string
}

func (b ByteOrder) String() string { return b.name }

var (
	// LittleEndian is the device byte order used by little-endian hosts
	// and the majority of supported devices.
	LittleEndian = ByteOrder{ByteOrder: binary.LittleEndian, name: "LE"}
	// BigEndian is used when the HELLO handshake reports a big-endian
	// device.
	BigEndian = ByteOrder{ByteOrder: binary.BigEndian, name: "BE"}
	// Network is always big-endian; used only for the HELLO reply's
	// cmd_buffer_size field, per protocol exception.
	Network = BigEndian
)

// FromHelloFlag maps the wire byte_order flag from HELLO_HOST to a
// ByteOrder. A non-zero flag indicates big-endian device order.
func FromHelloFlag(flag uint8) ByteOrder {
	if flag != 0 {
		return BigEndian
	}
	return LittleEndian
}
