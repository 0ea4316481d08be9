package wire

// FrameFlag is a bitmask carried on CAN_TX/CAN_RX/CAN_TXR payloads.
type FrameFlag uint8

const (
	FlagEXT FrameFlag = 1 << iota // 29-bit identifier
	FlagRTR                       // remote transmission request
	FlagFDF                       // CAN-FD frame format
	FlagBRS                       // bit-rate switch (FD only)
	FlagESI                       // error state indicator (FD only)
	FlagDRP                       // dropped (TXR only: frame was dropped, not sent)
)

func (f FrameFlag) Has(bit FrameFlag) bool { return f&bit != 0 }

// BusStatus mirrors the device's CAN_STATUS bus_status field.
type BusStatus uint8

const (
	BusErrorActive BusStatus = iota
	BusErrorWarning
	BusErrorPassive
	BusOff
)

func (s BusStatus) String() string {
	switch s {
	case BusErrorActive:
		return "ERROR_ACTIVE"
	case BusErrorWarning:
		return "ERROR_WARNING"
	case BusErrorPassive:
		return "ERROR_PASSIVE"
	case BusOff:
		return "BUS_OFF"
	default:
		return "UNKNOWN"
	}
}

// CANError mirrors the device's CAN_ERROR error field.
type CANError uint8

const (
	CANErrorNone CANError = iota
	CANErrorStuff
	CANErrorForm
	CANErrorAck
	CANErrorBit1
	CANErrorBit0
	CANErrorCRC
)

func (e CANError) String() string {
	switch e {
	case CANErrorNone:
		return "NONE"
	case CANErrorStuff:
		return "STUFF"
	case CANErrorForm:
		return "FORM"
	case CANErrorAck:
		return "ACK"
	case CANErrorBit1:
		return "BIT1"
	case CANErrorBit0:
		return "BIT0"
	case CANErrorCRC:
		return "CRC"
	default:
		return "UNKNOWN"
	}
}

// ErrorDirFlag qualifies a CAN_ERROR event.
type ErrorDirFlag uint8

const (
	// ErrorRxTxTx indicates the error occurred on transmit; absence means receive.
	ErrorRxTxTx ErrorDirFlag = 1 << iota
	// ErrorNMDTDt indicates the error occurred on the data-bitrate phase of an
	// FD frame; absence means the nominal-bitrate phase.
	ErrorNMDTDt
)

// dlcToLen maps a DLC nibble (0-15) to the corresponding CAN-FD payload
// length in bytes. Classic CAN only uses DLC 0-8, where the mapping is the
// identity; FD frames use the full table.
var dlcToLen = [16]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// DLCToLen converts a DLC nibble to a payload length in bytes.
func DLCToLen(dlc uint8) uint8 {
	if dlc > 15 {
		dlc = 15
	}
	return dlcToLen[dlc]
}

// LenToDLC converts a payload length in bytes to the smallest DLC whose
// mapped length is >= length. Used when a classic CAN frame is shorter
// than 8 bytes and needs its exact DLC preserved, and when an FD frame's
// length must be rounded up to one of the FD-specific lengths.
func LenToDLC(length int) uint8 {
	for dlc, l := range dlcToLen {
		if int(l) >= length {
			return uint8(dlc)
		}
	}
	return 15
}

// Frame is the decoded form of a CAN_TX or CAN_RX payload, independent of
// wire byte order.
type Frame struct {
	ID        uint32
	DLC       uint8
	Flags     FrameFlag
	TrackID   uint8 // CAN_TX/CAN_TXR only
	TimestampUs uint32 // CAN_RX/CAN_TXR/CAN_STATUS/CAN_ERROR only
	Data      []byte
}

// IsExtended reports whether the frame carries a 29-bit identifier.
func (f Frame) IsExtended() bool { return f.Flags.Has(FlagEXT) }

// IsFD reports whether the frame uses the CAN-FD format.
func (f Frame) IsFD() bool { return f.Flags.Has(FlagFDF) }
