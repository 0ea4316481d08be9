package wire

import (
	"github.com/jgressmann/supercan-go/internal/scerr"
)

// HelloHost is the device's reply to HELLO_DEVICE. Per protocol exception,
// CmdBufferSize is always encoded network-order (big-endian) regardless of
// the device's declared ByteOrder, since the host cannot yet assume an
// order when it reads this field.
type HelloHost struct {
	ProtoVersion  uint8
	ByteOrderFlag uint8 // 0 = little-endian device, non-zero = big-endian
	CmdBufferSize uint16
}

const helloHostBodyLen = 4

func DecodeHelloHost(buf []byte) (HelloHost, error) {
	if len(buf) < helloHostBodyLen {
		return HelloHost{}, scerr.New("wire.decode_hello", scerr.KindProtocolViolation, "short HELLO_HOST body")
	}
	return HelloHost{
		ProtoVersion:  buf[0],
		ByteOrderFlag: buf[1],
		CmdBufferSize: Network.Uint16(buf[2:4]),
	}, nil
}

func EncodeHelloHost(buf []byte, h HelloHost) {
	buf[0] = h.ProtoVersion
	buf[1] = h.ByteOrderFlag
	Network.PutUint16(buf[2:4], h.CmdBufferSize)
}

// DeviceInfo carries the channel's static identity, reported once per
// handshake and cached immutably for the attached-device lifetime.
type DeviceInfo struct {
	FeaturePerm   uint32
	FeatureConf   uint32
	FirmwareMajor uint8
	FirmwareMinor uint8
	FirmwarePatch uint8
	ChannelIndex  uint8
	Serial        [16]byte
	Name          string
}

const deviceInfoFixedLen = 28

// DecodeDeviceInfo decodes a DEVICE_INFO reply body: the fixed
// feature/firmware/serial header followed by a (NUL-padded) name filling
// the rest of the buffer.
func DecodeDeviceInfo(buf []byte, bo ByteOrder) (DeviceInfo, error) {
	if len(buf) < deviceInfoFixedLen {
		return DeviceInfo{}, scerr.New("wire.decode_device_info", scerr.KindProtocolViolation, "short DEVICE_INFO body")
	}
	var info DeviceInfo
	info.FeaturePerm = bo.Uint32(buf[0:4])
	info.FeatureConf = bo.Uint32(buf[4:8])
	info.FirmwareMajor = buf[8]
	info.FirmwareMinor = buf[9]
	info.FirmwarePatch = buf[10]
	info.ChannelIndex = buf[11]
	copy(info.Serial[:], buf[12:28])
	name := buf[28:]
	if i := indexZero(name); i >= 0 {
		name = name[:i]
	}
	info.Name = string(name)
	return info, nil
}

// EncodeDeviceInfo writes info into buf, which must be at least
// PadLen(deviceInfoFixedLen+len(info.Name)) bytes.
func EncodeDeviceInfo(buf []byte, bo ByteOrder, info DeviceInfo) int {
	bo.PutUint32(buf[0:4], info.FeaturePerm)
	bo.PutUint32(buf[4:8], info.FeatureConf)
	buf[8] = info.FirmwareMajor
	buf[9] = info.FirmwareMinor
	buf[10] = info.FirmwarePatch
	buf[11] = info.ChannelIndex
	copy(buf[12:28], info.Serial[:])
	n := copy(buf[28:], info.Name)
	return deviceInfoFixedLen + n
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

// CANInfo carries the channel's static CAN clock and hardware bit-timing
// constraints.
type CANInfo struct {
	ClockHz       uint32
	MsgBufferSize uint16
	FifoSizeRx    uint16
	FifoSizeTx    uint16

	NMBrpMin, NMBrpMax                 uint16
	NMTseg1Min, NMTseg1Max              uint16
	NMTseg2Min, NMTseg2Max              uint16
	NMSjwMax                            uint16

	DTBrpMin, DTBrpMax      uint16
	DTTseg1Min, DTTseg1Max  uint16
	DTTseg2Min, DTTseg2Max  uint16
	DTSjwMax                uint16
}

const canInfoBodyLen = 40

// DecodeCANInfo decodes a CAN_INFO reply body.
func DecodeCANInfo(buf []byte, bo ByteOrder) (CANInfo, error) {
	if len(buf) < canInfoBodyLen {
		return CANInfo{}, scerr.New("wire.decode_can_info", scerr.KindProtocolViolation, "short CAN_INFO body")
	}
	return CANInfo{
		ClockHz:       bo.Uint32(buf[0:4]),
		MsgBufferSize: bo.Uint16(buf[4:6]),
		FifoSizeRx:    bo.Uint16(buf[6:8]),
		FifoSizeTx:    bo.Uint16(buf[8:10]),
		// buf[10:12] reserved, keeps the body a multiple of LEN_MULTIPLE.
		NMBrpMin:   bo.Uint16(buf[12:14]),
		NMBrpMax:   bo.Uint16(buf[14:16]),
		NMTseg1Min: bo.Uint16(buf[16:18]),
		NMTseg1Max: bo.Uint16(buf[18:20]),
		NMTseg2Min: bo.Uint16(buf[20:22]),
		NMTseg2Max: bo.Uint16(buf[22:24]),
		NMSjwMax:   bo.Uint16(buf[24:26]),
		DTBrpMin:   bo.Uint16(buf[26:28]),
		DTBrpMax:   bo.Uint16(buf[28:30]),
		DTTseg1Min: bo.Uint16(buf[30:32]),
		DTTseg1Max: bo.Uint16(buf[32:34]),
		DTTseg2Min: bo.Uint16(buf[34:36]),
		DTTseg2Max: bo.Uint16(buf[36:38]),
		DTSjwMax:   bo.Uint16(buf[38:40]),
	}, nil
}

// EncodeCANInfo writes info into buf, which must be at least
// canInfoBodyLen bytes.
func EncodeCANInfo(buf []byte, bo ByteOrder, info CANInfo) {
	bo.PutUint32(buf[0:4], info.ClockHz)
	bo.PutUint16(buf[4:6], info.MsgBufferSize)
	bo.PutUint16(buf[6:8], info.FifoSizeRx)
	bo.PutUint16(buf[8:10], info.FifoSizeTx)
	buf[10], buf[11] = 0, 0
	bo.PutUint16(buf[12:14], info.NMBrpMin)
	bo.PutUint16(buf[14:16], info.NMBrpMax)
	bo.PutUint16(buf[16:18], info.NMTseg1Min)
	bo.PutUint16(buf[18:20], info.NMTseg1Max)
	bo.PutUint16(buf[20:22], info.NMTseg2Min)
	bo.PutUint16(buf[22:24], info.NMTseg2Max)
	bo.PutUint16(buf[24:26], info.NMSjwMax)
	bo.PutUint16(buf[26:28], info.DTBrpMin)
	bo.PutUint16(buf[28:30], info.DTBrpMax)
	bo.PutUint16(buf[30:32], info.DTTseg1Min)
	bo.PutUint16(buf[32:34], info.DTTseg1Max)
	bo.PutUint16(buf[34:36], info.DTTseg2Min)
	bo.PutUint16(buf[36:38], info.DTTseg2Max)
	bo.PutUint16(buf[38:40], info.DTSjwMax)
}

// FeatureFlag is one bit of the device's feature mask, as reported in
// DeviceInfo.FeaturePerm (what the hardware permits) and
// DeviceInfo.FeatureConf (what is currently configured), and as the Arg
// of a FEATURES message.
type FeatureFlag uint32

const (
	// FeatureTXR enables CAN_TXR completion messages. The bring-up script
	// always requests this bit: without it a transmitted frame's track-id
	// could never be released back to the pool.
	FeatureTXR FeatureFlag = 1 << iota
	// FeatureFDF enables CAN-FD frame format support.
	FeatureFDF
	// FeatureDAR disables automatic retransmission on error/arbitration
	// loss ("disable auto-retransmit").
	FeatureDAR
)

func (f FeatureFlag) Has(bit FeatureFlag) bool { return f&bit != 0 }

// FeatureOp selects how Features.Arg is applied to the device's
// configurable feature mask.
type FeatureOp uint8

const (
	FeatureOpClear FeatureOp = iota
	FeatureOpOr
	FeatureOpAnd
)

// Features is the host->device FEATURES message payload.
type Features struct {
	Op  FeatureOp
	Arg uint32
}

const featuresBodyLen = 8

func EncodeFeatures(buf []byte, bo ByteOrder, f Features) {
	buf[0] = byte(f.Op)
	buf[1], buf[2], buf[3] = 0, 0, 0
	bo.PutUint32(buf[4:8], f.Arg)
}

// BitTiming is the shared payload shape for NM_BITTIMING and DT_BITTIMING.
type BitTiming struct {
	Brp   uint16
	Sjw   uint16
	Tseg1 uint16
	Tseg2 uint16
}

const bitTimingBodyLen = 8

func EncodeBitTiming(buf []byte, bo ByteOrder, bt BitTiming) {
	bo.PutUint16(buf[0:2], bt.Brp)
	bo.PutUint16(buf[2:4], bt.Sjw)
	bo.PutUint16(buf[4:6], bt.Tseg1)
	bo.PutUint16(buf[6:8], bt.Tseg2)
}

func DecodeBitTiming(buf []byte, bo ByteOrder) (BitTiming, error) {
	if len(buf) < bitTimingBodyLen {
		return BitTiming{}, scerr.New("wire.decode_bittiming", scerr.KindProtocolViolation, "short bittiming body")
	}
	return BitTiming{
		Brp:   bo.Uint16(buf[0:2]),
		Sjw:   bo.Uint16(buf[2:4]),
		Tseg1: bo.Uint16(buf[4:6]),
		Tseg2: bo.Uint16(buf[6:8]),
	}, nil
}

// Bus is the host->device BUS message payload: arg=0 off, arg=1 on.
type Bus struct {
	On bool
}

func EncodeBus(buf []byte, b Bus) {
	if b.On {
		buf[0] = 1
	} else {
		buf[0] = 0
	}
	buf[1], buf[2], buf[3] = 0, 0, 0
}

// CANTx is the host->device CAN_TX message payload.
type CANTx struct {
	TrackID uint8
	CANID   uint32
	DLC     uint8
	Flags   FrameFlag
	Data    []byte
}

// EncodeCANTx writes the CAN_TX body into buf, which must be at least
// PadLen(8+len(tx.Data)) bytes. Returns the encoded body length before
// padding so callers can compute the wire Header.Len.
func EncodeCANTx(buf []byte, bo ByteOrder, tx CANTx) int {
	buf[0] = tx.TrackID
	buf[1] = tx.DLC
	buf[2] = byte(tx.Flags)
	buf[3] = 0
	bo.PutUint32(buf[4:8], tx.CANID)
	n := copy(buf[8:], tx.Data)
	return 8 + n
}

func DecodeCANTx(buf []byte, bo ByteOrder) (CANTx, error) {
	if len(buf) < 8 {
		return CANTx{}, scerr.New("wire.decode_can_tx", scerr.KindProtocolViolation, "short CAN_TX body")
	}
	dlc := buf[1]
	length := int(DLCToLen(dlc))
	if len(buf) < 8+length {
		return CANTx{}, scerr.New("wire.decode_can_tx", scerr.KindProtocolViolation, "CAN_TX body shorter than DLC implies")
	}
	data := make([]byte, length)
	copy(data, buf[8:8+length])
	return CANTx{
		TrackID: buf[0],
		DLC:     dlc,
		Flags:   FrameFlag(buf[2]),
		CANID:   bo.Uint32(buf[4:8]),
		Data:    data,
	}, nil
}

// CANRx is the device->host CAN_RX message payload.
type CANRx struct {
	CANID       uint32
	DLC         uint8
	Flags       FrameFlag
	TimestampUs uint32
	Data        []byte
}

func DecodeCANRx(buf []byte, bo ByteOrder) (CANRx, error) {
	if len(buf) < 12 {
		return CANRx{}, scerr.New("wire.decode_can_rx", scerr.KindProtocolViolation, "short CAN_RX body")
	}
	dlc := buf[1]
	flags := FrameFlag(buf[2])
	// RTR frames carry a DLC but no data bytes, so the header-plus-data
	// length check does not apply to them.
	length := 0
	if !flags.Has(FlagRTR) {
		length = int(DLCToLen(dlc))
		if len(buf) < 12+length {
			return CANRx{}, scerr.New("wire.decode_can_rx", scerr.KindProtocolViolation, "CAN_RX body shorter than DLC implies")
		}
	}
	data := make([]byte, length)
	copy(data, buf[12:12+length])
	return CANRx{
		CANID:       bo.Uint32(buf[4:8]),
		DLC:         dlc,
		Flags:       flags,
		TimestampUs: bo.Uint32(buf[8:12]),
		Data:        data,
	}, nil
}

// CANTxR is the device->host CAN_TXR message payload, acknowledging a
// previously submitted CAN_TX by track-id.
type CANTxR struct {
	TrackID     uint8
	Flags       FrameFlag
	TimestampUs uint32
}

const canTxRBodyLen = 8

func DecodeCANTxR(buf []byte, bo ByteOrder) (CANTxR, error) {
	if len(buf) < canTxRBodyLen {
		return CANTxR{}, scerr.New("wire.decode_can_txr", scerr.KindProtocolViolation, "short CAN_TXR body")
	}
	return CANTxR{
		TrackID:     buf[0],
		Flags:       FrameFlag(buf[1]),
		TimestampUs: bo.Uint32(buf[4:8]),
	}, nil
}

// CANStatus is the device->host CAN_STATUS message payload.
type CANStatus struct {
	Flags       uint8
	BusStatus   BusStatus
	TimestampUs uint32
	RxLost      uint16
	TxDropped   uint16
	RxErrors    uint8
	TxErrors    uint8
	FifoSizeRx  uint16
	FifoSizeTx  uint16
}

const canStatusBodyLen = 20

func DecodeCANStatus(buf []byte, bo ByteOrder) (CANStatus, error) {
	if len(buf) < canStatusBodyLen {
		return CANStatus{}, scerr.New("wire.decode_can_status", scerr.KindProtocolViolation, "short CAN_STATUS body")
	}
	return CANStatus{
		Flags:       buf[0],
		BusStatus:   BusStatus(buf[1]),
		TimestampUs: bo.Uint32(buf[4:8]),
		RxLost:      bo.Uint16(buf[8:10]),
		TxDropped:   bo.Uint16(buf[10:12]),
		RxErrors:    buf[12],
		TxErrors:    buf[13],
		FifoSizeRx:  bo.Uint16(buf[16:18]),
		FifoSizeTx:  bo.Uint16(buf[18:20]),
	}, nil
}

// CANErrorEvent is the device->host CAN_ERROR message payload.
type CANErrorEvent struct {
	Error       CANError
	Flags       ErrorDirFlag
	TimestampUs uint32
}

const canErrorBodyLen = 8

func DecodeCANErrorEvent(buf []byte, bo ByteOrder) (CANErrorEvent, error) {
	if len(buf) < canErrorBodyLen {
		return CANErrorEvent{}, scerr.New("wire.decode_can_error", scerr.KindProtocolViolation, "short CAN_ERROR body")
	}
	return CANErrorEvent{
		Error:       CANError(buf[0]),
		Flags:       ErrorDirFlag(buf[1]),
		TimestampUs: bo.Uint32(buf[4:8]),
	}, nil
}

// ErrorReply is the device->host ERROR message payload: a command reply
// carrying a single status code.
type ErrorReply struct {
	Code uint8
}

func DecodeErrorReply(buf []byte) (ErrorReply, error) {
	if len(buf) < 1 {
		return ErrorReply{}, scerr.New("wire.decode_error_reply", scerr.KindProtocolViolation, "empty ERROR body")
	}
	return ErrorReply{Code: buf[0]}, nil
}
