package las

import "encoding/binary"

// Record is one point data format 2 record.
type Record struct {
	X, Y, Z         int32
	Intensity       uint16
	ReturnNumber    uint8
	NumberOfReturns uint8
	Classification  uint8
	ScanAngle       int8
	UserData        uint8
	PointSourceID   uint16
	Red             uint16
	Green           uint16
	Blue            uint16
}

// Put encodes r into the first RecordLength bytes of buf.
func (r *Record) Put(buf []byte) {
	_ = buf[RecordLength-1]
	le := binary.LittleEndian
	le.PutUint32(buf[0:], uint32(r.X))
	le.PutUint32(buf[4:], uint32(r.Y))
	le.PutUint32(buf[8:], uint32(r.Z))
	le.PutUint16(buf[12:], r.Intensity)
	buf[14] = r.ReturnNumber&0x07 | (r.NumberOfReturns&0x07)<<3
	buf[15] = r.Classification
	buf[16] = byte(r.ScanAngle)
	buf[17] = r.UserData
	le.PutUint16(buf[18:], r.PointSourceID)
	le.PutUint16(buf[20:], r.Red)
	le.PutUint16(buf[22:], r.Green)
	le.PutUint16(buf[24:], r.Blue)
}

// DecodeRecord reads a record from the first RecordLength bytes of buf.
func DecodeRecord(buf []byte) Record {
	_ = buf[RecordLength-1]
	le := binary.LittleEndian
	return Record{
		X:               int32(le.Uint32(buf[0:])),
		Y:               int32(le.Uint32(buf[4:])),
		Z:               int32(le.Uint32(buf[8:])),
		Intensity:       le.Uint16(buf[12:]),
		ReturnNumber:    buf[14] & 0x07,
		NumberOfReturns: (buf[14] >> 3) & 0x07,
		Classification:  buf[15],
		ScanAngle:       int8(buf[16]),
		UserData:        buf[17],
		PointSourceID:   le.Uint16(buf[18:]),
		Red:             le.Uint16(buf[20:]),
		Green:           le.Uint16(buf[22:]),
		Blue:            le.Uint16(buf[24:]),
	}
}

// Color8To16 widens an 8-bit channel to the full 16-bit range.
func Color8To16(v uint8) uint16 {
	return uint16(v) * 257
}
