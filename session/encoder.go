package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// The encoded record holds the immutable part of a session. LastActivity and
// RefreshJTI change on every touch and rotation, so they live in their own
// hash fields next to it.
const (
	recordFormatVersionCurrent = 1
	maxRoles                   = 255
)

// Encode serializes the immutable fields of s.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordFormatVersionCurrent)

	if err := writeString8(&buf, "userID", s.UserID); err != nil {
		return nil, err
	}
	if err := writeString8(&buf, "username", s.Username); err != nil {
		return nil, err
	}

	if len(s.Roles) > maxRoles {
		return nil, errors.New("too many roles")
	}
	buf.WriteByte(byte(len(s.Roles)))
	for _, role := range s.Roles {
		if err := writeString8(&buf, "role", role); err != nil {
			return nil, err
		}
	}

	if len(s.Device.UserAgent) > math.MaxUint16 {
		return nil, errors.New("userAgent too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(s.Device.UserAgent))); err != nil {
		return nil, err
	}
	buf.WriteString(s.Device.UserAgent)

	if err := writeString8(&buf, "deviceType", string(s.Device.DeviceType)); err != nil {
		return nil, err
	}
	if err := writeString8(&buf, "browser", s.Device.Browser); err != nil {
		return nil, err
	}
	if err := writeString8(&buf, "os", s.Device.OS); err != nil {
		return nil, err
	}
	if err := writeString8(&buf, "ipAddress", s.IPAddress); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt.UnixMilli()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a record written by Encode. SessionID, LastActivity and
// RefreshJTI are left for the caller to fill.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordFormatVersionCurrent {
		return nil, errors.New("invalid session version")
	}

	s := &Session{}

	if s.UserID, err = readString8(reader); err != nil {
		return nil, err
	}
	if s.Username, err = readString8(reader); err != nil {
		return nil, err
	}

	roleCount, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if roleCount > 0 {
		s.Roles = make([]string, roleCount)
		for i := range s.Roles {
			if s.Roles[i], err = readString8(reader); err != nil {
				return nil, err
			}
		}
	}

	var uaLen uint16
	if err := binary.Read(reader, binary.BigEndian, &uaLen); err != nil {
		return nil, err
	}
	ua := make([]byte, uaLen)
	if _, err := io.ReadFull(reader, ua); err != nil {
		return nil, err
	}
	s.Device.UserAgent = string(ua)

	deviceType, err := readString8(reader)
	if err != nil {
		return nil, err
	}
	s.Device.DeviceType = DeviceType(deviceType)
	if s.Device.Browser, err = readString8(reader); err != nil {
		return nil, err
	}
	if s.Device.OS, err = readString8(reader); err != nil {
		return nil, err
	}
	if s.IPAddress, err = readString8(reader); err != nil {
		return nil, err
	}

	var createdAt int64
	if err := binary.Read(reader, binary.BigEndian, &createdAt); err != nil {
		return nil, err
	}
	s.CreatedAt = time.UnixMilli(createdAt)

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in session record")
	}

	return s, nil
}

func writeString8(buf *bytes.Buffer, field, v string) error {
	if len(v) > 255 {
		return fmt.Errorf("%s too long", field)
	}
	buf.WriteByte(byte(len(v)))
	buf.WriteString(v)
	return nil
}

func readString8(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}
