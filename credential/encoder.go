package credential

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	recordFormatVersionCurrent = 2
	recordFormatVersionV1      = 1
)

// ErrCorruptRecord is returned when a stored credential blob cannot be decoded.
var ErrCorruptRecord = errors.New("credential record corrupt")

// Encode serializes c in the current record format:
//
//	version:1 | len:2 | access | len:2 | refresh | savedAt:8
//
// Lengths are big-endian. v1 records carry no savedAt field.
func Encode(c Credentials) ([]byte, error) {
	if len(c.AccessToken) > math.MaxUint16 {
		return nil, errors.New("access token too long")
	}
	if len(c.RefreshToken) > math.MaxUint16 {
		return nil, errors.New("refresh token too long")
	}

	var buf bytes.Buffer
	buf.Grow(1 + 2 + len(c.AccessToken) + 2 + len(c.RefreshToken) + 8)

	buf.WriteByte(recordFormatVersionCurrent)
	writeField(&buf, c.AccessToken)
	writeField(&buf, c.RefreshToken)
	if err := binary.Write(&buf, binary.BigEndian, c.SavedAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by [Encode] in any supported version.
func Decode(data []byte) (Credentials, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if version != recordFormatVersionCurrent && version != recordFormatVersionV1 {
		return Credentials{}, fmt.Errorf("%w: unsupported record version %d", ErrCorruptRecord, version)
	}

	var c Credentials
	if c.AccessToken, err = readField(reader); err != nil {
		return Credentials{}, fmt.Errorf("%w: access token: %v", ErrCorruptRecord, err)
	}
	if c.RefreshToken, err = readField(reader); err != nil {
		return Credentials{}, fmt.Errorf("%w: refresh token: %v", ErrCorruptRecord, err)
	}

	if version == recordFormatVersionCurrent {
		if err := binary.Read(reader, binary.BigEndian, &c.SavedAt); err != nil {
			return Credentials{}, fmt.Errorf("%w: saved at: %v", ErrCorruptRecord, err)
		}
	}

	if reader.Len() != 0 {
		return Credentials{}, fmt.Errorf("%w: %d trailing bytes", ErrCorruptRecord, reader.Len())
	}

	return c, nil
}

func writeField(buf *bytes.Buffer, s string) {
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(s)))
	buf.Write(n[:])
	buf.WriteString(s)
}

func readField(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
