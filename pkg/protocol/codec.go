package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteString writes s as a length-prefixed modified UTF-8 string.
func WriteString(w io.Writer, s string) error {
	encoded := encodeModifiedUTF8(s)
	if len(encoded) > MaxStringLength {
		return ErrStringTooLong
	}

	frame := make([]byte, 2+len(encoded))
	binary.BigEndian.PutUint16(frame, uint16(len(encoded)))
	copy(frame[2:], encoded)
	_, err := w.Write(frame)
	return err
}

// ReadString reads one length-prefixed modified UTF-8 string.
func ReadString(r io.Reader) (string, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", err
	}

	n := binary.BigEndian.Uint16(hdr[:])
	if n == 0 {
		return "", nil
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", unexpectedEOF(err)
	}
	return decodeModifiedUTF8(body)
}

// WriteInt64 writes v as 8 big-endian bytes.
func WriteInt64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

// ReadInt64 reads 8 big-endian bytes as a signed integer.
func ReadInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, unexpectedEOF(err)
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// ReadSize reads a payload size and rejects negative values.
func ReadSize(r io.Reader) (int64, error) {
	size, err := ReadInt64(r)
	if err != nil {
		return 0, err
	}
	if size < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	return size, nil
}

// CopyChunked moves exactly n bytes from src to dst through buf. A single
// Read may return fewer bytes than asked for, so the loop keeps reading
// until n bytes have been accumulated. Running out of input early yields
// io.ErrUnexpectedEOF.
func CopyChunked(dst io.Writer, src io.Reader, n int64, buf []byte) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}
	if len(buf) == 0 {
		buf = make([]byte, DefaultChunkSize)
	}

	var copied int64
	for copied < n {
		want := int64(len(buf))
		if remaining := n - copied; remaining < want {
			want = remaining
		}

		read, rerr := src.Read(buf[:want])
		if read > 0 {
			written, werr := dst.Write(buf[:read])
			copied += int64(written)
			if werr != nil {
				return copied, werr
			}
			if written != read {
				return copied, io.ErrShortWrite
			}
		}

		if rerr != nil {
			if rerr == io.EOF {
				if copied < n {
					return copied, io.ErrUnexpectedEOF
				}
				break
			}
			return copied, rerr
		}
	}

	return copied, nil
}

// ExpectOK reads a status string and returns ErrUnexpectedStatus wrapped
// with the received text when it is not StatusOK.
func ExpectOK(r io.Reader) error {
	status, err := ReadString(r)
	if err != nil {
		return err
	}
	if status != StatusOK {
		return &StatusError{Status: status}
	}
	return nil
}

// StatusError carries a non-OK response string.
type StatusError struct {
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnexpectedStatus, e.Status)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// WriteNameList writes the LISTER success response: OK, every name, then
// one empty string as terminator.
func WriteNameList(w io.Writer, names []string) error {
	if err := WriteString(w, StatusOK); err != nil {
		return err
	}
	for _, name := range names {
		if err := WriteString(w, name); err != nil {
			return err
		}
	}
	return WriteString(w, "")
}

// ReadNameList reads names up to the empty-string terminator. The leading
// status must already have been consumed.
func ReadNameList(r io.Reader) ([]string, error) {
	var names []string
	for {
		name, err := ReadString(r)
		if err != nil {
			return names, err
		}
		if name == "" {
			return names, nil
		}
		names = append(names, name)
	}
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
