package vbox

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf16"
)

// Parameter frame layout.
const (
	// requestMarker starts every parameter request (client → VBox).
	requestMarker = "VTH>"

	// responseMarker starts every parameter response (VBox → client).
	responseMarker = "VTH<"

	// paramHeaderSize is marker(4) + command(1) + length(2).
	paramHeaderSize = 7

	// inboundLengthMask keeps the low 12 bits of the length word when
	// reading a frame off the stream.
	inboundLengthMask = 0x0FFF

	// maxLineLength bounds an ASCII line read without seeing CRLF.
	maxLineLength = 4096

	// readBufferSize is the buffered reader size for the TCP stream.
	readBufferSize = 4096
)

// lineTerminator ends every ASCII message in both directions.
var lineTerminator = []byte("\r\n")

// FrameKind classifies a complete frame received from the VBox.
type FrameKind int

const (
	// FrameASCII is a CRLF-terminated control line (status, ack, error...).
	FrameASCII FrameKind = iota

	// FrameParamResponse is a VTH< parameter response.
	FrameParamResponse

	// FrameParamEcho is our own VTH> request echoed back by the VBox.
	FrameParamEcho

	// FrameCommandEcho is our own H: command echoed back by the VBox.
	FrameCommandEcho
)

func (k FrameKind) String() string {
	switch k {
	case FrameASCII:
		return "ascii"
	case FrameParamResponse:
		return "param_response"
	case FrameParamEcho:
		return "param_echo"
	case FrameCommandEcho:
		return "command_echo"
	default:
		return fmt.Sprintf("FrameKind(%d)", int(k))
	}
}

// IsEcho reports whether frames of this kind are echoes of our own output.
func (k FrameKind) IsEcho() bool {
	return k == FrameParamEcho || k == FrameCommandEcho
}

// ClassifyFrame decides the kind of a frame from its leading bytes.
func ClassifyFrame(frame []byte) FrameKind {
	switch {
	case bytes.HasPrefix(frame, []byte(responseMarker)):
		return FrameParamResponse
	case bytes.HasPrefix(frame, []byte(requestMarker)):
		return FrameParamEcho
	case bytes.HasPrefix(frame, []byte("H:")):
		return FrameCommandEcho
	default:
		return FrameASCII
	}
}

// checksum is the sum of all bytes modulo 256.
func checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return sum
}

// EncodeParamRequest builds a VTH> request frame.
//
// Layout: "VTH>" | cmd | length (uint16 BE, payload+1) | payload | checksum.
func EncodeParamRequest(cmd CommandNumber, payload []byte) []byte {
	frame := make([]byte, 0, paramHeaderSize+len(payload)+1)
	frame = append(frame, requestMarker...)
	frame = append(frame, byte(cmd))
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(payload)+1))
	frame = append(frame, payload...)
	return append(frame, checksum(frame))
}

// DecodeParamResponse validates a VTH< frame for the expected command and
// returns its payload (checksum excluded).
//
// Checks run in order: checksum, marker, command number, declared length.
// Every failure wraps ErrFraming.
func DecodeParamResponse(cmd CommandNumber, frame []byte) ([]byte, error) {
	if len(frame) < paramHeaderSize+1 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(frame))
	}
	if sum := checksum(frame[:len(frame)-1]); sum != frame[len(frame)-1] {
		return nil, fmt.Errorf("%w: computed 0x%02X, frame has 0x%02X", ErrBadChecksum, sum, frame[len(frame)-1])
	}
	if !bytes.HasPrefix(frame, []byte(responseMarker)) {
		return nil, fmt.Errorf("%w: %q", ErrBadHeader, frame[:4])
	}
	if got := CommandNumber(frame[4]); got != cmd {
		return nil, fmt.Errorf("%w: got %v, want %v", ErrCommandMismatch, got, cmd)
	}
	declared := int(binary.BigEndian.Uint16(frame[5:7]))
	if declared != len(frame)-paramHeaderSize {
		return nil, fmt.Errorf("%w: declared %d, actual %d", ErrLengthMismatch, declared, len(frame)-paramHeaderSize)
	}
	return frame[paramHeaderSize : len(frame)-1], nil
}

// SplitLines splits a chunk of ASCII data into its CRLF-delimited
// messages, dropping empty ones.
func SplitLines(data []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(data, lineTerminator) {
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}

// FrameReader reads complete frames from the VBox byte stream.
//
// Thread Safety: not safe for concurrent use; the receive loop owns it.
type FrameReader struct {
	r *bufio.Reader

	// discarding is set after ErrLineTooLong until the rest of the
	// overlong line has been skipped. pendingCR records that the bytes
	// seen so far end in CR.
	discarding bool
	pendingCR  bool
}

// NewFrameReader wraps r for frame reading.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, readBufferSize)}
}

// ReadFrame returns the next complete frame.
//
// If the stream continues with "VT" a parameter frame is read: the rest of
// the 7-byte header, then exactly the number of bytes its length word
// announces. Otherwise bytes are read up to and including CRLF.
//
// Returns:
//   - []byte: The frame, including the CRLF for ASCII frames
//   - error: ErrConnectionClosed on EOF, ErrLineTooLong, or the read error
//
// ErrLineTooLong is recoverable: the next call skips the remainder of the
// overlong line and continues with the frame after its CRLF.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	if f.discarding {
		if err := f.skipLine(); err != nil {
			return nil, err
		}
	}
	prefix, err := f.r.Peek(2)
	if err != nil {
		return nil, f.readErr(err)
	}
	if prefix[0] == 'V' && prefix[1] == 'T' {
		return f.readParamFrame()
	}
	return f.readLine()
}

func (f *FrameReader) readParamFrame() ([]byte, error) {
	header := make([]byte, paramHeaderSize)
	if _, err := io.ReadFull(f.r, header); err != nil {
		return nil, f.readErr(err)
	}
	length := int(binary.BigEndian.Uint16(header[5:7]) & inboundLengthMask)
	frame := make([]byte, paramHeaderSize+length)
	copy(frame, header)
	if _, err := io.ReadFull(f.r, frame[paramHeaderSize:]); err != nil {
		return nil, f.readErr(err)
	}
	return frame, nil
}

func (f *FrameReader) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := f.r.ReadSlice('\n')
		line = append(line, chunk...)
		switch {
		case err == nil:
			if bytes.HasSuffix(line, lineTerminator) {
				return line, nil
			}
			// Bare LF inside a line; keep reading.
		case errors.Is(err, bufio.ErrBufferFull):
		default:
			return nil, f.readErr(err)
		}
		if len(line) > maxLineLength {
			f.discarding = true
			f.pendingCR = line[len(line)-1] == '\r'
			return nil, fmt.Errorf("%w: %d bytes without CRLF", ErrLineTooLong, len(line))
		}
	}
}

// skipLine drops bytes up to and including the next CRLF.
func (f *FrameReader) skipLine() error {
	for {
		chunk, err := f.r.ReadSlice('\n')
		switch {
		case err == nil:
			n := len(chunk)
			if (n >= 2 && chunk[n-2] == '\r') || (n == 1 && f.pendingCR) {
				f.discarding = false
				f.pendingCR = false
				return nil
			}
			f.pendingCR = false
		case errors.Is(err, bufio.ErrBufferFull):
			f.pendingCR = len(chunk) > 0 && chunk[len(chunk)-1] == '\r'
		default:
			return f.readErr(err)
		}
	}
}

func (f *FrameReader) readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return err
}

// decodeName decodes a name field of byteLen bytes from b.
// Each byte pair forms one UTF-16 unit with the second byte high.
func decodeName(b []byte, byteLen int) (string, error) {
	if byteLen%2 != 0 || byteLen > len(b) {
		return "", fmt.Errorf("%w: %d bytes declared, %d available", ErrNameLength, byteLen, len(b))
	}
	units := make([]uint16, byteLen/2)
	for i := range units {
		units[i] = uint16(b[2*i+1])<<8 | uint16(b[2*i])
	}
	return string(utf16.Decode(units)), nil
}

// appendWord appends v as a big-endian 16-bit word.
func appendWord(b []byte, v int) []byte {
	return binary.BigEndian.AppendUint16(b, uint16(v))
}

// readWord reads a big-endian 16-bit word at offset off.
func readWord(b []byte, off int) (int, error) {
	if off+2 > len(b) {
		return 0, fmt.Errorf("%w: need word at offset %d of %d", ErrFrameTooShort, off, len(b))
	}
	return int(binary.BigEndian.Uint16(b[off : off+2])), nil
}
