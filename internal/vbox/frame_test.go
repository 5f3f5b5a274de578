package vbox

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
	"unicode/utf16"
)

// responseFrame builds a valid VTH< frame for tests.
func responseFrame(cmd CommandNumber, payload []byte) []byte {
	frame := []byte(responseMarker)
	frame = append(frame, byte(cmd))
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(payload)+1))
	frame = append(frame, payload...)
	return append(frame, checksum(frame))
}

// encodeName builds a length-prefixed name field.
func encodeName(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := []byte{byte(2 * len(units))}
	for _, u := range units {
		out = append(out, byte(u), byte(u>>8))
	}
	return out
}

func TestEncodeParamRequest(t *testing.T) {
	got := EncodeParamRequest(CmdRoomParams, []byte{0x00, 0x07})
	want := []byte{'V', 'T', 'H', '>', 0x04, 0x00, 0x03, 0x00, 0x07}
	want = append(want, checksum(want))

	if !bytes.Equal(got, want) {
		t.Errorf("EncodeParamRequest() = % X, want % X", got, want)
	}
}

func TestEncodeParamRequest_EmptyPayload(t *testing.T) {
	got := EncodeParamRequest(CmdFloorNumbers, nil)
	if len(got) != 8 {
		t.Fatalf("len = %d, want 8", len(got))
	}
	if got[5] != 0 || got[6] != 1 {
		t.Errorf("length word = % X, want 00 01", got[5:7])
	}
	var sum byte
	for _, b := range got[:7] {
		sum += b
	}
	if got[7] != sum {
		t.Errorf("checksum = 0x%02X, want 0x%02X", got[7], sum)
	}
}

func TestDecodeParamResponse(t *testing.T) {
	payload := []byte{0x02, 0x00, 0x01, 0x00, 0x02}
	frame := responseFrame(CmdFloorNumbers, payload)

	got, err := DecodeParamResponse(CmdFloorNumbers, frame)
	if err != nil {
		t.Fatalf("DecodeParamResponse() error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = % X, want % X", got, payload)
	}
}

func TestDecodeParamResponse_Errors(t *testing.T) {
	valid := responseFrame(CmdFloorNumbers, []byte{0x01, 0x00, 0x05})

	badChecksum := bytes.Clone(valid)
	badChecksum[len(badChecksum)-1]++

	badHeader := bytes.Clone(valid)
	badHeader[3] = 'X'
	badHeader[len(badHeader)-1] = checksum(badHeader[:len(badHeader)-1])

	badLength := bytes.Clone(valid)
	badLength[6]++
	badLength[len(badLength)-1] = checksum(badLength[:len(badLength)-1])

	tests := []struct {
		name  string
		cmd   CommandNumber
		frame []byte
		want  error
	}{
		{"too short", CmdFloorNumbers, []byte("VTH<"), ErrFrameTooShort},
		{"checksum", CmdFloorNumbers, badChecksum, ErrBadChecksum},
		{"header", CmdFloorNumbers, badHeader, ErrBadHeader},
		{"command", CmdRoomNumbers, valid, ErrCommandMismatch},
		{"length", CmdFloorNumbers, badLength, ErrLengthMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeParamResponse(tt.cmd, tt.frame)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, ErrFraming) {
				t.Errorf("error %v does not wrap ErrFraming", err)
			}
		})
	}
}

func TestClassifyFrame(t *testing.T) {
	tests := []struct {
		frame string
		want  FrameKind
	}{
		{"VTH<\x01", FrameParamResponse},
		{"VTH>\x01", FrameParamEcho},
		{"H:N005:2:O\r\n", FrameCommandEcho},
		{"S:N005:2:O\r\n", FrameASCII},
		{"OK\r\n", FrameASCII},
	}
	for _, tt := range tests {
		if got := ClassifyFrame([]byte(tt.frame)); got != tt.want {
			t.Errorf("ClassifyFrame(%q) = %v, want %v", tt.frame, got, tt.want)
		}
	}
	if !FrameCommandEcho.IsEcho() || !FrameParamEcho.IsEcho() || FrameASCII.IsEcho() {
		t.Error("IsEcho() classification wrong")
	}
}

func TestSplitLines(t *testing.T) {
	got := SplitLines([]byte("S:PSW:OK\r\n\r\nS:C:1\r\n"))
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if string(got[0]) != "S:PSW:OK" || string(got[1]) != "S:C:1" {
		t.Errorf("lines = %q", got)
	}
}

func TestFrameReader_MixedStream(t *testing.T) {
	param := responseFrame(CmdACNumbers, []byte{0x01, 0x00, 0x03})
	var stream bytes.Buffer
	stream.WriteString("S:PSW:OK\r\n")
	stream.Write(param)
	stream.WriteString("S:N005:2:O\r\n")

	fr := NewFrameReader(&stream)

	f1, err := fr.ReadFrame()
	if err != nil || string(f1) != "S:PSW:OK\r\n" {
		t.Fatalf("frame 1 = %q, %v", f1, err)
	}
	f2, err := fr.ReadFrame()
	if err != nil || !bytes.Equal(f2, param) {
		t.Fatalf("frame 2 = % X, %v; want % X", f2, err, param)
	}
	f3, err := fr.ReadFrame()
	if err != nil || string(f3) != "S:N005:2:O\r\n" {
		t.Fatalf("frame 3 = %q, %v", f3, err)
	}
	if _, err := fr.ReadFrame(); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("ReadFrame() at EOF error = %v, want ErrConnectionClosed", err)
	}
}

func TestFrameReader_SplitDelivery(t *testing.T) {
	param := responseFrame(CmdFloorNumbers, []byte{0x00})
	pr, pw := io.Pipe()
	go func() {
		for _, b := range append(param, []byte("OK\r\n")...) {
			pw.Write([]byte{b})
		}
		pw.Close()
	}()

	fr := NewFrameReader(pr)
	f1, err := fr.ReadFrame()
	if err != nil || !bytes.Equal(f1, param) {
		t.Fatalf("frame 1 = % X, %v", f1, err)
	}
	f2, err := fr.ReadFrame()
	if err != nil || string(f2) != "OK\r\n" {
		t.Fatalf("frame 2 = %q, %v", f2, err)
	}
}

func TestFrameReader_BareLFInsideLine(t *testing.T) {
	fr := NewFrameReader(strings.NewReader("S:C\n:1\r\n"))
	got, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error: %v", err)
	}
	if string(got) != "S:C\n:1\r\n" {
		t.Errorf("frame = %q", got)
	}
}

func TestFrameReader_LineTooLong(t *testing.T) {
	fr := NewFrameReader(strings.NewReader(strings.Repeat("x", 3*maxLineLength)))
	_, err := fr.ReadFrame()
	if !errors.Is(err, ErrLineTooLong) {
		t.Errorf("error = %v, want ErrLineTooLong", err)
	}
}

func TestFrameReader_RecoversAfterLineTooLong(t *testing.T) {
	stream := strings.Repeat("x", 3*maxLineLength) + "\r\nS:C:1\r\n"
	fr := NewFrameReader(strings.NewReader(stream))

	if _, err := fr.ReadFrame(); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("first ReadFrame() error = %v, want ErrLineTooLong", err)
	}
	got, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("second ReadFrame() error: %v", err)
	}
	if string(got) != "S:C:1\r\n" {
		t.Errorf("frame after overlong line = %q, want %q", got, "S:C:1\r\n")
	}
}

func TestDecodeName(t *testing.T) {
	field := encodeName("Salon ראשי")
	got, err := decodeName(field[1:], int(field[0]))
	if err != nil {
		t.Fatalf("decodeName() error: %v", err)
	}
	if got != "Salon ראשי" {
		t.Errorf("decodeName() = %q", got)
	}

	if _, err := decodeName([]byte{'a', 0, 'b'}, 3); !errors.Is(err, ErrNameLength) {
		t.Errorf("odd length error = %v, want ErrNameLength", err)
	}
	if _, err := decodeName([]byte{'a', 0}, 4); !errors.Is(err, ErrNameLength) {
		t.Errorf("overlong error = %v, want ErrNameLength", err)
	}
}
