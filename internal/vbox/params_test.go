package vbox

import (
	"bytes"
	"errors"
	"testing"
)

func TestDiscoveryRequests(t *testing.T) {
	tests := []struct {
		name    string
		req     ParamRequest
		cmd     CommandNumber
		payload []byte
	}{
		{"floors", FloorNumbersRequest(), CmdFloorNumbers, nil},
		{"rooms", RoomNumbersRequest(), CmdRoomNumbers, []byte{0}},
		{"floor params", FloorParamsRequest(2), CmdFloorParams, []byte{0, 2}},
		{"room params", RoomParamsRequest(300), CmdRoomParams, []byte{0x01, 0x2C}},
		{"key params", KeyParamsRequest(5, 3), CmdKeyParams, []byte{0, 5, 3}},
		{"key params keypad zero", KeyParamsRequest(0, 1), CmdKeyParams, []byte{0x01, 0x00, 1}},
		{"ac params", ACParamsRequest(7), CmdACParams, []byte{0, 7}},
		{"scenario params", ScenarioParamsRequest(12), CmdScenarioParams, []byte{0, 12}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.req.Command != tt.cmd {
				t.Errorf("Command = %v, want %v", tt.req.Command, tt.cmd)
			}
			if !bytes.Equal(tt.req.Payload, tt.payload) {
				t.Errorf("Payload = % X, want % X", tt.req.Payload, tt.payload)
			}
			if enc := tt.req.Encode(); enc[4] != byte(tt.cmd) {
				t.Errorf("encoded command = %d", enc[4])
			}
		})
	}
}

func TestParseParamPayload_Numbers(t *testing.T) {
	resp, err := ParseParamPayload(CmdRoomNumbers, []byte{3, 0, 1, 0, 2, 0, 9})
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if resp.Count != 3 {
		t.Errorf("Count = %d, want 3", resp.Count)
	}
	if len(resp.FollowUps) != 3 {
		t.Fatalf("FollowUps = %d, want 3", len(resp.FollowUps))
	}
	last := resp.FollowUps[2]
	if last.Command != CmdRoomParams || !bytes.Equal(last.Payload, []byte{0, 9}) {
		t.Errorf("FollowUps[2] = %v", last)
	}
}

func TestParseParamPayload_NumbersCountMismatch(t *testing.T) {
	_, err := ParseParamPayload(CmdFloorNumbers, []byte{2, 0, 1})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("error = %v, want ErrLengthMismatch", err)
	}
}

func TestParseParamPayload_KeypadNumbers(t *testing.T) {
	// Two keypads: #5 with 2 keys, #0 with 1 key.
	payload := []byte{0, 2, 0, 5, 2, 0, 0, 1}
	resp, err := ParseParamPayload(CmdKeypadNumbers, payload)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if resp.Count != 3 {
		t.Errorf("Count = %d, want 3 keys", resp.Count)
	}
	want := []ParamRequest{KeyParamsRequest(5, 1), KeyParamsRequest(5, 2), KeyParamsRequest(0, 1)}
	if len(resp.FollowUps) != len(want) {
		t.Fatalf("FollowUps = %d, want %d", len(resp.FollowUps), len(want))
	}
	for i := range want {
		if !bytes.Equal(resp.FollowUps[i].Payload, want[i].Payload) {
			t.Errorf("FollowUps[%d] = %v, want %v", i, resp.FollowUps[i], want[i])
		}
	}
}

func TestParseParamPayload_Records(t *testing.T) {
	floor := append([]byte{0, 1}, encodeName("Ground")...)
	room := append([]byte{0, 4, 0, 1}, encodeName("Kitchen")...)
	key := append([]byte{0, 5, 2, byte(KeyDimmer), 0, 4}, encodeName("Spots")...)
	ac := append([]byte{0, 3, '4', 0, 4}, encodeName("Salon AC")...)
	scenario := append([]byte{0, 12, 0xFF, 0xFF}, encodeName("Good night")...)

	resp, err := ParseParamPayload(CmdFloorParams, floor)
	if err != nil || *resp.Floor != (Floor{ID: 1, Name: "Ground"}) {
		t.Errorf("floor = %+v, %v", resp, err)
	}
	resp, err = ParseParamPayload(CmdRoomParams, room)
	if err != nil || *resp.Room != (Room{ID: 4, FloorID: 1, Name: "Kitchen"}) {
		t.Errorf("room = %+v, %v", resp, err)
	}
	resp, err = ParseParamPayload(CmdKeyParams, key)
	if err != nil {
		t.Fatalf("key error: %v", err)
	}
	if *resp.Key != (Key{ID: 2, KeypadID: 5, Type: KeyDimmer, RoomID: 4, Name: "Spots"}) {
		t.Errorf("key = %+v", *resp.Key)
	}
	if resp.Keypad == nil || resp.Keypad.ID != 5 {
		t.Errorf("keypad = %+v", resp.Keypad)
	}
	resp, err = ParseParamPayload(CmdACParams, ac)
	if err != nil || *resp.AC != (AirConditioner{ID: 3, Type: ACTypeTMSF, RoomID: 4, Name: "Salon AC"}) {
		t.Errorf("ac = %+v, %v", resp, err)
	}
	resp, err = ParseParamPayload(CmdScenarioParams, scenario)
	if err != nil {
		t.Fatalf("scenario error: %v", err)
	}
	if !resp.Scenario.Global() || resp.Scenario.Name != "Good night" {
		t.Errorf("scenario = %+v", *resp.Scenario)
	}
}

func TestParseParamPayload_RecordErrors(t *testing.T) {
	tests := []struct {
		name    string
		cmd     CommandNumber
		payload []byte
		want    error
	}{
		{"name length too long", CmdFloorParams, []byte{0, 1, 6, 'a', 0}, ErrNameLength},
		{"name length odd", CmdFloorParams, []byte{0, 1, 1, 'a'}, ErrNameLength},
		{"truncated room", CmdRoomParams, []byte{0, 1}, ErrFrameTooShort},
		{"unknown key type", CmdKeyParams, []byte{0, 5, 1, 99, 0, 4, 0}, ErrFraming},
		{"ac type not a digit", CmdACParams, []byte{0, 3, 4, 0, 4, 0}, ErrFraming},
		{"unsupported command", CommandNumber(42), nil, ErrFraming},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseParamPayload(tt.cmd, tt.payload)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseParamResponse(t *testing.T) {
	frame := responseFrame(CmdACNumbers, []byte{1, 0, 3})
	resp, err := ParseParamResponse(CmdACNumbers, frame)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if resp.Count != 1 || len(resp.FollowUps) != 1 || resp.FollowUps[0].Command != CmdACParams {
		t.Errorf("resp = %+v", resp)
	}
}
