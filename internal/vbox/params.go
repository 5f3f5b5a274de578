package vbox

import "fmt"

// keypadZeroRequestID is sent in place of keypad 0 when requesting key
// parameters; the VBox does not answer requests addressed to keypad 0.
const keypadZeroRequestID = 256

// ParamRequest is one parameter API request.
type ParamRequest struct {
	Command CommandNumber
	Payload []byte
}

// Encode returns the VTH> frame for the request.
func (r ParamRequest) Encode() []byte {
	return EncodeParamRequest(r.Command, r.Payload)
}

func (r ParamRequest) String() string {
	return fmt.Sprintf("%v % X", r.Command, r.Payload)
}

// FloorNumbersRequest asks for the list of floor numbers.
func FloorNumbersRequest() ParamRequest {
	return ParamRequest{Command: CmdFloorNumbers}
}

// RoomNumbersRequest asks for the list of room numbers. The request takes
// a group number the protocol no longer uses; it is always 0.
func RoomNumbersRequest() ParamRequest {
	return ParamRequest{Command: CmdRoomNumbers, Payload: []byte{0}}
}

// KeypadNumbersRequest asks for the keypads and their key counts.
func KeypadNumbersRequest() ParamRequest {
	return ParamRequest{Command: CmdKeypadNumbers}
}

// ACNumbersRequest asks for the list of air conditioner numbers.
func ACNumbersRequest() ParamRequest {
	return ParamRequest{Command: CmdACNumbers}
}

// ScenarioNumbersRequest asks for the list of scenario numbers.
func ScenarioNumbersRequest() ParamRequest {
	return ParamRequest{Command: CmdScenarioNumbers}
}

// FloorParamsRequest asks for one floor's parameters.
func FloorParamsRequest(id int) ParamRequest {
	return ParamRequest{Command: CmdFloorParams, Payload: appendWord(nil, id)}
}

// RoomParamsRequest asks for one room's parameters.
func RoomParamsRequest(id int) ParamRequest {
	return ParamRequest{Command: CmdRoomParams, Payload: appendWord(nil, id)}
}

// KeyParamsRequest asks for one key's parameters. Keypad 0 is addressed as 256.
func KeyParamsRequest(keypad, key int) ParamRequest {
	if keypad == 0 {
		keypad = keypadZeroRequestID
	}
	return ParamRequest{Command: CmdKeyParams, Payload: append(appendWord(nil, keypad), byte(key))}
}

// ACParamsRequest asks for one air conditioner's parameters.
func ACParamsRequest(id int) ParamRequest {
	return ParamRequest{Command: CmdACParams, Payload: appendWord(nil, id)}
}

// ScenarioParamsRequest asks for one scenario's parameters.
func ScenarioParamsRequest(id int) ParamRequest {
	return ParamRequest{Command: CmdScenarioParams, Payload: appendWord(nil, id)}
}

// ParamResponse is a decoded parameter payload.
//
// Numbers responses set Count (the announced number of objects of that
// category; for keypads, the total number of keys) and FollowUps, one
// params request per object. Params responses set exactly one record.
type ParamResponse struct {
	Command   CommandNumber
	Count     int
	FollowUps []ParamRequest

	Floor    *Floor
	Room     *Room
	Keypad   *Keypad
	Key      *Key
	AC       *AirConditioner
	Scenario *Scenario
}

// ParseParamPayload decodes the payload of a validated VTH< frame.
func ParseParamPayload(cmd CommandNumber, payload []byte) (*ParamResponse, error) {
	switch cmd {
	case CmdFloorNumbers:
		return parseWordNumbers(cmd, payload, FloorParamsRequest)
	case CmdRoomNumbers:
		return parseWordNumbers(cmd, payload, RoomParamsRequest)
	case CmdACNumbers:
		return parseWordNumbers(cmd, payload, ACParamsRequest)
	case CmdScenarioNumbers:
		return parseWordNumbers(cmd, payload, ScenarioParamsRequest)
	case CmdKeypadNumbers:
		return parseKeypadNumbers(payload)
	case CmdFloorParams:
		return parseFloorParams(payload)
	case CmdRoomParams:
		return parseRoomParams(payload)
	case CmdKeyParams:
		return parseKeyParams(payload)
	case CmdACParams:
		return parseACParams(payload)
	case CmdScenarioParams:
		return parseScenarioParams(payload)
	default:
		return nil, fmt.Errorf("%w: unsupported command %v", ErrFraming, cmd)
	}
}

// ParseParamResponse validates a VTH< frame and decodes its payload.
func ParseParamResponse(cmd CommandNumber, frame []byte) (*ParamResponse, error) {
	payload, err := DecodeParamResponse(cmd, frame)
	if err != nil {
		return nil, err
	}
	return ParseParamPayload(cmd, payload)
}

// parseWordNumbers decodes count(1) followed by count big-endian IDs.
func parseWordNumbers(cmd CommandNumber, payload []byte, next func(int) ParamRequest) (*ParamResponse, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("%w: %v: empty payload", ErrFrameTooShort, cmd)
	}
	count := int(payload[0])
	body := payload[1:]
	if len(body)%2 != 0 || len(body)/2 != count {
		return nil, fmt.Errorf("%w: %v: count %d, %d id bytes", ErrLengthMismatch, cmd, count, len(body))
	}
	resp := &ParamResponse{Command: cmd, Count: count}
	for off := 0; off < len(body); off += 2 {
		id, _ := readWord(body, off)
		resp.FollowUps = append(resp.FollowUps, next(id))
	}
	return resp, nil
}

// parseKeypadNumbers decodes count(2) followed by count triplets of
// keypad id(2) and number of keys(1). Keys are numbered from 1.
func parseKeypadNumbers(payload []byte) (*ParamResponse, error) {
	count, err := readWord(payload, 0)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", CmdKeypadNumbers, err)
	}
	body := payload[2:]
	if len(body)%3 != 0 || len(body)/3 != count {
		return nil, fmt.Errorf("%w: %v: count %d, %d keypad bytes", ErrLengthMismatch, CmdKeypadNumbers, count, len(body))
	}
	resp := &ParamResponse{Command: CmdKeypadNumbers}
	for off := 0; off < len(body); off += 3 {
		keypad, _ := readWord(body, off)
		keys := int(body[off+2])
		resp.Count += keys
		for key := 1; key <= keys; key++ {
			resp.FollowUps = append(resp.FollowUps, KeyParamsRequest(keypad, key))
		}
	}
	return resp, nil
}

// nameAt decodes the length-prefixed name that ends the payload at off.
func nameAt(payload []byte, off int) (string, error) {
	if off >= len(payload) {
		return "", fmt.Errorf("%w: missing name length", ErrFrameTooShort)
	}
	n := int(payload[off])
	rest := payload[off+1:]
	if n != len(rest) {
		return "", fmt.Errorf("%w: declared %d bytes, %d remain", ErrNameLength, n, len(rest))
	}
	return decodeName(rest, n)
}

// wordsAt reads n consecutive words starting at off.
func wordsAt(payload []byte, off, n int) ([]int, error) {
	out := make([]int, n)
	for i := range out {
		w, err := readWord(payload, off+2*i)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

// parseFloorParams decodes id(2) nameLen(1) name.
func parseFloorParams(payload []byte) (*ParamResponse, error) {
	w, err := wordsAt(payload, 0, 1)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", CmdFloorParams, err)
	}
	name, err := nameAt(payload, 2)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", CmdFloorParams, err)
	}
	return &ParamResponse{Command: CmdFloorParams, Floor: &Floor{ID: w[0], Name: name}}, nil
}

// parseRoomParams decodes id(2) floor(2) nameLen(1) name.
func parseRoomParams(payload []byte) (*ParamResponse, error) {
	w, err := wordsAt(payload, 0, 2)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", CmdRoomParams, err)
	}
	name, err := nameAt(payload, 4)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", CmdRoomParams, err)
	}
	return &ParamResponse{Command: CmdRoomParams, Room: &Room{ID: w[0], FloorID: w[1], Name: name}}, nil
}

// parseKeyParams decodes keypad(2) key(1) type(1) room(2) nameLen(1) name.
func parseKeyParams(payload []byte) (*ParamResponse, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("%v: %w", CmdKeyParams, ErrFrameTooShort)
	}
	keypad, _ := readWord(payload, 0)
	keyType := KeyType(payload[3])
	if !keyType.Valid() {
		return nil, fmt.Errorf("%w: %v: unknown key type %d", ErrFraming, CmdKeyParams, payload[3])
	}
	room, _ := readWord(payload, 4)
	name, err := nameAt(payload, 6)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", CmdKeyParams, err)
	}
	return &ParamResponse{
		Command: CmdKeyParams,
		Keypad:  &Keypad{ID: keypad},
		Key: &Key{
			ID:       int(payload[2]),
			KeypadID: keypad,
			Type:     keyType,
			RoomID:   room,
			Name:     name,
		},
	}, nil
}

// parseACParams decodes id(2) type(ASCII digit) room(2) nameLen(1) name.
func parseACParams(payload []byte) (*ParamResponse, error) {
	if len(payload) < 5 {
		return nil, fmt.Errorf("%v: %w", CmdACParams, ErrFrameTooShort)
	}
	id, _ := readWord(payload, 0)
	if payload[2] < '0' || payload[2] > '9' {
		return nil, fmt.Errorf("%w: %v: AC type 0x%02X is not a digit", ErrFraming, CmdACParams, payload[2])
	}
	room, _ := readWord(payload, 3)
	name, err := nameAt(payload, 5)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", CmdACParams, err)
	}
	return &ParamResponse{
		Command: CmdACParams,
		AC:      &AirConditioner{ID: id, Type: ACType(payload[2] - '0'), RoomID: room, Name: name},
	}, nil
}

// parseScenarioParams decodes id(2) room(2) nameLen(1) name.
func parseScenarioParams(payload []byte) (*ParamResponse, error) {
	w, err := wordsAt(payload, 0, 2)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", CmdScenarioParams, err)
	}
	name, err := nameAt(payload, 4)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", CmdScenarioParams, err)
	}
	return &ParamResponse{Command: CmdScenarioParams, Scenario: &Scenario{ID: w[0], RoomID: w[1], Name: name}}, nil
}
