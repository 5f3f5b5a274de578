package vbox

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// unknownCount is the announced count before a numbers response arrives.
// It can never match a received count, so a category is not loaded until
// the VBox has announced it.
const unknownCount = 999

// globalRoomID marks a scenario that is not bound to a room.
const globalRoomID = 65535

// Floor is a floor of the installation.
type Floor struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Room is a room on a floor.
type Room struct {
	ID      int    `json:"id"`
	FloorID int    `json:"floor_id"`
	Name    string `json:"name"`
}

// Keypad is a physical node holding keys.
type Keypad struct {
	ID int `json:"id"`
}

// Key is one programmable key of a keypad.
type Key struct {
	ID       int     `json:"id"`
	KeypadID int     `json:"keypad_id"`
	Type     KeyType `json:"type"`
	RoomID   int     `json:"room_id"`
	Name     string  `json:"name"`
}

// DeviceID returns the key's composite identifier, e.g. "N005-2".
func (k Key) DeviceID() string {
	return KeyDeviceID(k.KeypadID, k.ID)
}

// AirConditioner is a thermostat or AC unit.
type AirConditioner struct {
	ID     int    `json:"id"`
	Type   ACType `json:"type"`
	RoomID int    `json:"room_id"`
	Name   string `json:"name"`
}

// DeviceID returns the AC's composite identifier, e.g. "A003".
func (a AirConditioner) DeviceID() string {
	return fmt.Sprintf("A%03d", a.ID)
}

// Scenario is a stored scene.
type Scenario struct {
	ID     int    `json:"id"`
	RoomID int    `json:"room_id"`
	Name   string `json:"name"`
}

// DeviceID returns the scenario's composite identifier, e.g. "R0012".
func (s Scenario) DeviceID() string {
	return fmt.Sprintf("R%04d", s.ID)
}

// Global reports whether the scenario is not bound to a room.
func (s Scenario) Global() bool {
	return s.RoomID == 0 || s.RoomID == globalRoomID
}

type keyRef struct {
	keypad int
	key    int
}

// Counts holds one number per discovery category.
type Counts struct {
	Floors    int `json:"floors"`
	Rooms     int `json:"rooms"`
	Keys      int `json:"keys"`
	ACs       int `json:"acs"`
	Scenarios int `json:"scenarios"`
}

// Catalog is the object database discovered from a VBox.
//
// It is "loaded" when, for every category, the number of received records
// equals the count the VBox announced.
//
// Thread Safety: all methods are safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	floors    map[int]Floor
	rooms     map[int]Room
	keypads   map[int]Keypad
	keys      map[keyRef]Key
	acs       map[int]AirConditioner
	scenarios map[int]Scenario
	announced Counts

	snapshot *Snapshot
}

// NewCatalog returns an empty catalog with every count unknown.
func NewCatalog() *Catalog {
	c := &Catalog{}
	c.reset()
	return c
}

// Reset discards all records and announced counts.
func (c *Catalog) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func (c *Catalog) reset() {
	c.floors = make(map[int]Floor)
	c.rooms = make(map[int]Room)
	c.keypads = make(map[int]Keypad)
	c.keys = make(map[keyRef]Key)
	c.acs = make(map[int]AirConditioner)
	c.scenarios = make(map[int]Scenario)
	c.announced = Counts{
		Floors: unknownCount, Rooms: unknownCount, Keys: unknownCount,
		ACs: unknownCount, Scenarios: unknownCount,
	}
	c.snapshot = nil
}

// Apply records the contents of a parameter response.
func (c *Catalog) Apply(resp *ParamResponse) {
	switch resp.Command {
	case CmdFloorNumbers, CmdRoomNumbers, CmdKeypadNumbers, CmdACNumbers, CmdScenarioNumbers:
		c.SetCount(resp.Command, resp.Count)
	}
	if resp.Floor != nil {
		c.AddFloor(*resp.Floor)
	}
	if resp.Room != nil {
		c.AddRoom(*resp.Room)
	}
	if resp.Keypad != nil {
		c.AddKeypad(*resp.Keypad)
	}
	if resp.Key != nil {
		c.AddKey(*resp.Key)
	}
	if resp.AC != nil {
		c.AddAirConditioner(*resp.AC)
	}
	if resp.Scenario != nil {
		c.AddScenario(*resp.Scenario)
	}
}

// SetCount records the count a numbers response announced.
// For CmdKeypadNumbers n is the total number of keys.
func (c *Catalog) SetCount(cmd CommandNumber, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch cmd {
	case CmdFloorNumbers:
		c.announced.Floors = n
	case CmdRoomNumbers:
		c.announced.Rooms = n
	case CmdKeypadNumbers:
		c.announced.Keys = n
	case CmdACNumbers:
		c.announced.ACs = n
	case CmdScenarioNumbers:
		c.announced.Scenarios = n
	}
	c.snapshot = nil
}

func (c *Catalog) AddFloor(f Floor) {
	c.mu.Lock()
	c.floors[f.ID] = f
	c.snapshot = nil
	c.mu.Unlock()
}

func (c *Catalog) AddRoom(r Room) {
	c.mu.Lock()
	c.rooms[r.ID] = r
	c.snapshot = nil
	c.mu.Unlock()
}

func (c *Catalog) AddKeypad(k Keypad) {
	c.mu.Lock()
	c.keypads[k.ID] = k
	c.snapshot = nil
	c.mu.Unlock()
}

// AddKey records a key and the keypad it belongs to.
func (c *Catalog) AddKey(k Key) {
	c.mu.Lock()
	c.keys[keyRef{k.KeypadID, k.ID}] = k
	if _, ok := c.keypads[k.KeypadID]; !ok {
		c.keypads[k.KeypadID] = Keypad{ID: k.KeypadID}
	}
	c.snapshot = nil
	c.mu.Unlock()
}

func (c *Catalog) AddAirConditioner(a AirConditioner) {
	c.mu.Lock()
	c.acs[a.ID] = a
	c.snapshot = nil
	c.mu.Unlock()
}

func (c *Catalog) AddScenario(s Scenario) {
	c.mu.Lock()
	c.scenarios[s.ID] = s
	c.snapshot = nil
	c.mu.Unlock()
}

// Announced returns the counts the VBox announced (999 while unknown).
func (c *Catalog) Announced() Counts {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.announced
}

// Received returns the number of records stored per category.
func (c *Catalog) Received() Counts {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.received()
}

func (c *Catalog) received() Counts {
	return Counts{
		Floors:    len(c.floors),
		Rooms:     len(c.rooms),
		Keys:      len(c.keys),
		ACs:       len(c.acs),
		Scenarios: len(c.scenarios),
	}
}

// IsLoaded reports whether every category has all announced records.
func (c *Catalog) IsLoaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.received() == c.announced
}

// Progress describes received against announced counts, e.g.
// "Floors: 2/2, Rooms: 5/6, Keys: 0/999, ACs: 0/999, Scenarios: 0/999".
func (c *Catalog) Progress() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.progressLocked()
}

func sortedValues[K comparable, V any](m map[K]V, less func(a, b V) int) []V {
	out := slices.Collect(maps.Values(m))
	slices.SortFunc(out, less)
	return out
}

func byKeyRef(a, b Key) int {
	return cmp.Or(cmp.Compare(a.KeypadID, b.KeypadID), cmp.Compare(a.ID, b.ID))
}

// Floors returns all floors ordered by ID.
func (c *Catalog) Floors() []Floor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedValues(c.floors, func(a, b Floor) int { return cmp.Compare(a.ID, b.ID) })
}

// Rooms returns all rooms ordered by ID.
func (c *Catalog) Rooms() []Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedValues(c.rooms, func(a, b Room) int { return cmp.Compare(a.ID, b.ID) })
}

// Keypads returns all keypads ordered by ID.
func (c *Catalog) Keypads() []Keypad {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedValues(c.keypads, func(a, b Keypad) int { return cmp.Compare(a.ID, b.ID) })
}

// Keys returns all keys ordered by keypad, then key.
func (c *Catalog) Keys() []Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedValues(c.keys, byKeyRef)
}

// AirConditioners returns all ACs ordered by ID.
func (c *Catalog) AirConditioners() []AirConditioner {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedValues(c.acs, func(a, b AirConditioner) int { return cmp.Compare(a.ID, b.ID) })
}

// Scenarios returns all scenarios ordered by ID.
func (c *Catalog) Scenarios() []Scenario {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedValues(c.scenarios, func(a, b Scenario) int { return cmp.Compare(a.ID, b.ID) })
}

// Key looks up a key by keypad and key number.
func (c *Catalog) Key(keypad, key int) (Key, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.keys[keyRef{keypad, key}]
	return k, ok
}

// AirConditioner looks up an AC by ID.
func (c *Catalog) AirConditioner(id int) (AirConditioner, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.acs[id]
	return a, ok
}

// Scenario looks up a scenario by ID.
func (c *Catalog) Scenario(id int) (Scenario, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.scenarios[id]
	return s, ok
}

// Snapshot is the resolved, nested view of a loaded catalog.
type Snapshot struct {
	Floors    []FloorView   `json:"floors"`
	Scenarios []Scenario    `json:"scenarios"`
	Keypads   []KeypadView  `json:"keypads"`
	Unplaced  *RoomContents `json:"unplaced,omitempty"`
	Counts    Counts        `json:"counts"`
}

// FloorView is a floor with its rooms.
type FloorView struct {
	Floor
	Rooms []RoomView `json:"rooms"`
}

// RoomView is a room with everything placed in it.
type RoomView struct {
	Room
	RoomContents
}

// RoomContents lists the devices placed in one room.
type RoomContents struct {
	Keys            []KeyView        `json:"keys"`
	AirConditioners []AirConditioner `json:"air_conditioners"`
	Scenarios       []Scenario       `json:"scenarios"`
}

func (rc RoomContents) empty() bool {
	return len(rc.Keys) == 0 && len(rc.AirConditioners) == 0 && len(rc.Scenarios) == 0
}

// KeyView is a key with its composite identifier.
type KeyView struct {
	Key
	DeviceID string `json:"device_id"`
}

// KeypadView is a keypad with the identifiers of its keys.
type KeypadView struct {
	Keypad
	KeyIDs []string `json:"key_ids"`
}

// Snapshot resolves relationships and returns the nested view.
//
// The result is cached until the catalog changes. Objects whose room or
// floor is unknown are collected under Unplaced rather than dropped.
//
// Returns:
//   - *Snapshot: The nested view; callers must not modify it
//   - error: ErrDiscoveryIncomplete if the catalog is not fully loaded
func (c *Catalog) Snapshot() (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.received() != c.announced {
		return nil, fmt.Errorf("%w: %s", ErrDiscoveryIncomplete, c.progressLocked())
	}
	if c.snapshot != nil {
		return c.snapshot, nil
	}

	byRoom := make(map[int]*RoomContents, len(c.rooms))
	for id := range c.rooms {
		byRoom[id] = &RoomContents{
			Keys:            []KeyView{},
			AirConditioners: []AirConditioner{},
			Scenarios:       []Scenario{},
		}
	}
	unplaced := &RoomContents{}

	snap := &Snapshot{Scenarios: []Scenario{}, Counts: c.announced}

	for _, k := range sortedValues(c.keys, byKeyRef) {
		kv := KeyView{Key: k, DeviceID: k.DeviceID()}
		if rc, ok := byRoom[k.RoomID]; ok {
			rc.Keys = append(rc.Keys, kv)
		} else {
			unplaced.Keys = append(unplaced.Keys, kv)
		}
	}
	for _, a := range sortedValues(c.acs, func(a, b AirConditioner) int { return cmp.Compare(a.ID, b.ID) }) {
		if rc, ok := byRoom[a.RoomID]; ok {
			rc.AirConditioners = append(rc.AirConditioners, a)
		} else {
			unplaced.AirConditioners = append(unplaced.AirConditioners, a)
		}
	}
	for _, s := range sortedValues(c.scenarios, func(a, b Scenario) int { return cmp.Compare(a.ID, b.ID) }) {
		rc, ok := byRoom[s.RoomID]
		if s.Global() || !ok {
			snap.Scenarios = append(snap.Scenarios, s)
			continue
		}
		rc.Scenarios = append(rc.Scenarios, s)
	}

	floorIdx := make(map[int]int, len(c.floors))
	for _, f := range sortedValues(c.floors, func(a, b Floor) int { return cmp.Compare(a.ID, b.ID) }) {
		floorIdx[f.ID] = len(snap.Floors)
		snap.Floors = append(snap.Floors, FloorView{Floor: f, Rooms: []RoomView{}})
	}
	for _, r := range sortedValues(c.rooms, func(a, b Room) int { return cmp.Compare(a.ID, b.ID) }) {
		rc := byRoom[r.ID]
		if i, ok := floorIdx[r.FloorID]; ok {
			snap.Floors[i].Rooms = append(snap.Floors[i].Rooms, RoomView{Room: r, RoomContents: *rc})
			continue
		}
		unplaced.Keys = append(unplaced.Keys, rc.Keys...)
		unplaced.AirConditioners = append(unplaced.AirConditioners, rc.AirConditioners...)
		unplaced.Scenarios = append(unplaced.Scenarios, rc.Scenarios...)
	}
	if snap.Floors == nil {
		snap.Floors = []FloorView{}
	}

	keysByPad := make(map[int][]string)
	for _, k := range sortedValues(c.keys, byKeyRef) {
		keysByPad[k.KeypadID] = append(keysByPad[k.KeypadID], k.DeviceID())
	}
	snap.Keypads = []KeypadView{}
	for _, kp := range sortedValues(c.keypads, func(a, b Keypad) int { return cmp.Compare(a.ID, b.ID) }) {
		ids := keysByPad[kp.ID]
		if ids == nil {
			ids = []string{}
		}
		snap.Keypads = append(snap.Keypads, KeypadView{Keypad: kp, KeyIDs: ids})
	}

	if !unplaced.empty() {
		snap.Unplaced = unplaced
	}
	c.snapshot = snap
	return snap, nil
}

func (c *Catalog) progressLocked() string {
	got, want := c.received(), c.announced
	return fmt.Sprintf("Floors: %d/%d, Rooms: %d/%d, Keys: %d/%d, ACs: %d/%d, Scenarios: %d/%d",
		got.Floors, want.Floors, got.Rooms, want.Rooms, got.Keys, want.Keys,
		got.ACs, want.ACs, got.Scenarios, want.Scenarios)
}

// LoadedCatalog builds a loaded catalog from stored records; the announced
// counts are the record counts.
func LoadedCatalog(floors []Floor, rooms []Room, keys []Key, acs []AirConditioner, scenarios []Scenario) *Catalog {
	c := NewCatalog()
	for _, f := range floors {
		c.floors[f.ID] = f
	}
	for _, r := range rooms {
		c.rooms[r.ID] = r
	}
	for _, k := range keys {
		c.keys[keyRef{k.KeypadID, k.ID}] = k
		c.keypads[k.KeypadID] = Keypad{ID: k.KeypadID}
	}
	for _, a := range acs {
		c.acs[a.ID] = a
	}
	for _, s := range scenarios {
		c.scenarios[s.ID] = s
	}
	c.announced = c.received()
	return c
}
