package coordinator

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// Room is a named two-seat container. Players counts the occupied seats.
type Room struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Players int    `json:"players"`
}

const roomCapacity = 2

// Directory holds explicitly created rooms in creation order.
type Directory struct {
	order []string
	rooms map[string]*Room
	newID func() string
}

func NewDirectory(newID func() string) *Directory {
	if newID == nil {
		newID = newRoomID
	}
	return &Directory{rooms: make(map[string]*Room), newID: newID}
}

func (d *Directory) Create(name string) Room {
	id := d.newID()
	for i := 0; i < 5; i++ {
		if _, exists := d.rooms[id]; !exists { break }
		id = d.newID()
	}
	if _, exists := d.rooms[id]; exists {
		id = fmt.Sprintf("%s_%d", id, len(d.order)+1)
	}
	r := &Room{ID: id, Name: strings.TrimSpace(name)}
	d.rooms[id] = r
	d.order = append(d.order, id)
	return *r
}

func (d *Directory) List() []Room {
	out := make([]Room, 0, len(d.order))
	for _, id := range d.order {
		if r, ok := d.rooms[id]; ok {
			out = append(out, *r)
		}
	}
	return out
}

func (d *Directory) Get(id string) (Room, bool) {
	r, ok := d.rooms[id]
	if !ok { return Room{}, false }
	return *r, true
}

// Join counts an occupant while the room has a free slot. A full room still accepts the join;
// the extra participant becomes a spectator at the session layer.
func (d *Directory) Join(id string) (incremented bool, err error) {
	r, ok := d.rooms[id]
	if !ok {
		return false, fmt.Errorf("join %s: %w", id, ErrRoomNotFound)
	}
	if r.Players < roomCapacity {
		r.Players++
		return true, nil
	}
	return false, nil
}

// Leave decrements the occupant count and removes the room when it reaches zero.
func (d *Directory) Leave(id string) (deleted bool) {
	r, ok := d.rooms[id]
	if !ok { return false }
	r.Players--
	if r.Players > 0 { return false }
	delete(d.rooms, id)
	for i, oid := range d.order {
		if oid == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return true
}

func (d *Directory) Len() int { return len(d.rooms) }

// newRoomID returns room_<unix millis>_<9 base36 chars>.
func newRoomID() string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, 9)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("room_%d_%x", time.Now().UnixMilli(), time.Now().UnixNano()%1_000_000_000)
	}
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return fmt.Sprintf("room_%d_%s", time.Now().UnixMilli(), string(b))
}
