// Package environment describes the static arena the robot operates in:
// the room outline and the table of RFID landmark tags.
package environment

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/heitortanoue/rescuebot/pkg/geom"
)

// EmptyTag is what the RFID reader reports when no tag is in range.
const EmptyTag = "0000000000"

// TagIDLength is the fixed length of an RFID tag id.
const TagIDLength = 10

// TagStatus classifies a tag id read by the landmark sensor.
type TagStatus int

const (
	TagKnown TagStatus = iota
	TagEmpty
	TagUnknown
	TagDisabled
)

func (s TagStatus) String() string {
	switch s {
	case TagKnown:
		return "known"
	case TagEmpty:
		return "empty"
	case TagUnknown:
		return "unknown"
	case TagDisabled:
		return "disabled"
	default:
		return "invalid"
	}
}

// Tag is a landmark with a surveyed position.
type Tag struct {
	X       int    `json:"x"`
	Y       int    `json:"y"`
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// Environment is immutable once built.
type Environment struct {
	room   orb.Ring
	tags   []Tag
	width  int
	height int
}

// New builds an environment from room vertices (in order, implicitly
// closed) and a tag table.
func New(room []orb.Point, tags []Tag) *Environment {
	env := &Environment{
		room: append(orb.Ring(nil), room...),
		tags: append([]Tag(nil), tags...),
	}

	for _, p := range env.room {
		if int(p[0]) > env.width {
			env.width = int(p[0])
		}
		if int(p[1]) > env.height {
			env.height = int(p[1])
		}
	}
	return env
}

// Width is the largest x coordinate of the room outline.
func (e *Environment) Width() int { return e.width }

// Height is the largest y coordinate of the room outline.
func (e *Environment) Height() int { return e.height }

// Area of the room bounding box.
func (e *Environment) Area() float64 { return float64(e.width) * float64(e.height) }

// Room returns a copy of the outline vertices.
func (e *Environment) Room() []orb.Point {
	return append([]orb.Point(nil), e.room...)
}

// Tags returns a copy of the tag table.
func (e *Environment) Tags() []Tag {
	return append([]Tag(nil), e.tags...)
}

// Tag returns the tag at index i.
func (e *Environment) Tag(i int) (Tag, bool) {
	if i < 0 || i >= len(e.tags) {
		return Tag{}, false
	}
	return e.tags[i], true
}

// InBounds reports whether (x, y) lies inside the room bounding box.
func (e *Environment) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x <= e.width && y <= e.height
}

// Contains reports whether (x, y) lies inside the room outline itself.
func (e *Environment) Contains(x, y int) bool {
	if len(e.room) < 3 {
		return e.InBounds(x, y)
	}
	ring := e.room
	if !ring.Closed() {
		ring = append(append(orb.Ring(nil), ring...), ring[0])
	}
	return planar.RingContains(ring, orb.Point{float64(x), float64(y)})
}

// WallDistance returns the distance from (x, y) to the closest segment of
// the room outline, including the segment from the last vertex back to the
// first.
func (e *Environment) WallDistance(x, y int) float64 {
	n := len(e.room)
	if n == 0 {
		return math.Inf(1)
	}

	p := orb.Point{float64(x), float64(y)}
	best := math.Inf(1)
	for i := 0; i < n; i++ {
		a := e.room[i]
		b := e.room[(i+1)%n]
		if d := geom.DistToSegment(p, a, b); d < best {
			best = d
		}
	}
	return best
}

// Check looks up a tag id read by the landmark sensor.
func (e *Environment) Check(id string) (int, TagStatus) {
	if id == "" || id == EmptyTag {
		return -1, TagEmpty
	}

	for i, tag := range e.tags {
		if tag.ID == id {
			if tag.Enabled {
				return i, TagKnown
			}
			return i, TagDisabled
		}
	}
	return -1, TagUnknown
}
