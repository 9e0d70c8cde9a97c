// Package pheromone keeps the shared "recently visited" grid robots use to
// spread out over the arena. Cells store the time of the last deposit;
// robots steer towards the stalest neighbourhood and exchange the grid in
// column sectors small enough for a single datagram.
package pheromone

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/heitortanoue/rescuebot/internal/clock"
	"github.com/heitortanoue/rescuebot/pkg/environment"
	"github.com/heitortanoue/rescuebot/pkg/geom"
	"github.com/heitortanoue/rescuebot/pkg/protocol"
	"github.com/heitortanoue/rescuebot/pkg/robot"
)

const (
	// maxAge is the age byte for cells that are fully stale or were never
	// visited.
	maxAge = 255
	// offGridPenalty is what a sense stencil cell outside the grid adds to a
	// direction's score.
	offGridPenalty = 999999
	senseScale     = 100
)

// Direction is a movement suggestion relative to the robot heading.
type Direction int

const (
	// DirectionAny means every direction scored the same.
	DirectionAny Direction = iota - 1
	DirectionLeft
	DirectionTopLeft
	DirectionTop
	DirectionTopRight
	DirectionRight
	// DirectionNone means do not move.
	DirectionNone
)

// senseAngles are the sampled directions relative to the heading, indexed
// by Direction.
var senseAngles = [5]float64{-math.Pi / 2, -math.Pi / 4, 0, math.Pi / 4, math.Pi / 2}

func (d Direction) String() string {
	switch d {
	case DirectionAny:
		return "any"
	case DirectionLeft:
		return "left"
	case DirectionTopLeft:
		return "top-left"
	case DirectionTop:
		return "top"
	case DirectionTopRight:
		return "top-right"
	case DirectionRight:
		return "right"
	case DirectionNone:
		return "none"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Params configures the grid. Distances are millimetres, Lifetime is the
// number of seconds per timestamp unit.
type Params struct {
	CellWidth      int `yaml:"width"`
	Lifetime       int `yaml:"lifetime"`
	DepositRadius  int `yaml:"pheromone_radius"`
	EvalRadius     int `yaml:"eval_radius"`
	EvalDistance   int `yaml:"eval_dist"` // accepted in config, not read by Scores
	MaxSectorBytes int `yaml:"sector_max_size"`
}

// Map is the pheromone grid. It is not safe for concurrent use.
type Map struct {
	params Params

	xCells, yCells int
	cells          [][]int // [x][y], last deposit time in lifetime units

	depositStencil [][]bool
	senseStencil   [][]bool

	sectorSize  int // columns per sector
	sectorCount int

	clock clock.Clock
	rng   *rand.Rand
}

// New sizes the grid over the room and precomputes both stencils and the
// sector partition.
func New(env *environment.Environment, p Params, clk clock.Clock, rng *rand.Rand) (*Map, error) {
	if p.CellWidth <= 0 {
		return nil, fmt.Errorf("cell width must be positive, got %d", p.CellWidth)
	}
	if p.Lifetime <= 0 {
		return nil, fmt.Errorf("lifetime must be positive, got %d", p.Lifetime)
	}
	if p.DepositRadius < 0 || p.EvalRadius < 0 {
		return nil, fmt.Errorf("radii must not be negative")
	}
	if env.Width() <= 0 || env.Height() <= 0 {
		return nil, fmt.Errorf("environment has no area")
	}

	m := &Map{
		params: p,
		xCells: ceilDiv(env.Width(), p.CellWidth),
		yCells: ceilDiv(env.Height(), p.CellWidth),
		clock:  clk,
		rng:    rng,
	}

	m.sectorSize = p.MaxSectorBytes / m.yCells
	if m.sectorSize <= 0 {
		return nil, fmt.Errorf("sector of %d bytes cannot hold one column of %d cells", p.MaxSectorBytes, m.yCells)
	}
	m.sectorCount = ceilDiv(m.xCells, m.sectorSize)

	m.cells = make([][]int, m.xCells)
	for i := range m.cells {
		m.cells[i] = make([]int, m.yCells)
	}

	m.senseStencil = geom.Disk(stencilSide(p.EvalRadius, p.CellWidth))
	m.depositStencil = geom.Disk(stencilSide(p.DepositRadius, p.CellWidth))
	return m, nil
}

// stencilSide is the odd number of cells spanned by a disk of radius r.
func stencilSide(r, width int) int {
	side := ceilDiv(2*r, width)
	if side%2 == 0 {
		side++
	}
	return side
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Dimensions returns the grid size in cells.
func (m *Map) Dimensions() (x, y int) { return m.xCells, m.yCells }

// SectorLayout returns the number of columns per sector and the sector count.
func (m *Map) SectorLayout() (size, count int) { return m.sectorSize, m.sectorCount }

// DepositStencil returns the deposit mask.
func (m *Map) DepositStencil() [][]bool { return m.depositStencil }

// SenseStencil returns the sense mask.
func (m *Map) SenseStencil() [][]bool { return m.senseStencil }

// Cell returns the stored timestamp of a cell.
func (m *Map) Cell(x, y int) int { return m.cells[x][y] }

// Now returns the current time in lifetime units.
func (m *Map) Now() int {
	return int(m.clock.Now().Unix()) / m.params.Lifetime
}

// Deposit stamps the deposit stencil around (x, y). A stencil whose corner
// would fall left of or below the grid is ignored.
func (m *Map) Deposit(x, y int) {
	cx := x - m.params.DepositRadius
	cy := y - m.params.DepositRadius
	if cx < 0 || cy < 0 {
		return
	}
	cx /= m.params.CellWidth
	cy /= m.params.CellWidth

	now := m.Now()
	for i, col := range m.depositStencil {
		for j, set := range col {
			if set && m.inGrid(cx+i, cy+j) {
				m.cells[cx+i][cy+j] = now
			}
		}
	}
}

// Scores returns the raw staleness score of each of the five directions.
// Lower scores mean staler, more attractive areas.
func (m *Map) Scores(pose robot.Pose) [5]int {
	var s [5]int
	now := m.Now()

	// Sense areas sit just beyond the robot's own deposit disk.
	reach := float64((m.params.DepositRadius + m.params.EvalRadius) / m.params.CellWidth)
	originX := float64((pose.X - m.params.EvalRadius) / m.params.CellWidth)
	originY := float64((pose.Y - m.params.EvalRadius) / m.params.CellWidth)

	for k, offset := range senseAngles {
		x := int(math.Cos(pose.A+offset)*reach + originX)
		y := int(math.Sin(pose.A+offset)*reach + originY)

		for i, col := range m.senseStencil {
			for j, set := range col {
				if !set {
					continue
				}
				if !m.inGrid(x+i, y+j) {
					s[k] += offGridPenalty
					continue
				}
				age := now - m.cells[x+i][y+j]
				age = max(0, min(age, maxAge))
				s[k] += (256 - age) * senseScale
			}
		}
	}
	return s
}

// Sense picks the direction whose neighbourhood was visited least
// recently. Ties are broken at random; if all five directions score the
// same DirectionAny is returned.
func (m *Map) Sense(pose robot.Pose) Direction {
	s := m.Scores(pose)

	total := 0
	for _, v := range s {
		total += v
	}

	var p [5]float64
	best := 0
	for k := range s {
		p[k] = float64(total) / float64(s[k])
		switch {
		case p[k] > p[best]:
			best = k
		case k != best && p[k] == p[best]:
			if m.rng.Intn(10) > 5 {
				best = k
			}
		}
	}

	if p[0] == p[1] && p[0] == p[2] && p[0] == p[3] && p[0] == p[4] {
		return DirectionAny
	}
	return Direction(best)
}

// ExtractSectors serializes the whole grid, column by column, into sectors
// of at most MaxSectorBytes cells. Each cell is encoded as its age clamped
// to [1, 255].
func (m *Map) ExtractSectors() []protocol.Sector {
	now := m.Now()
	sectors := make([]protocol.Sector, 0, m.sectorCount)

	for num := 0; num < m.sectorCount; num++ {
		first := num * m.sectorSize
		last := min(first+m.sectorSize, m.xCells)

		data := make([]byte, 0, (last-first)*m.yCells)
		for x := first; x < last; x++ {
			for y := 0; y < m.yCells; y++ {
				age := now - m.cells[x][y]
				age = max(1, min(age, maxAge))
				data = append(data, byte(age))
			}
		}

		sectors = append(sectors, protocol.Sector{
			Num:       num,
			Size:      len(data),
			Timestamp: now,
			Data:      data,
		})
	}
	return sectors
}

// MergeSector folds a sector received from a peer into the grid. A cell
// only moves forward in time; ages of 255 carry no deposit and are skipped.
func (m *Map) MergeSector(s protocol.Sector) error {
	if s.Num < 0 || s.Num >= m.sectorCount {
		return fmt.Errorf("sector %d out of range [0, %d)", s.Num, m.sectorCount)
	}
	if len(s.Data) != s.Size {
		return fmt.Errorf("sector %d declares %d cells but carries %d", s.Num, s.Size, len(s.Data))
	}
	if s.Size > m.sectorSize*m.yCells {
		return fmt.Errorf("sector %d holds %d cells, more than the %d per sector", s.Num, s.Size, m.sectorSize*m.yCells)
	}

	first := s.Num * m.sectorSize
	for idx, age := range s.Data {
		x := first + idx/m.yCells
		y := idx % m.yCells
		if x >= m.xCells {
			break
		}
		if age >= maxAge {
			continue
		}
		if stamp := s.Timestamp - int(age); m.cells[x][y] < stamp {
			m.cells[x][y] = stamp
		}
	}
	return nil
}

func (m *Map) inGrid(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.xCells && y < m.yCells
}
