package environment

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
)

// Load reads the room and tag definition files.
func Load(roomPath, tagsPath string) (*Environment, error) {
	room, err := loadFile(roomPath, ParseRoom)
	if err != nil {
		return nil, err
	}
	tags, err := loadFile(tagsPath, ParseTags)
	if err != nil {
		return nil, err
	}
	return New(room, tags), nil
}

func loadFile[T any](path string, parse func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	out, err := parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return out, nil
}

// ParseRoom reads a room outline. Blank lines and lines starting with '#'
// are skipped; the first remaining line holds the vertex count and every
// following line one "x y" or "x,y" vertex.
func ParseRoom(r io.Reader) ([]orb.Point, error) {
	var points []orb.Point
	err := scanRecords(r, func(lineNo int, fields []string) error {
		if len(fields) < 2 {
			return errors.Errorf("line %d: expected x and y", lineNo)
		}
		x, err := strconv.Atoi(fields[0])
		if err != nil {
			return errors.Wrapf(err, "line %d: x", lineNo)
		}
		y, err := strconv.Atoi(fields[1])
		if err != nil {
			return errors.Wrapf(err, "line %d: y", lineNo)
		}
		points = append(points, orb.Point{float64(x), float64(y)})
		return nil
	}, func(n int) { points = make([]orb.Point, 0, n) })
	return points, err
}

// ParseTags reads a tag table with "x y id enabled" records.
func ParseTags(r io.Reader) ([]Tag, error) {
	var tags []Tag
	err := scanRecords(r, func(lineNo int, fields []string) error {
		if len(fields) < 3 {
			return errors.Errorf("line %d: expected x, y and id", lineNo)
		}
		x, err := strconv.Atoi(fields[0])
		if err != nil {
			return errors.Wrapf(err, "line %d: x", lineNo)
		}
		y, err := strconv.Atoi(fields[1])
		if err != nil {
			return errors.Wrapf(err, "line %d: y", lineNo)
		}

		id := fields[2]
		if len(id) > TagIDLength {
			id = id[:TagIDLength]
		}

		enabled := true
		if len(fields) > 3 {
			v, err := strconv.Atoi(fields[3])
			if err != nil {
				return errors.Wrapf(err, "line %d: enabled flag", lineNo)
			}
			enabled = v > 0
		}

		tags = append(tags, Tag{X: x, Y: y, ID: id, Enabled: enabled})
		return nil
	}, func(n int) { tags = make([]Tag, 0, n) })
	return tags, err
}

// scanRecords walks the count-prefixed record format shared by the room
// and tag files. Records past the declared count are rejected.
func scanRecords(r io.Reader, record func(lineNo int, fields []string) error, alloc func(n int)) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	count := -1
	read := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.FieldsFunc(line, func(c rune) bool {
			return c == ' ' || c == ',' || c == '\t'
		})

		if count < 0 {
			n, err := strconv.Atoi(fields[0])
			if err != nil || n < 0 {
				return errors.Errorf("line %d: invalid record count %q", lineNo, fields[0])
			}
			count = n
			alloc(n)
			continue
		}

		if read >= count {
			return errors.Errorf("line %d: more records than declared count %d", lineNo, count)
		}
		if err := record(lineNo, fields); err != nil {
			return err
		}
		read++
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read")
	}

	if count < 0 {
		return errors.New("missing record count")
	}
	if read != count {
		return errors.Errorf("declared %d records, found %d", count, read)
	}
	return nil
}
