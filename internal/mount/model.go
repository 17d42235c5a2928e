package mount

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fisaks/mountlink/internal/util"
)

type AlignStar struct {
	Number   int     `json:"number"`
	HA       float64 `json:"ha"`  // hours
	Dec      float64 `json:"dec"` // degrees
	ErrorRMS float64 `json:"errorRMS"`
	Angle    float64 `json:"angle"`
}

// AlignModel is the alignment model currently active in the mount. Valid is
// false when the mount has no model.
type AlignModel struct {
	Valid         bool        `json:"valid"`
	Azimuth       float64     `json:"azimuth"`
	Altitude      float64     `json:"altitude"`
	PolarError    float64     `json:"polarError"`
	PositionAngle float64     `json:"positionAngle"`
	OrthoError    float64     `json:"orthoError"`
	AzTurns       float64     `json:"azTurns"`
	AltTurns      float64     `json:"altTurns"`
	Terms         int         `json:"terms"`
	ErrorRMS      float64     `json:"errorRMS"`
	Stars         []AlignStar `json:"stars"`
}

type Model struct {
	holder[AlignModel]
	conn Communicator
}

func NewModel(conn Communicator) *Model {
	return &Model{conn: conn}
}

// Poll reads the model summary and star count, then every star. A star list
// that does not match the count rejects the whole update.
func (m *Model) Poll() (bool, error) {
	chunks, err := query(m.conn, ":getain#:getalst#", 2)
	if err != nil {
		return false, err
	}
	model, err := parseModelInfo(chunks[0])
	if err != nil {
		return false, err
	}
	count, err := util.ParseInt(chunks[1])
	if err != nil || count < 0 {
		return false, fmt.Errorf("star count %q", chunks[1])
	}
	if count > 0 {
		var b strings.Builder
		for i := 1; i <= count; i++ {
			fmt.Fprintf(&b, ":getalp%d#", i)
		}
		stars, err := query(m.conn, b.String(), count)
		if err != nil {
			return false, err
		}
		for i, chunk := range stars {
			star, err := parseAlignStar(i+1, chunk)
			if err != nil {
				return false, err
			}
			model.Stars = append(model.Stars, star)
		}
	}
	m.set(model)
	return true, nil
}

func parseModelInfo(s string) (AlignModel, error) {
	if s == "E" {
		return AlignModel{}, nil
	}
	f := strings.Split(s, ",")
	if len(f) != 9 {
		return AlignModel{}, fmt.Errorf("%w: model info has %d fields", ErrChunkCount, len(f))
	}
	var p fieldParser
	model := AlignModel{
		Valid:         true,
		Azimuth:       p.float("azimuth", f[0]),
		Altitude:      p.float("altitude", f[1]),
		PolarError:    p.float("polar error", f[2]),
		PositionAngle: p.float("position angle", f[3]),
		OrthoError:    p.float("ortho error", f[4]),
		AzTurns:       p.float("az turns", f[5]),
		AltTurns:      p.float("alt turns", f[6]),
		Terms:         p.int("terms", f[7]),
		ErrorRMS:      p.float("rms", f[8]),
	}
	return model, p.err
}

func parseAlignStar(n int, s string) (AlignStar, error) {
	f := strings.Split(s, ",")
	if len(f) != 4 {
		return AlignStar{}, fmt.Errorf("%w: star %d has %d fields", ErrChunkCount, n, len(f))
	}
	ha, err := util.ParseSexagesimal(f[0])
	if err != nil {
		return AlignStar{}, fmt.Errorf("star %d ha: %w", n, err)
	}
	dec, err := util.ParseSexagesimal(f[1])
	if err != nil {
		return AlignStar{}, fmt.Errorf("star %d dec: %w", n, err)
	}
	var p fieldParser
	star := AlignStar{
		Number:   n,
		HA:       ha,
		Dec:      dec,
		ErrorRMS: p.float("error", f[2]),
		Angle:    p.float("angle", f[3]),
	}
	return star, p.err
}

// DeletePoint removes star n (1-based) from the active model.
func (m *Model) DeletePoint(n int) error {
	return command(m.conn, ":delalp"+strconv.Itoa(n)+"#", "1")
}

// Clear deletes the active model.
func (m *Model) Clear() error {
	return command(m.conn, ":delalig#", "")
}

type NameListState struct {
	Names []string `json:"names"`
}

// NameList holds the names of the models stored in the mount.
type NameList struct {
	holder[NameListState]
	conn Communicator
}

func NewNameList(conn Communicator) *NameList {
	return &NameList{conn: conn}
}

func (n *NameList) Poll() (bool, error) {
	chunks, err := query(n.conn, ":modelcnt#", 1)
	if err != nil {
		return false, err
	}
	count, err := util.ParseInt(chunks[0])
	if err != nil || count < 0 {
		return false, fmt.Errorf("model count %q", chunks[0])
	}
	names := []string{}
	if count > 0 {
		var b strings.Builder
		for i := 1; i <= count; i++ {
			fmt.Fprintf(&b, ":modelnam%d#", i)
		}
		if names, err = query(n.conn, b.String(), count); err != nil {
			return false, err
		}
	}
	n.set(NameListState{Names: names})
	return true, nil
}

func validModelName(name string) error {
	if name == "" || len(name) > 15 || strings.ContainsAny(name, "#,") {
		return fmt.Errorf("invalid model name %q", name)
	}
	return nil
}

func (n *NameList) Load(name string) error {
	if err := validModelName(name); err != nil {
		return err
	}
	return command(n.conn, ":modelld0"+name+"#", "1")
}

func (n *NameList) Save(name string) error {
	if err := validModelName(name); err != nil {
		return err
	}
	return command(n.conn, ":modelsv0"+name+"#", "1")
}

func (n *NameList) Delete(name string) error {
	if err := validModelName(name); err != nil {
		return err
	}
	return command(n.conn, ":modeldel0"+name+"#", "1")
}
