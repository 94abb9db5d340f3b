package multiscale

import (
	"errors"
	"fmt"
	"strings"
)

// Axis types.
const (
	AxisSpace   = "space"
	AxisChannel = "channel"
	AxisTime    = "time"
)

// Axis names one array axis.
type Axis struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Unit string `json:"unit,omitempty"`
}

// Roles locates the x, y, z, channel and time axes of an array by index in
// viewer order. Missing axes are -1.
type Roles struct {
	Spatial [3]int
	Channel int
	Time    int
}

// axisType infers the type of an axis from its name when none is given.
func axisType(a Axis) string {
	if a.Type != "" {
		return strings.ToLower(a.Type)
	}
	switch strings.ToLower(a.Name) {
	case "x", "y", "z":
		return AxisSpace
	case "c", "ch", "channel":
		return AxisChannel
	case "t", "time":
		return AxisTime
	default:
		return ""
	}
}

// RolesOf assigns roles to axes. Spatial axes named x, y or z take those
// slots; other space axes fill the remaining slots in order. An array needs
// at least one spatial axis and at most one channel and one time axis.
func RolesOf(axes []Axis) (Roles, error) {
	r := Roles{Spatial: [3]int{-1, -1, -1}, Channel: -1, Time: -1}
	var unnamed []int
	for i, a := range axes {
		switch axisType(a) {
		case AxisSpace:
			switch strings.ToLower(a.Name) {
			case "x":
				r.Spatial[0] = i
			case "y":
				r.Spatial[1] = i
			case "z":
				r.Spatial[2] = i
			default:
				unnamed = append(unnamed, i)
			}
		case AxisChannel:
			if r.Channel >= 0 {
				return r, errors.New("more than one channel axis")
			}
			r.Channel = i
		case AxisTime:
			if r.Time >= 0 {
				return r, errors.New("more than one time axis")
			}
			r.Time = i
		default:
			return r, fmt.Errorf("axis %q has unsupported type %q", a.Name, a.Type)
		}
	}
	for _, i := range unnamed {
		placed := false
		for s := range r.Spatial {
			if r.Spatial[s] < 0 {
				r.Spatial[s] = i
				placed = true
				break
			}
		}
		if !placed {
			return r, errors.New("more than three spatial axes")
		}
	}
	if r.Spatial[0] < 0 {
		return r, errors.New("no spatial axes")
	}
	return r, nil
}

// defaultAxes names rank axes in viewer order: x, y, z, then c and t,
// matching the 5-D t,c,z,y,x layout of OME-NGFF before 0.3.
func defaultAxes(rank int) ([]Axis, error) {
	names := []string{"x", "y", "z", "c", "t"}
	if rank > len(names) {
		return nil, fmt.Errorf("%d dimensions without axis metadata", rank)
	}
	axes := make([]Axis, rank)
	for i := range axes {
		axes[i] = Axis{Name: names[i]}
		axes[i].Type = axisType(axes[i])
	}
	return axes, nil
}
