package domain

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// LwmInspectionActive is the hardware parameter that enables the external
// LWM verdict for a seam.
const LwmInspectionActive = "LWM_Inspection_Active"

// LwmInspectionTypeID identifies the device the LWM parameter belongs to.
var LwmInspectionTypeID = uuid.MustParse("F42DDE6B-C8FF-4CE5-86DE-1A5CB51D633A")

// Parameter is one hardware parameter of a seam.
type Parameter struct {
	Name   string
	TypeID uuid.UUID
	Value  interface{}
}

// ParameterSet holds the hardware configuration of a seam.
type ParameterSet []Parameter

// Find returns the parameter with the given name and type id. A nil type id
// matches any parameter of that name.
func (ps ParameterSet) Find(name string, typeID uuid.UUID) (Parameter, bool) {
	for _, p := range ps {
		if p.Name != name {
			continue
		}
		if typeID != uuid.Nil && p.TypeID != typeID {
			continue
		}
		return p, true
	}
	return Parameter{}, false
}

// Bool returns the boolean value of a parameter. Missing parameters and
// values that cannot be read as a boolean are false.
func (ps ParameterSet) Bool(name string, typeID uuid.UUID) bool {
	p, ok := ps.Find(name, typeID)
	if !ok {
		return false
	}
	switch v := p.Value.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	default:
		return false
	}
}
