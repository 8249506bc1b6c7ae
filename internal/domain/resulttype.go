package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ResultType identifies the kind of an inspection result. Its numeric code
// names the per-type result files of a seam.
type ResultType int

// Measurement results.
const (
	GapWidth ResultType = iota
	GapPosition
	Missmatch
	AxisPositionAbsolute
	AxisPositionRelative
	SeamWidth
	KeyholePosition
	Convexity
	Roundness
	NoSeam
	NoStructure
	SideBurn
	Pores
	Holes
	Spurt
	Notch
	EdgeSkew
	SeamThickness
	UnEqualLegs
	SeamLength
	ReangeLength
	Weldbed
	ControlOut
	NoLaser
	NoLight
	LaserPower
	Value
	CoordPosition
	CoordPositionX
	CoordPositionY
	CoordPositionZ
	EFAINFeatures
)

// NIO types.
const (
	XCoordOutOfLimits ResultType = iota + 1000
	YCoordOutOfLimits
	ZCoordOutOfLimits
	ValueOutOfLimits
	RankViolation
	GapPositionError
	LaserPowerOutOfLimits
	SensorOutOfLimits
	Surveillance01
	Surveillance02
	Surveillance03
	Surveillance04
	NoResultsError
)

// LWMStandardResult carries the verdict of the external LWM device.
const LWMStandardResult ResultType = 2000

var resultTypeNames = map[ResultType]string{
	GapWidth:              "GapWidth",
	GapPosition:           "GapPosition",
	Missmatch:             "Missmatch",
	AxisPositionAbsolute:  "AxisPositionAbsolute",
	AxisPositionRelative:  "AxisPositionRelative",
	SeamWidth:             "SeamWidth",
	KeyholePosition:       "KeyholePosition",
	Convexity:             "Convexity",
	Roundness:             "Roundness",
	NoSeam:                "NoSeam",
	NoStructure:           "NoStructure",
	SideBurn:              "SideBurn",
	Pores:                 "Pores",
	Holes:                 "Holes",
	Spurt:                 "Spurt",
	Notch:                 "Notch",
	EdgeSkew:              "EdgeSkew",
	SeamThickness:         "SeamThickness",
	UnEqualLegs:           "UnEqualLegs",
	SeamLength:            "SeamLength",
	ReangeLength:          "ReangeLength",
	Weldbed:               "Weldbed",
	ControlOut:            "ControlOut",
	NoLaser:               "NoLaser",
	NoLight:               "NoLight",
	LaserPower:            "LaserPower",
	Value:                 "Value",
	CoordPosition:         "CoordPosition",
	CoordPositionX:        "CoordPositionX",
	CoordPositionY:        "CoordPositionY",
	CoordPositionZ:        "CoordPositionZ",
	EFAINFeatures:         "EFAINFeatures",
	XCoordOutOfLimits:     "XCoordOutOfLimits",
	YCoordOutOfLimits:     "YCoordOutOfLimits",
	ZCoordOutOfLimits:     "ZCoordOutOfLimits",
	ValueOutOfLimits:      "ValueOutOfLimits",
	RankViolation:         "RankViolation",
	GapPositionError:      "GapPositionError",
	LaserPowerOutOfLimits: "LaserPowerOutOfLimits",
	SensorOutOfLimits:     "SensorOutOfLimits",
	Surveillance01:        "Surveillance01",
	Surveillance02:        "Surveillance02",
	Surveillance03:        "Surveillance03",
	Surveillance04:        "Surveillance04",
	NoResultsError:        "NoResultsError",
	LWMStandardResult:     "LWMStandardResult",
}

// String returns the symbolic name, or the numeric code for unknown types.
func (t ResultType) String() string {
	if name, ok := resultTypeNames[t]; ok {
		return name
	}
	return strconv.Itoa(int(t))
}

// Code returns the numeric code used in file names and metadata.
func (t ResultType) Code() int {
	return int(t)
}

// ParseResultType accepts a symbolic name (case insensitive) or a numeric
// code.
func ParseResultType(s string) (ResultType, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return ResultType(n), nil
	}
	for t, name := range resultTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown result type: %q", s)
}
