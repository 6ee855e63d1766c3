package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// UnitType is the nutrient a credit offsets.
type UnitType string

const (
	UnitNitrate   UnitType = "nitrate"
	UnitPhosphate UnitType = "phosphate"
)

var validUnits = map[UnitType]bool{
	UnitNitrate:   true,
	UnitPhosphate: true,
}

var (
	ErrInvalidMarketKey = errors.New("model: invalid market key")
	ErrInvalidUnitType  = errors.New("model: unsupported unit type")
)

// catchmentRegex matches lowercase slug catchment identifiers,
// e.g. "river-tone" or "somerset-levels".
var catchmentRegex = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// MarketKey scopes one order book: credits for one nutrient in one catchment.
// Orders from different market keys never interact.
type MarketKey struct {
	Catchment string   `json:"catchment"`
	UnitType  UnitType `json:"unit_type"`
}

// NewMarketKey validates and builds a market key.
func NewMarketKey(catchment string, unit UnitType) (MarketKey, error) {
	catchment = strings.ToLower(strings.TrimSpace(catchment))
	if !catchmentRegex.MatchString(catchment) {
		return MarketKey{}, fmt.Errorf("%w: catchment %q (expected lowercase slug)",
			ErrInvalidMarketKey, catchment)
	}
	if !validUnits[unit] {
		return MarketKey{}, fmt.Errorf("%w: %s", ErrInvalidUnitType, unit)
	}
	return MarketKey{Catchment: catchment, UnitType: unit}, nil
}

// ParseMarketKey parses the "catchment:unit" wire form,
// e.g. "river-tone:nitrate".
func ParseMarketKey(s string) (MarketKey, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return MarketKey{}, fmt.Errorf("%w: %q (expected catchment:unit)",
			ErrInvalidMarketKey, s)
	}
	return NewMarketKey(parts[0], UnitType(parts[1]))
}

// String renders the wire form used as map/cache keys.
func (k MarketKey) String() string {
	return k.Catchment + ":" + string(k.UnitType)
}

// IsZero reports whether the key is unset.
func (k MarketKey) IsZero() bool {
	return k.Catchment == "" && k.UnitType == ""
}
