package graph

import (
	"fmt"
	"math"

	"github.com/chazu/partsmith/pkg/caderr"
)

// MinFeatureSize is the smallest dimension in mm that prints reliably.
// Smaller features produce a warning.
const MinFeatureSize = 0.01

// validateGeometry runs the geometric checks.
// Returns errors (blocking) and warnings (advisory) separately.
func validateGeometry(g *DesignGraph) ([]ValidationError, []ValidationWarning) {
	var errs []ValidationError
	var warnings []ValidationWarning

	errs = append(errs, validatePositiveDimensions(g)...)
	errs = append(errs, validateRoundRadius(g)...)
	errs = append(errs, validateProfiles(g)...)
	errs = append(errs, validateScale(g)...)
	warnings = append(warnings, validateFeatureSize(g)...)

	return errs, warnings
}

func geomError(n *Node, reason caderr.Reason, format string, args ...any) ValidationError {
	return ValidationError{
		NodeID:   n.ID,
		Message:  fmt.Sprintf(format, args...),
		Severity: SeverityError,
		Reason:   reason,
		Line:     n.Source.Line,
	}
}

func positive(f float64) bool {
	return f > 0 && !math.IsInf(f, 0)
}

// validatePositiveDimensions checks that every primitive has positive finite
// sizes, radii and heights.
func validatePositiveDimensions(g *DesignGraph) []ValidationError {
	var errs []ValidationError
	for _, node := range g.Nodes {
		switch d := node.Data.(type) {
		case BoxData:
			for _, c := range []struct {
				axis string
				v    float64
			}{{"X", d.Size.X}, {"Y", d.Size.Y}, {"Z", d.Size.Z}} {
				if !positive(c.v) {
					errs = append(errs, geomError(node, caderr.ReasonNegativeSize,
						"box size %s is %.4f, must be positive", c.axis, c.v))
				}
			}
		case CylinderData:
			if !positive(d.Radius) {
				errs = append(errs, geomError(node, caderr.ReasonNegativeSize,
					"cylinder radius is %.4f, must be positive", d.Radius))
			}
			if !positive(d.Height) {
				errs = append(errs, geomError(node, caderr.ReasonNegativeSize,
					"cylinder height is %.4f, must be positive", d.Height))
			}
		case SphereData:
			if !positive(d.Radius) {
				errs = append(errs, geomError(node, caderr.ReasonNegativeSize,
					"sphere radius is %.4f, must be positive", d.Radius))
			}
		case ExtrudeData:
			if !positive(d.Height) {
				errs = append(errs, geomError(node, caderr.ReasonNegativeSize,
					"extrude height is %.4f, must be positive", d.Height))
			}
		}
	}
	return errs
}

// validateRoundRadius checks edge rounding against the primitive it rounds.
// A box can be rounded by at most half its smallest side; a cylinder by at
// most its radius and half its height.
func validateRoundRadius(g *DesignGraph) []ValidationError {
	var errs []ValidationError
	for _, node := range g.Nodes {
		switch d := node.Data.(type) {
		case BoxData:
			if d.Round < 0 {
				errs = append(errs, geomError(node, caderr.ReasonRoundRadius,
					"round-radius %.4f is negative", d.Round))
			} else if limit := d.Size.Min() / 2; d.Round > limit && limit > 0 {
				errs = append(errs, geomError(node, caderr.ReasonRoundRadius,
					"round-radius %.4f exceeds half the smallest box side (%.4f)", d.Round, limit))
			}
		case CylinderData:
			if d.Round < 0 {
				errs = append(errs, geomError(node, caderr.ReasonRoundRadius,
					"round-radius %.4f is negative", d.Round))
			} else if limit := math.Min(d.Radius, d.Height/2); d.Round > limit && limit > 0 {
				errs = append(errs, geomError(node, caderr.ReasonRoundRadius,
					"round-radius %.4f exceeds cylinder limit %.4f", d.Round, limit))
			}
		}
	}
	return errs
}

// validateProfiles checks that extrusion outlines enclose a positive area.
func validateProfiles(g *DesignGraph) []ValidationError {
	var errs []ValidationError
	for _, node := range g.Nodes {
		d, ok := node.Data.(ExtrudeData)
		if !ok {
			continue
		}
		p := d.Profile
		switch {
		case p.Kind == ProfilePolygon && len(p.Points) < 3:
			errs = append(errs, geomError(node, caderr.ReasonDegenerateProfile,
				"polygon profile has %d points, need at least 3", len(p.Points)))
		case p.Kind == ProfileRect && (!positive(p.Width) || !positive(p.Height)):
			errs = append(errs, geomError(node, caderr.ReasonDegenerateProfile,
				"rect profile %.4fx%.4f must be positive", p.Width, p.Height))
		case p.Kind == ProfileCircle && !positive(p.Radius):
			errs = append(errs, geomError(node, caderr.ReasonDegenerateProfile,
				"circle profile radius %.4f must be positive", p.Radius))
		case p.Area() < 1e-9 || math.IsNaN(p.Area()):
			errs = append(errs, geomError(node, caderr.ReasonDegenerateProfile,
				"%s profile encloses no area", p.Kind))
		}
	}
	return errs
}

// validateScale rejects zero, negative and non-finite scale factors.
func validateScale(g *DesignGraph) []ValidationError {
	var errs []ValidationError
	for _, node := range g.Nodes {
		d, ok := node.Data.(TransformData)
		if !ok || d.Scale == nil {
			continue
		}
		s := *d.Scale
		if !positive(s.X) || !positive(s.Y) || !positive(s.Z) {
			errs = append(errs, geomError(node, caderr.ReasonDegenerateScale,
				"scale %s must be positive on every axis", s))
		}
	}
	return errs
}

// validateFeatureSize warns about primitives too small to print.
func validateFeatureSize(g *DesignGraph) []ValidationWarning {
	var warnings []ValidationWarning
	warn := func(n *Node, v float64) {
		warnings = append(warnings, ValidationWarning{
			NodeID:  n.ID,
			Message: fmt.Sprintf("%s has a %.4fmm feature, below the %.2fmm printable minimum", n.Source.Form, v, MinFeatureSize),
		})
	}
	for _, node := range g.Nodes {
		switch d := node.Data.(type) {
		case BoxData:
			if m := d.Size.Min(); m > 0 && m < MinFeatureSize {
				warn(node, m)
			}
		case CylinderData:
			if m := math.Min(d.Radius*2, d.Height); m > 0 && m < MinFeatureSize {
				warn(node, m)
			}
		case SphereData:
			if d.Radius > 0 && d.Radius*2 < MinFeatureSize {
				warn(node, d.Radius*2)
			}
		}
	}
	return warnings
}
