// Package bittiming computes CAN and CAN-FD bit-timing register values
// (BRP, SJW, TSEG1, TSEG2) from a requested bitrate and sample point,
// constrained by a device's hardware limits. The solver mirrors the
// brp-scan search used by CAN bit-timing calculators in the wild: for
// each candidate prescaler it derives the TSEG split closest to the
// requested sample point and keeps the best-scoring candidate.
package bittiming

import (
	"github.com/jgressmann/supercan-go/internal/scerr"
)

// SamplePointScale is the fixed-point denominator for sample points:
// a value of 896 represents a sample point of 0.875.
const SamplePointScale = 1024

// SJWTseg2 is the sentinel SJW value requesting "as large as TSEG2 allows".
const SJWTseg2 = 0

// HardwareConstraints describes the prescaler and time-segment ranges a
// specific device exposes for one bit-timing domain (nominal or data).
type HardwareConstraints struct {
	ClockHz uint32

	BrpMin, BrpMax, BrpStep uint32
	Tseg1Min, Tseg1Max      uint32
	Tseg2Min, Tseg2Max      uint32
	SjwMax                  uint32
}

func (hw HardwareConstraints) validate() error {
	if hw.BrpMax < hw.BrpMin {
		return scerr.New("bittiming.validate_hw", scerr.KindInvalidParam, "brp_max < brp_min")
	}
	if hw.BrpStep == 0 || hw.BrpMin == 0 {
		return scerr.New("bittiming.validate_hw", scerr.KindInvalidParam, "brp_step or brp_min is zero")
	}
	if r := hw.BrpMax - hw.BrpMin; (r/hw.BrpStep)*hw.BrpStep != r {
		return scerr.New("bittiming.validate_hw", scerr.KindInvalidParam, "brp range not evenly divisible by brp_step")
	}
	if hw.Tseg1Max < hw.Tseg1Min {
		return scerr.New("bittiming.validate_hw", scerr.KindInvalidParam, "tseg1_max < tseg1_min")
	}
	if hw.Tseg2Max < hw.Tseg2Min {
		return scerr.New("bittiming.validate_hw", scerr.KindInvalidParam, "tseg2_max < tseg2_min")
	}
	if hw.SjwMax < 1 {
		return scerr.New("bittiming.validate_hw", scerr.KindInvalidParam, "sjw_max < 1")
	}
	if hw.ClockHz < 1 {
		return scerr.New("bittiming.validate_hw", scerr.KindInvalidParam, "clock_hz < 1")
	}
	return nil
}

// Request is the user-facing bit-timing request: a target bitrate and
// sample point expressed in SamplePointScale units, plus an optional SJW
// override and a minimum time-quanta-per-bit floor.
type Request struct {
	Bitrate     uint32
	SamplePoint uint16 // in units of 1/SamplePointScale; must be in (0, SamplePointScale)
	SJW         uint32 // SJWTseg2, or an explicit value <= hw.SjwMax
	MinTQs      uint32
}

// RequestFraction is Request with SamplePoint expressed as a float in
// (0, 1), for callers working with human-entered sample points.
type RequestFraction struct {
	Bitrate     uint32
	SamplePoint float64
	SJW         uint32
	MinTQs      uint32
}

func (r Request) validate(hw HardwareConstraints) error {
	if r.SamplePoint == 0 || r.SamplePoint >= SamplePointScale {
		return scerr.New("bittiming.validate_request", scerr.KindInvalidParam, "sample point out of range")
	}
	if r.SJW != SJWTseg2 && r.SJW > hw.SjwMax {
		return scerr.New("bittiming.validate_request", scerr.KindInvalidParam, "sjw exceeds hardware maximum")
	}
	if r.Bitrate < 1 {
		return scerr.New("bittiming.validate_request", scerr.KindInvalidParam, "bitrate must be positive")
	}
	return nil
}

// Settings is a solved set of bit-timing register values.
type Settings struct {
	Brp, SJW, Tseg1, Tseg2 uint32
}

// Solve searches brp in [hw.BrpMin, hw.BrpMax] (step hw.BrpStep) for the
// TSEG1/TSEG2 split whose resulting sample point is closest to
// req.SamplePoint, returning scerr.KindNoSolution if none of the hardware's
// prescalers admit a valid split.
//
// This is the unconstrained single-BRP-range search; classic CAN and
// CAN-FD nominal/data coupling layer their BRP-matching policy (R1/R3/R5)
// on top of this by narrowing hw to a single BRP per call.
func Solve(hw HardwareConstraints, req Request) (Settings, error) {
	if err := hw.validate(); err != nil {
		return Settings{}, err
	}
	if err := req.validate(hw); err != nil {
		return Settings{}, err
	}
	return solve(hw, req)
}

func solve(hw HardwareConstraints, req Request) (Settings, error) {
	found := false
	bestScore := uint32(SamplePointScale)
	var best Settings

	for brp := hw.BrpMin; brp <= hw.BrpMax; brp += hw.BrpStep {
		canHz := hw.ClockHz / brp
		tqs := canHz / req.Bitrate

		if req.MinTQs > 0 && tqs < req.MinTQs {
			break // only gets worse as brp increases
		}
		if tqs < 1+hw.Tseg1Min+hw.Tseg2Min {
			break // only gets worse as brp increases
		}
		if tqs > 1+hw.Tseg1Max+hw.Tseg2Max {
			continue
		}

		tseg2 := ((uint32(SamplePointScale)-uint32(req.SamplePoint))*tqs + uint32(SamplePointScale)/2) / uint32(SamplePointScale)
		if tseg2 < hw.Tseg2Min {
			tseg2 = hw.Tseg2Min
		} else if tseg2 > hw.Tseg2Max {
			tseg2 = hw.Tseg2Max
			if tseg2+3 > tqs {
				continue
			}
		}

		tseg1 := tqs - 1 - tseg2
		if tseg1 < hw.Tseg1Min || tseg1 > hw.Tseg1Max {
			continue
		}

		samplePoint := ((1 + tseg1) * uint32(SamplePointScale)) / tqs
		var score uint32
		if samplePoint <= uint32(req.SamplePoint) {
			score = uint32(req.SamplePoint) - samplePoint
		} else {
			score = samplePoint - uint32(req.SamplePoint)
		}

		if !found || score < bestScore {
			found = true
			bestScore = score
			best.Brp = brp
			best.Tseg1 = tseg1
			best.Tseg2 = tseg2
			if req.SJW == SJWTseg2 {
				best.SJW = tseg2
				if best.SJW > hw.SjwMax {
					best.SJW = hw.SjwMax
				}
			} else {
				best.SJW = req.SJW
			}
			if score == 0 {
				break
			}
		}
	}

	if !found {
		return Settings{}, scerr.New("bittiming.solve", scerr.KindNoSolution, "no brp/tseg split reaches the requested sample point")
	}
	return best, nil
}

// SolveFraction is Solve with the sample point expressed as a float.
func SolveFraction(hw HardwareConstraints, req RequestFraction) (Settings, error) {
	if req.SamplePoint < 0 || req.SamplePoint > 1 {
		return Settings{}, scerr.New("bittiming.solve_fraction", scerr.KindInvalidParam, "sample point must be in [0,1]")
	}
	return Solve(hw, Request{
		Bitrate:     req.Bitrate,
		SamplePoint: uint16(req.SamplePoint * SamplePointScale),
		SJW:         req.SJW,
		MinTQs:      req.MinTQs,
	})
}
