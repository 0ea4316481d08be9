package bittiming

import "github.com/jgressmann/supercan-go/internal/scerr"

// SolveClassic finds bit-timing settings for a classic (non-FD) CAN bus.
// It pins SJW to "as large as TSEG2 allows" (R5) and scans one BRP value
// at a time from the smallest upward (R3), returning the first BRP that
// admits a solution rather than globally optimizing across the whole BRP
// range — this matches CiA's classic bit-timing guidance, which favors the
// lowest usable prescaler over the single best sample-point match.
func SolveClassic(hw HardwareConstraints, req Request) (Settings, error) {
	if err := hw.validate(); err != nil {
		return Settings{}, err
	}
	req.SJW = SJWTseg2
	if err := req.validate(hw); err != nil {
		return Settings{}, err
	}

	for brp := hw.BrpMin; brp <= hw.BrpMax; brp += hw.BrpStep {
		pinned := hw
		pinned.BrpMin, pinned.BrpMax = brp, brp

		settings, err := solve(pinned, req)
		if err == nil {
			return settings, nil
		}
		if !scerr.Is(err, scerr.KindNoSolution) {
			return Settings{}, err
		}
	}

	return Settings{}, scerr.New("bittiming.solve_classic", scerr.KindNoSolution, "no brp admits a classic bit-timing solution")
}

// SolveClassicFraction is SolveClassic with the sample point expressed as
// a float in (0, 1).
func SolveClassicFraction(hw HardwareConstraints, req RequestFraction) (Settings, error) {
	if req.SamplePoint < 0 || req.SamplePoint > 1 {
		return Settings{}, scerr.New("bittiming.solve_classic_fraction", scerr.KindInvalidParam, "sample point must be in [0,1]")
	}
	return SolveClassic(hw, Request{
		Bitrate:     req.Bitrate,
		SamplePoint: uint16(req.SamplePoint * SamplePointScale),
		MinTQs:      req.MinTQs,
	})
}

// DefaultSamplePoint returns the CiA-recommended classic-CAN sample point
// for bitrate, linearly interpolated between 0.875 below 500kbit/s and
// 0.75 at/above 1Mbit/s (https://www.can-cia.org, Koppe 2003).
func DefaultSamplePoint(bitrate uint32) uint16 {
	return interpolateSamplePoint(bitrate, 500_000, 1_000_000, 896, 768)
}

func interpolateSamplePoint(bitrate, thresholdLow, thresholdHigh uint32, low, high uint16) uint16 {
	switch {
	case bitrate <= thresholdLow:
		return low
	case bitrate >= thresholdHigh:
		return high
	default:
		return uint16(int32(low) + (int32(bitrate-thresholdLow)*int32(int32(high)-int32(low)))/int32(thresholdHigh-thresholdLow))
	}
}
