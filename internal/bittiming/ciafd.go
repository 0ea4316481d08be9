package bittiming

import "github.com/jgressmann/supercan-go/internal/scerr"

// FDResult carries the coupled nominal and data bit-timing settings a
// CAN-FD solve produced.
type FDResult struct {
	Nominal Settings
	Data    Settings
}

// SolveFD finds coupled nominal/data bit-timing settings for a CAN-FD bus.
// It pins both SJWs to "as large as TSEG2 allows" (R5) and scans the
// nominal BRP upward (R3); for each nominal BRP that both hardware ranges
// can share, it tries the data domain at that same BRP (R1, "prefer a
// shared prescaler") before moving on. The first BRP for which both
// domains solve wins — earlier (smaller) BRPs are preferred over a better
// sample-point match at a larger one.
func SolveFD(hwNominal, hwData HardwareConstraints, reqNominal, reqData Request) (FDResult, error) {
	if err := hwNominal.validate(); err != nil {
		return FDResult{}, err
	}
	reqNominal.SJW = SJWTseg2
	if err := reqNominal.validate(hwNominal); err != nil {
		return FDResult{}, err
	}

	if err := hwData.validate(); err != nil {
		return FDResult{}, err
	}
	reqData.SJW = SJWTseg2
	if err := reqData.validate(hwData); err != nil {
		return FDResult{}, err
	}

	for brpN := hwNominal.BrpMin; brpN <= hwNominal.BrpMax; brpN += hwNominal.BrpStep {
		pinnedN := hwNominal
		pinnedN.BrpMin, pinnedN.BrpMax = brpN, brpN

		nominal, err := solve(pinnedN, reqNominal)
		if err != nil {
			if scerr.Is(err, scerr.KindNoSolution) {
				continue
			}
			return FDResult{}, err
		}

		if brpN < hwData.BrpMin || brpN > hwData.BrpMax {
			continue
		}

		pinnedD := hwData
		pinnedD.BrpMin, pinnedD.BrpMax = brpN, brpN

		data, err := solve(pinnedD, reqData)
		if err != nil {
			if scerr.Is(err, scerr.KindNoSolution) {
				continue
			}
			return FDResult{}, err
		}

		return FDResult{Nominal: nominal, Data: data}, nil
	}

	return FDResult{}, scerr.New("bittiming.solve_fd", scerr.KindNoSolution, "no shared brp admits both nominal and data bit-timing")
}

// SolveFDFraction is SolveFD with sample points expressed as floats.
func SolveFDFraction(hwNominal, hwData HardwareConstraints, reqNominal, reqData RequestFraction) (FDResult, error) {
	if reqNominal.SamplePoint < 0 || reqNominal.SamplePoint > 1 {
		return FDResult{}, scerr.New("bittiming.solve_fd_fraction", scerr.KindInvalidParam, "nominal sample point must be in [0,1]")
	}
	if reqData.SamplePoint < 0 || reqData.SamplePoint > 1 {
		return FDResult{}, scerr.New("bittiming.solve_fd_fraction", scerr.KindInvalidParam, "data sample point must be in [0,1]")
	}
	return SolveFD(hwNominal, hwData,
		Request{Bitrate: reqNominal.Bitrate, SamplePoint: uint16(reqNominal.SamplePoint * SamplePointScale), MinTQs: reqNominal.MinTQs},
		Request{Bitrate: reqData.Bitrate, SamplePoint: uint16(reqData.SamplePoint * SamplePointScale), MinTQs: reqData.MinTQs},
	)
}

// DefaultNominalSamplePoint returns the CiA-FD nominal-phase default sample
// point for bitrate (same curve as classic CAN: 0.875 below 500kbit/s,
// 0.75 at/above 1Mbit/s).
func DefaultNominalSamplePoint(bitrate uint32) uint16 {
	return interpolateSamplePoint(bitrate, 500_000, 1_000_000, 896, 768)
}

// DefaultDataSamplePoint returns the CiA-FD data-phase default sample
// point for bitrate: 0.75 up to 5Mbit/s, 0.7 at/above 5Mbit/s.
func DefaultDataSamplePoint(bitrate uint32) uint16 {
	return interpolateSamplePoint(bitrate, 5_000_000-1, 5_000_000, 768, 717)
}
