package rules

import (
	"fmt"
	"math/rand"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/wafer"
)

var randomSamplingInfo = Info{
	Name:        "randomSampling",
	Description: "Samples a seeded random subset of the available dies.",
	Params: []ParamSpec{
		{Name: "count", Type: "int", Help: "number of dies to draw (default 10)"},
		{Name: "seed", Type: "int", Help: "PRNG seed; omitted means the engine injects a strategy-derived seed"},
	},
}

// RandomSampling draws count dies without replacement from the available
// set using a seeded PRNG, each at priority 0.5. The draw is deterministic:
// the available dies are enumerated in sorted order before shuffling.
type RandomSampling struct{}

// Name implements Rule.
func (*RandomSampling) Name() string { return randomSamplingInfo.Name }

// Validate implements Rule.
func (*RandomSampling) Validate(params map[string]any) error {
	var fields []errcode.FieldError
	if v, ok := floatParam(params, "count"); ok && v < 1 {
		fields = append(fields, errcode.FieldError{Field: "count", Message: "must be >= 1"})
	} else if _, present := params["count"]; present && !ok {
		fields = append(fields, errcode.FieldError{Field: "count", Message: "must be an integer"})
	}
	if _, present := params["seed"]; present {
		if _, ok := floatParam(params, "seed"); !ok {
			fields = append(fields, errcode.FieldError{Field: "seed", Message: "must be an integer"})
		}
	}
	if len(fields) > 0 {
		return paramErr(randomSamplingInfo.Name, fields...)
	}
	return nil
}

// Apply implements Rule.
func (*RandomSampling) Apply(w *wafer.Map, params map[string]any, rc Context) ([]Candidate, []string, error) {
	count := 10
	if v, ok := intParam(params, "count"); ok {
		count = v
	}
	seed := rc.Seed
	if v, ok := floatParam(params, "seed"); ok {
		seed = int64(v)
	}

	avail := w.AvailableDies()
	if len(avail) == 0 {
		return nil, []string{"randomSampling: no available dies"}, nil
	}

	var warnings []string
	if count > len(avail) {
		warnings = append(warnings, fmt.Sprintf(
			"randomSampling: requested %d dies but only %d are available", count, len(avail)))
		count = len(avail)
	}

	rng := rand.New(rand.NewSource(seed))
	out := make([]Candidate, 0, count)
	for _, idx := range rng.Perm(len(avail))[:count] {
		d := avail[idx]
		out = append(out, Candidate{X: d.X, Y: d.Y, Priority: 0.5})
	}
	return out, warnings, nil
}

// Estimate implements Rule.
func (*RandomSampling) Estimate(w *wafer.Map, params map[string]any) Estimate {
	count := 10
	if v, ok := intParam(params, "count"); ok {
		count = v
	}
	if avail := w.AvailableCount(); count > avail {
		count = avail
	}
	return Estimate{ExpectedPointCount: count, ExpectedCostClass: CostLow}
}
