package logic

import "time"

// CompilePhases derives the HIGH and LOW durations of one period from the
// largest duty cycle. High+Low always equals period. When every channel is
// off, High is HighFloor so the scheduler never rearms with zero.
func CompilePhases(d Duties, period time.Duration) Phases {
	maxDuty := d.Max()

	var high time.Duration
	switch {
	case maxDuty <= MinDuty:
		high = HighFloor
	case maxDuty >= MaxDuty:
		high = period
	default:
		high = time.Duration(uint64(period) * uint64(maxDuty) / MaxDuty)
	}
	if high > period {
		high = period
	}
	return Phases{High: high, Low: period - high}
}

// NextLevels applies the output rule for entering phase. On HIGH a channel is
// driven active only when its duty is above 0%; on LOW it is driven inactive
// only when its duty is below 100%. Channels the rule does not touch keep
// their previous level, so 0% never pulses on and 100% never pulses off.
func NextLevels(phase Phase, d Duties, prev Levels) Levels {
	next := prev
	for i, duty := range d {
		if phase == PhaseHigh {
			if duty > MinDuty {
				next[i] = true
			}
		} else if duty < MaxDuty {
			next[i] = false
		}
	}
	return next
}
