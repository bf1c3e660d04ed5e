package logic

// Speed bounds for the follow mapping, in presses per second.
const (
	FollowMinSpeed = 1
	FollowMaxSpeed = 10
)

// DutiesForSpeed maps a press rate to brightness. LED1 ramps from 10% to 100%
// across the range, LED2 joins after a third of it and LED3 after two thirds.
// Fractions are computed in thousandths to stay in integer arithmetic.
func DutiesForSpeed(speed uint64) Duties {
	if speed <= FollowMinSpeed {
		return Duties{10, 0, 0}
	}
	if speed >= FollowMaxSpeed {
		return Duties{MaxDuty, MaxDuty, MaxDuty}
	}

	// p in thousandths of the range
	p := int((speed - FollowMinSpeed) * 1000 / (FollowMaxSpeed - FollowMinSpeed))

	led1 := 10 + 90*p/1000
	led2 := 0
	if p > 330 {
		led2 = min((p-330)*150/1000, MaxDuty)
	}
	led3 := 0
	if p > 660 {
		led3 = min((p-660)*300/1000, MaxDuty)
	}
	return Duties{led1, led2, led3}
}
