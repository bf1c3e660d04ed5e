package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/cadence-dimmer/internal/events"
	"github.com/sweeney/cadence-dimmer/internal/logic"
	"github.com/sweeney/cadence-dimmer/internal/pwm"
	"github.com/sweeney/cadence-dimmer/internal/state"
)

type fakeStats struct{ stats pwm.Stats }

func (f *fakeStats) Stats() pwm.Stats { return f.stats }

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func wantLine(t *testing.T, body, line string) {
	t.Helper()
	for _, l := range strings.Split(body, "\n") {
		if l == line {
			return
		}
	}
	t.Errorf("missing line %q", line)
}

func TestCadenceGauges(t *testing.T) {
	st := state.New()
	st.PressAt(logic.InputA, 0)
	st.PressAt(logic.InputB, 250*time.Millisecond)

	m := New(st, nil)
	body := scrape(t, m)

	wantLine(t, body, "cadence_dimmer_button_speed 4")
	wantLine(t, body, "cadence_dimmer_button_average_interval_seconds 0.25")
	wantLine(t, body, "cadence_dimmer_button_samples 1")
	wantLine(t, body, "cadence_dimmer_button_presses_total 2")
}

func TestSchedulerCounters(t *testing.T) {
	fs := &fakeStats{stats: pwm.Stats{Ticks: 42, Overruns: 3, Retries: 1, Degraded: true}}
	m := New(state.New(), fs)
	body := scrape(t, m)

	wantLine(t, body, "cadence_dimmer_pwm_ticks_total 42")
	wantLine(t, body, "cadence_dimmer_pwm_overruns_total 3")
	wantLine(t, body, "cadence_dimmer_pwm_retries_total 1")
	wantLine(t, body, "cadence_dimmer_pwm_degraded 1")
}

func TestInitialSignal(t *testing.T) {
	m := New(state.New(), nil)
	body := scrape(t, m)

	wantLine(t, body, `cadence_dimmer_led_duty_percent{channel="1"} 0`)
	wantLine(t, body, `cadence_dimmer_pwm_phase_seconds{phase="HIGH"} 1e-09`)
}

func TestDutyChangesFollowBus(t *testing.T) {
	bus := events.New()
	st := state.New(state.WithPublisher(bus))
	m := New(st, nil)
	unsubscribe := m.Subscribe(bus)
	defer unsubscribe()

	if err := st.SetDuties(logic.Duties{100, 50, 0}, "http"); err != nil {
		t.Fatal(err)
	}

	// kelindar/event delivers asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for {
		body := scrape(t, m)
		if strings.Contains(body, `cadence_dimmer_led_duty_changes_total{source="http"} 1`) {
			wantLine(t, body, `cadence_dimmer_led_duty_percent{channel="1"} 100`)
			wantLine(t, body, `cadence_dimmer_led_duty_percent{channel="2"} 50`)
			wantLine(t, body, `cadence_dimmer_pwm_phase_seconds{phase="HIGH"} 0.01`)
			wantLine(t, body, `cadence_dimmer_pwm_phase_seconds{phase="LOW"} 0`)
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("duty change not observed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
