package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/cadence-dimmer/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"inc": func(i int) int { return i + 1 },
	"ms": func(ns uint64) string {
		return time.Duration(ns).Round(time.Microsecond).String()
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Cadence Dimmer</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.degraded { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Cadence Dimmer</h1>

<h2>Buttons</h2>
<table>
<tr><th>Speed</th><td id="speed">{{.Speed}}</td><td>presses/second</td></tr>
<tr><th>Average interval</th><td colspan="2">{{ms .Cadence.Average}}</td></tr>
<tr><th>Samples</th><td colspan="2">{{.Cadence.Samples}}</td></tr>
<tr><th>Total presses</th><td colspan="2">{{.Cadence.Total}}</td></tr>
<tr><th>Follow mode</th><td colspan="2">{{if .Follow}}on{{else}}off{{end}}</td></tr>
</table>

<h2>LEDs</h2>
<table>
{{range $i, $d := .Signal.Duties}}<tr><th>LED {{inc $i}}</th><td>{{$d}}%</td><td class="{{if index $.Signal.Levels $i}}on{{else}}off{{end}}">{{if index $.Signal.Levels $i}}on{{else}}off{{end}}</td></tr>
{{end}}<tr><th>HIGH phase</th><td colspan="2">{{.Signal.Phases.High}}</td></tr>
<tr><th>LOW phase</th><td colspan="2">{{.Signal.Phases.Low}}</td></tr>
</table>

<h2>Scheduler</h2>
<table>
<tr><th>State</th><td class="{{if .Scheduler.Degraded}}degraded{{end}}">{{if .Scheduler.Degraded}}degraded{{else if .Scheduler.Running}}running{{else}}stopped{{end}}</td></tr>
<tr><th>Ticks</th><td>{{.Scheduler.Ticks}}</td></tr>
<tr><th>Overruns</th><td>{{.Scheduler.Overruns}}</td></tr>
<tr><th>Retries</th><td>{{.Scheduler.Retries}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
<tr><th>Device socket</th><td>{{if .Config.DeviceSocket}}{{.Config.DeviceSocket}}{{else}}disabled{{end}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>GPIO backend</th><td>{{.Config.Backend}}</td></tr>
<tr><th>Period</th><td>{{.Config.PeriodNs}}ns</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/docs">API</a> · <a href="/metrics">Metrics</a></p>
<script>
(function() {
  var el = document.getElementById("speed");
  setInterval(function() {
    fetch("/button_speed").then(function(r) { return r.text(); })
      .then(function(t) { el.textContent = t.trim(); })
      .catch(function() {});
  }, 1000);
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() and Speed() methods but the template reads fields.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Speed  uint64
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Speed:    snap.Speed(),
	}
	return indexTmpl.Execute(w, data)
}
