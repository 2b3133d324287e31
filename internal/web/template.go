package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/sweeney/tank-gateway/internal/relay"
	"github.com/sweeney/tank-gateway/internal/state"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": formatUptime,
	"onoff":  state.OnOff,
	"add1":   func(i int) int { return i + 1 },
}).Parse(indexHTML))

// formatUptime renders d as "1d 2h 3m 4s", dropping leading zero units.
func formatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	parts := []struct {
		n    int64
		unit string
	}{
		{secs / 86400, "d"},
		{secs / 3600 % 24, "h"},
		{secs / 60 % 60, "m"},
	}
	var b strings.Builder
	for _, p := range parts {
		if p.n > 0 || b.Len() > 0 {
			fmt.Fprintf(&b, "%d%s ", p.n, p.unit)
		}
	}
	fmt.Fprintf(&b, "%ds", secs%60)
	return b.String()
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Tank Gateway</title>
<style>
body { font-family: ui-monospace, monospace; max-width: 640px; margin: 1.5em auto; padding: 0 1em; color: #222; }
h1 { font-size: 1.3em; }
h2 { font-size: 1.1em; margin-top: 1.5em; }
table { border-collapse: collapse; width: 100%; margin: 0.5em 0 1em; }
th, td { text-align: left; padding: 5px 8px; border-bottom: 1px solid #e2e2e2; }
th { width: 38%; font-weight: normal; color: #555; }
button { font-family: inherit; margin-right: 4px; }
.on, .connected { color: #1a7f37; }
.on { font-weight: bold; }
.off { color: #999; }
.connecting { color: #bf8700; }
.disconnected { color: #cf222e; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 4px; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: #1a7f37; }
.live-dot.err { background: #cf222e; }
.live-dot.pending { background: #bf8700; }
</style>
</head>
<body>
<h1>Tank Gateway{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Controller</h2>
<table>
<tr><th>Connection</th><td class="{{if eq .ConnState "CONNECTED"}}connected{{else if eq .ConnState "CONNECTING"}}connecting{{else}}disconnected{{end}}">{{.ConnState}}</td></tr>
{{if .Port}}<tr><th>Port</th><td>{{.Port}}</td></tr>{{end}}
<tr><th>Source</th><td id="source">{{.Src}}</td></tr>
<tr><th>Demo</th><td>{{if .Demo}}on{{else}}off{{end}}</td></tr>
</table>
<p>
<button onclick="post('/api/connect')">Connect</button>
<button onclick="post('/api/disconnect')">Disconnect</button>
<button onclick="post('/api/demo?on={{if .Demo}}false{{else}}true{{end}}')">Demo {{if .Demo}}off{{else}}on{{end}}</button>
</p>

<h2>Telemetry</h2>
<table>
<tr><th>Temperature</th><td id="temp">{{printf "%.1f" .Telemetry.TemperatureC}} &deg;C</td></tr>
<tr><th>Humidity</th><td id="hum">{{printf "%.1f" .Telemetry.HumidityPct}} %</td></tr>
<tr><th>Methane (MQ4)</th><td id="methane">{{.Telemetry.MethaneRaw}}</td></tr>
<tr><th>pH</th><td id="ph">{{printf "%.2f" .Telemetry.PH}}</td></tr>
{{if not .Telemetry.CapturedAt.IsZero}}<tr><th>Updated</th><td>{{.Telemetry.CapturedAt.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>{{end}}
</table>

<h2>Relays</h2>
<table>
{{range $i, $on := .Relays}}<tr><th>{{add1 $i}}. {{index $.RelayNames $i}}</th><td class="{{if $on}}on{{else}}off{{end}}">{{onoff $on}}</td>
<td><button onclick="post('/api/relay/{{add1 $i}}?state={{if $on}}off{{else}}on{{end}}')">{{if $on}}Turn off{{else}}Turn on{{end}}</button></td></tr>
{{end}}</table>

{{if .Demo}}<h2>Nutrients</h2>
<table>
{{if not .NPK.CapturedAt.IsZero}}<tr><th>N / P / K</th><td>{{.NPK.N}} / {{.NPK.P}} / {{.NPK.K}} mg/kg</td></tr>{{end}}
</table>
<p><button onclick="post('/api/npk')">Read NPK</button></p>{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Baud</th><td>{{.Config.Baud}}</td></tr>
<tr><th>Simulation</th><td>{{.Config.SimIntervalMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">Metrics</a></p>
<script>
function post(url) {
  fetch(url, { method: "POST" }).then(function(r) {
    if (!r.ok) { return r.json().then(function(e) { alert(e.error); }); }
  }).finally(function() { location.reload(); });
}
</script>
{{if .Config.WSBroker}}
<script src="https://unpkg.com/mqtt/dist/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "{{.Config.TopicPrefix}}/telemetry";
  var dot = document.getElementById("live-dot");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      if (msg.telemetry) {
        document.getElementById("temp").textContent = msg.telemetry.temperature_c.toFixed(1) + " °C";
        document.getElementById("hum").textContent = msg.telemetry.humidity_pct.toFixed(1) + " %";
        document.getElementById("methane").textContent = msg.telemetry.methane_raw;
        document.getElementById("ph").textContent = msg.telemetry.ph.toFixed(2);
        document.getElementById("source").textContent = msg.telemetry.source;
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap state.Snapshot) {
	// Snapshot methods are not addressable as template fields.
	data := struct {
		state.Snapshot
		Uptime     time.Duration
		ConnState  string
		Src        string
		RelayNames []string
	}{
		Snapshot:   snap,
		Uptime:     snap.Uptime(),
		ConnState:  string(snap.Connection),
		Src:        string(snap.Source()),
		RelayNames: relay.Names[:],
	}
	if data.ConnState == "" {
		data.ConnState = string(state.Disconnected)
	}
	indexTmpl.Execute(w, data)
}
