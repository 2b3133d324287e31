// Command tank-gateway bridges a serial tank controller to MQTT and HTTP:
// it ingests telemetry, drives the two relays and simulates missing sensors.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.bug.st/serial/enumerator"

	"github.com/sweeney/tank-gateway/internal/config"
	"github.com/sweeney/tank-gateway/internal/gateway"
	"github.com/sweeney/tank-gateway/internal/gpio"
	"github.com/sweeney/tank-gateway/internal/logic"
	"github.com/sweeney/tank-gateway/internal/metrics"
	"github.com/sweeney/tank-gateway/internal/mqtt"
	"github.com/sweeney/tank-gateway/internal/serial"
	"github.com/sweeney/tank-gateway/internal/sim"
	"github.com/sweeney/tank-gateway/internal/state"
	"github.com/sweeney/tank-gateway/internal/web"
)

type options struct {
	port        string
	baud        int
	broker      string
	topicPrefix string
	wsBroker    string
	httpAddr    string
	simInterval time.Duration
	heartbeat   time.Duration
	demo        bool
	demoPin     int
	gpioChip    string
	debounce    time.Duration
	jumperPoll  time.Duration
	connect     bool
}

func main() {
	var o options
	flag.StringVar(&o.port, "port", "auto", `Serial device path ("auto" enumerates USB serial ports)`)
	flag.IntVar(&o.baud, "baud", serial.DefaultBaud, "Serial baud rate")
	flag.StringVar(&o.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	flag.StringVar(&o.topicPrefix, "topic-prefix", mqtt.DefaultTopicPrefix, "MQTT topic prefix")
	flag.StringVar(&o.wsBroker, "ws-broker", "=broker", `MQTT websocket URL for live UI ("=broker" derives from --broker, "off" disables)`)
	flag.StringVar(&o.httpAddr, "http", ":8080", "HTTP address (empty to disable)")
	flag.DurationVar(&o.simInterval, "sim-interval", sim.DefaultInterval, "Simulation tick interval")
	flag.DurationVar(&o.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.BoolVar(&o.demo, "demo", false, "Start in demo mode")
	flag.IntVar(&o.demoPin, "demo-pin", -1, "BCM pin of the demo jumper (-1 disables)")
	flag.StringVar(&o.gpioChip, "gpio-chip", "gpiochip0", "GPIO chip for the demo jumper")
	flag.DurationVar(&o.debounce, "debounce", 250*time.Millisecond, "Demo jumper debounce")
	flag.DurationVar(&o.jumperPoll, "jumper-poll", 100*time.Millisecond, "Demo jumper polling interval")
	flag.BoolVar(&o.connect, "connect", false, "Open the serial session at startup")
	printPorts := flag.Bool("print-ports", false, "List serial ports and exit")
	configPath := flag.String("config", "", "YAML config file (flags given on the command line win)")

	flag.Parse()

	if *configPath != "" {
		f, err := config.LoadFile(*configPath)
		if err != nil {
			log.Fatalf("fatal: %v", err)
		}
		if err := config.Apply(flag.CommandLine, f); err != nil {
			log.Fatalf("fatal: %v", err)
		}
	}

	if *printPorts {
		if err := listPorts(); err != nil {
			log.Fatalf("fatal: %v", err)
		}
		return
	}

	o.wsBroker = resolveWSBroker(o.wsBroker, o.broker)
	if err := run(o); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(o options) error {
	store := state.NewStore(time.Now(), state.Config{
		Port:          o.port,
		Baud:          o.baud,
		Broker:        o.broker,
		TopicPrefix:   mqtt.TopicsFor(o.topicPrefix).Prefix,
		HTTPAddr:      o.httpAddr,
		WSBroker:      o.wsBroker,
		SimIntervalMs: o.simInterval.Milliseconds(),
		HeartbeatMs:   o.heartbeat.Milliseconds(),
	})
	if net := readNetworkInfo(); net != nil {
		store.SetNetwork(net)
	}
	store.SetDemo(o.demo)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var selector serial.Selector = serial.FixedSelector(o.port)
	if o.port == "auto" {
		selector = serial.AutoSelector{}
	}
	sess := serial.NewSession(store, serial.Config{
		Selector: selector,
		Baud:     o.baud,
		Metrics:  m,
	})
	simulator := sim.New(store, rand.New(rand.NewSource(time.Now().UnixNano())))
	gw := gateway.New(store, sess, simulator, m)
	defer gw.Shutdown()

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(mqtt.Config{
		Broker: o.broker,
		Topics: mqtt.TopicsFor(o.topicPrefix),
		OnCommand: func(id int, on bool) {
			if err := gw.Toggle(id, on); err != nil {
				log.Printf("mqtt relay command failed: %v", err)
			}
		},
		OnConnectionChange: store.SetMQTTConnected,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Publish startup event with full status snapshot
	store.SetMQTTConnected(publisher.IsConnected())
	snap := store.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      mqtt.EventStartup,
		Retained:   true,
		RawPayload: state.FormatStatusEvent(snap, mqtt.EventStartup, ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP server
	if o.httpAddr != "" {
		srv := web.New(o.httpAddr, gw, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http server listening on %s", o.httpAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	simTicker := time.NewTicker(o.simInterval)
	defer simTicker.Stop()
	go simulator.Run(ctx, simTicker.C)

	var jumper gpio.Reader
	if o.demoPin >= 0 {
		r, err := gpio.NewRealReader(o.gpioChip, o.demoPin)
		if err != nil {
			log.Printf("demo jumper disabled: %v", err)
		} else {
			jumper = r
			defer r.Close()
		}
	}

	if o.connect {
		if err := gw.Connect(ctx); err != nil {
			log.Printf("initial connect failed: %v", err)
		}
	}

	log.Printf("started: port=%s baud=%d broker=%s sim=%v heartbeat=%v demo=%v",
		o.port, o.baud, o.broker, o.simInterval, o.heartbeat, o.demo)

	changes, unsubscribe := store.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(o.jumperPoll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loopDeps{
		store:      store,
		publisher:  publisher,
		mqttStatus: publisher,
		metrics:    m,
		jumper:     jumper,
		setDemo:    gw.SetDemo,
		debounce:   o.debounce,
		heartbeat:  o.heartbeat,
		now:        time.Now,
	}, changes, ticker.C, sigCh)
}

// loopDeps are the collaborators of runLoop. jumper and mqttStatus may be nil.
type loopDeps struct {
	store      *state.Store
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	metrics    *metrics.Metrics
	jumper     gpio.Reader
	setDemo    func(bool)
	debounce   time.Duration
	heartbeat  time.Duration
	now        func() time.Time
}

// runLoop publishes state changes, polls the demo jumper and emits heartbeats
// until a signal arrives.
func runLoop(d loopDeps, changes <-chan struct{}, tick <-chan time.Time, sig <-chan os.Signal) error {
	detector := logic.NewDetector(d.debounce)
	heartbeat := logic.NewHeartbeat(d.heartbeat, d.now())

	var last state.Snapshot
	published := false

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			if d.mqttStatus != nil {
				d.store.SetMQTTConnected(d.mqttStatus.IsConnected())
			}
			snap := d.store.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp:  d.now(),
				Event:      mqtt.EventShutdown,
				Reason:     signalName,
				Retained:   true,
				RawPayload: state.FormatStatusEvent(snap, mqtt.EventShutdown, signalName),
			}
			if err := d.publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-changes:
			snap := d.store.Snapshot()
			d.metrics.Observe(snap)

			if !published || snap.Telemetry != last.Telemetry || snap.Source() != last.Source() {
				if err := d.publisher.PublishTelemetry(snap); err != nil {
					log.Printf("telemetry publish error: %v", err)
				}
			}
			if !published || snap.Relays != last.Relays || snap.Connection != last.Connection {
				log.Printf("state: connection=%s relays=%s/%s", snap.Connection,
					state.OnOff(snap.Relay(1)), state.OnOff(snap.Relay(2)))
				if err := d.publisher.PublishRelays(snap); err != nil {
					log.Printf("relays publish error: %v", err)
				}
			}
			last = snap
			published = true

		case <-tick:
			t := d.now()
			if d.jumper != nil {
				present, err := d.jumper.Read()
				if err != nil {
					log.Printf("gpio read error: %v", err)
				} else if ev := detector.Process(logic.Input{Present: present, Time: t}); ev != nil {
					log.Printf("demo jumper: %s (baseline=%v)", ev.Type, ev.Baseline)
					d.setDemo(ev.On())
				}
			}

			if hb := heartbeat.Check(t, detector.Counts()); hb != nil {
				log.Printf("heartbeat: uptime=%v demo_on=%d demo_off=%d",
					hb.Uptime, hb.Counts.DemoOn, hb.Counts.DemoOff)
				if d.mqttStatus != nil {
					d.store.SetMQTTConnected(d.mqttStatus.IsConnected())
				}
				// Refresh network info for heartbeat
				if net := readNetworkInfo(); net != nil {
					d.store.SetNetwork(net)
				}
				snap := d.store.Snapshot()
				event := mqtt.SystemEvent{
					Timestamp: hb.Timestamp,
					Event:     mqtt.EventHeartbeat,
					RawPayload: state.FormatHeartbeat(snap, state.Heartbeat{
						DemoOn:  hb.Counts.DemoOn,
						DemoOff: hb.Counts.DemoOff,
					}),
				}
				if err := d.publisher.PublishSystem(event); err != nil {
					log.Printf("heartbeat publish error: %v", err)
				}
			}
		}
	}
}

func listPorts() error {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return fmt.Errorf("enumerate ports: %w", err)
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
		return nil
	}
	for _, p := range ports {
		if p.IsUSB {
			fmt.Printf("%s\tusb %s:%s %s\n", p.Name, p.VID, p.PID, p.Product)
		} else {
			fmt.Printf("%s\n", p.Name)
		}
	}
	return nil
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *state.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &state.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the --ws-broker flag value into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; "off" disables.
func resolveWSBroker(ws, broker string) string {
	if ws == "off" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.Printf("ws-broker: cannot parse --broker %q: %v", broker, err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
