// Package config loads the optional YAML configuration file.
//
// Every setting is also a command-line flag. The file supplies defaults and a
// flag given explicitly on the command line always wins, so the file can be
// shared between hosts and overridden per invocation.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// File mirrors the daemon flags. Unset fields leave the flag default alone.
// Durations use time.ParseDuration syntax ("3s", "15m").
type File struct {
	Port        string `yaml:"port"`
	Baud        int    `yaml:"baud"`
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	WSBroker    string `yaml:"ws_broker"`
	HTTP        string `yaml:"http"`
	SimInterval string `yaml:"sim_interval"`
	Heartbeat   string `yaml:"heartbeat"`
	Demo        *bool  `yaml:"demo"`
	DemoPin     *int   `yaml:"demo_pin"`
	GPIOChip    string `yaml:"gpio_chip"`
	Debounce    string `yaml:"debounce"`
	JumperPoll  string `yaml:"jumper_poll"`
}

// LoadFile reads and decodes path. Unknown keys are an error so typos
// don't silently fall back to defaults.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document. An empty document yields an empty File.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &f, nil
}

// Values returns the set fields keyed by flag name.
func (f *File) Values() map[string]string {
	v := make(map[string]string)
	put := func(name, val string) {
		if val != "" {
			v[name] = val
		}
	}
	put("port", f.Port)
	if f.Baud != 0 {
		v["baud"] = strconv.Itoa(f.Baud)
	}
	put("broker", f.Broker)
	put("topic-prefix", f.TopicPrefix)
	put("ws-broker", f.WSBroker)
	put("http", f.HTTP)
	put("sim-interval", f.SimInterval)
	put("heartbeat", f.Heartbeat)
	if f.Demo != nil {
		v["demo"] = strconv.FormatBool(*f.Demo)
	}
	if f.DemoPin != nil {
		v["demo-pin"] = strconv.Itoa(*f.DemoPin)
	}
	put("gpio-chip", f.GPIOChip)
	put("debounce", f.Debounce)
	put("jumper-poll", f.JumperPoll)
	return v
}

// Apply sets every flag in fs from f unless it was given on the command
// line. It must be called after fs.Parse.
func Apply(fs *flag.FlagSet, f *File) error {
	explicit := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { explicit[fl.Name] = true })

	values := f.Values()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if explicit[name] {
			continue
		}
		if fs.Lookup(name) == nil {
			return fmt.Errorf("config %s: no such flag", name)
		}
		if err := fs.Set(name, values[name]); err != nil {
			return fmt.Errorf("config %s: %w", name, err)
		}
	}
	return nil
}
