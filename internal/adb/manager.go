package adb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/graytap-core/internal/device"
)

// ManagerSource lists running emulator instances through the MuMu manager CLI.
type ManagerSource struct {
	binary  string
	host    string
	timeout time.Duration
	runner  Runner
}

var _ device.InstanceSource = (*ManagerSource)(nil)

// NewManagerSource creates a source calling binary. Endpoints are host:adb_port.
func NewManagerSource(binary, host string, timeout time.Duration) *ManagerSource {
	if host == "" {
		host = "127.0.0.1"
	}
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &ManagerSource{
		binary:  binary,
		host:    host,
		timeout: timeout,
		runner:  ExecRunner{},
	}
}

// SetRunner replaces the command runner.
func (m *ManagerSource) SetRunner(r Runner) {
	m.runner = r
}

// Instances runs "info -v all" and returns running instances with an adb port.
func (m *ManagerSource) Instances(ctx context.Context) ([]device.Instance, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	out, err := m.runner.Run(ctx, m.binary, "info", "-v", "all")
	if err != nil {
		return nil, err
	}
	return parseManagerOutput(out, m.host)
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// managerInstance is one entry of "info -v all" JSON output.
type managerInstance struct {
	Index            flexInt `json:"index"`
	Name             string  `json:"name"`
	IsProcessStarted bool    `json:"is_process_started"`
	ADBPort          flexInt `json:"adb_port"`
}

// parseManagerOutput handles the three shapes the manager prints: an object
// keyed by instance index, a single instance object, or key: value text.
func parseManagerOutput(out []byte, host string) ([]device.Instance, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '{' {
		var keyed map[string]managerInstance
		if err := json.Unmarshal(trimmed, &keyed); err == nil && !looksSingle(trimmed) {
			return fromKeyed(keyed, host), nil
		}
		var single managerInstance
		if err := json.Unmarshal(trimmed, &single); err == nil {
			return fromEntries([]managerInstance{single}, host), nil
		}
	}

	instances := parseManagerText(string(trimmed), host)
	if len(instances) == 0 {
		return nil, fmt.Errorf("%w: %.80q", ErrManagerOutput, trimmed)
	}
	return instances, nil
}

// looksSingle reports whether a JSON object is one instance rather than a map of them.
func looksSingle(b []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return false
	}
	_, hasPort := probe["adb_port"]
	_, hasStarted := probe["is_process_started"]
	return hasPort || hasStarted
}

func fromKeyed(keyed map[string]managerInstance, host string) []device.Instance {
	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})

	entries := make([]managerInstance, 0, len(keys))
	for _, k := range keys {
		e := keyed[k]
		if e.Name == "" {
			e.Name = "MuMu " + k
		}
		entries = append(entries, e)
	}
	return fromEntries(entries, host)
}

func fromEntries(entries []managerInstance, host string) []device.Instance {
	var out []device.Instance
	for _, e := range entries {
		if !e.IsProcessStarted || e.ADBPort <= 0 {
			continue
		}
		out = append(out, device.Instance{
			Name:     e.Name,
			Index:    int(e.Index),
			Endpoint: net.JoinHostPort(host, strconv.Itoa(int(e.ADBPort))),
		})
	}
	return out
}

// parseManagerText reads "name:", "index:" and "adb_port:" lines. An instance
// is emitted as soon as both a name and a port have been seen.
func parseManagerText(text, host string) []device.Instance {
	var (
		out   []device.Instance
		name  string
		index = -1
		port  int
	)

	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "name":
			name = value
		case "index":
			if n, err := strconv.Atoi(value); err == nil {
				index = n
			}
		case "adb_port":
			if n, err := strconv.Atoi(value); err == nil {
				port = n
			}
		}

		if name != "" && port > 0 {
			inst := device.Instance{
				Name:     name,
				Endpoint: net.JoinHostPort(host, strconv.Itoa(port)),
			}
			if index >= 0 {
				inst.Index = index
				inst.Name = fmt.Sprintf("%s (#%d)", name, index)
			}
			out = append(out, inst)
			name, index, port = "", -1, 0
		}
	}
	return out
}
