package format

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// LearnedPattern is a recorded (address -> observed values) mapping built
// from inbound OSC traffic while learning is enabled on the receiver.
type LearnedPattern struct {
	Address       string
	ArgumentTypes []byte
	LastValues    []float64
	LastReceived  time.Time
	Count         uint64
	Active        bool
}

// Preset bundles a named set of templates and target device ids.
type Preset struct {
	Name      string
	Templates []*Template
	Targets   []string
}

// Manager owns message templates, target device ids, and presets, and is
// the component that turns a CV vector into GeneratedMessages each engine
// tick.
type Manager struct {
	mu sync.Mutex

	templates []*Template
	targets   []string

	presets map[string]*Preset

	learning bool
	patterns map[string]*LearnedPattern
}

// New builds an empty Manager.
func New() *Manager {
	return &Manager{presets: make(map[string]*Preset), patterns: make(map[string]*LearnedPattern)}
}

// AddTemplate registers a template, keeping the template list sorted by
// descending priority for generation order.
func (m *Manager) AddTemplate(t *Template) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates = append(m.templates, t)
	sort.SliceStable(m.templates, func(i, j int) bool { return m.templates[i].Priority > m.templates[j].Priority })
}

// RemoveTemplate drops the first template named name.
func (m *Manager) RemoveTemplate(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.templates {
		if t.Name == name {
			m.templates = append(m.templates[:i], m.templates[i+1:]...)
			return
		}
	}
}

// SetTargets replaces the configured target device ids.
func (m *Manager) SetTargets(ids []string) {
	m.mu.Lock()
	m.targets = append([]string(nil), ids...)
	m.mu.Unlock()
}

// Targets returns the configured target device ids.
func (m *Manager) Targets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.targets...)
}

// DefaultAddressPattern is the out-of-the-box CV-to-OSC address
// template: /cv/channel/{N} carrying one float in [0,1].
const DefaultAddressPattern = "/cv/channel/{channel}"

// NewDefaultTemplate builds the default passthrough template: one
// float argument sourced straight from the CV value, always enabled, no
// throttling.
func NewDefaultTemplate() *Template {
	return &Template{
		Name:            "default",
		AddressPattern:  DefaultAddressPattern,
		ArgumentTypes:   []byte{'f'},
		ArgumentSources: []ArgumentSource{SourceCV},
		Scale:           1,
		Offset:          0,
		Condition:       NewCondition(ConditionAlways),
		Enabled:         true,
		Priority:        0,
	}
}

// Generate evaluates every enabled template against every channel's
// current value in cv, in priority order, honoring condition gating and
// per-channel throttling, and returns the messages that should be
// dispatched this tick.
func (m *Manager) Generate(cv []float64, now time.Time) ([]*GeneratedMessage, error) {
	m.mu.Lock()
	templates := append([]*Template(nil), m.templates...)
	m.mu.Unlock()

	var out []*GeneratedMessage
	for _, t := range templates {
		if !t.Enabled {
			continue
		}
		for channel, value := range cv {
			if t.Condition != nil && !t.Condition.Evaluate(channel, value) {
				continue
			}
			if t.SendInterval > 0 && t.shouldThrottle(channel, now) {
				continue
			}
			msg, err := generateOne(t, channel, value, cv)
			if err != nil {
				return nil, err
			}
			out = append(out, msg)
		}
	}
	return out, nil
}

func generateOne(t *Template, channel int, value float64, cv []float64) (*GeneratedMessage, error) {
	args := make([]GeneratedArgument, len(t.ArgumentTypes))
	for i, kind := range t.ArgumentTypes {
		source := SourceCV
		if i < len(t.ArgumentSources) {
			source = t.ArgumentSources[i]
		}

		var fv float64
		switch source {
		case SourceCV:
			fv = value*t.Scale + t.Offset
		case SourceConstant:
			if i < len(t.ConstantValues) {
				fv = t.ConstantValues[i]
			}
		case SourceCalculated:
			if i >= len(t.Formulas) || t.Formulas[i] == nil {
				return nil, fmt.Errorf("format: template %q argument %d has no formula", t.Name, i)
			}
			fv = t.Formulas[i].Eval(value)
		}

		switch kind {
		case 'f':
			args[i] = GeneratedArgument{Type: 'f', Float: fv}
		case 'i':
			args[i] = GeneratedArgument{Type: 'i', Int: int32(fv)}
		case 's':
			args[i] = GeneratedArgument{Type: 's', Str: fmt.Sprintf("%v", fv)}
		default:
			return nil, fmt.Errorf("format: template %q unsupported argument type %q", t.Name, kind)
		}
	}

	primary := byte('f')
	if len(t.ArgumentTypes) > 0 {
		primary = t.ArgumentTypes[0]
	}

	return &GeneratedMessage{
		Address:     RenderAddress(t.AddressPattern, channel),
		Arguments:   args,
		PrimaryType: primary,
		Priority:    t.Priority,
		Channel:     channel,
	}, nil
}

// SavePreset snapshots the current templates and targets under name.
func (m *Manager) SavePreset(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presets[name] = &Preset{
		Name:      name,
		Templates: append([]*Template(nil), m.templates...),
		Targets:   append([]string(nil), m.targets...),
	}
}

// LoadPreset replaces the current templates and targets with the named
// preset's snapshot.
func (m *Manager) LoadPreset(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presets[name]
	if !ok {
		return fmt.Errorf("format: no such preset %q", name)
	}
	m.templates = append([]*Template(nil), p.Templates...)
	m.targets = append([]string(nil), p.Targets...)
	return nil
}

// SetLearning toggles pattern learning from inbound OSC traffic.
func (m *Manager) SetLearning(on bool) {
	m.mu.Lock()
	m.learning = on
	m.mu.Unlock()
}

// Learn records one observed (address, values) pair. It is wired as the
// osc.Receiver's LearnFunc when learning is enabled.
func (m *Manager) Learn(address string, types []byte, values []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.learning {
		return
	}
	p, ok := m.patterns[address]
	if !ok {
		p = &LearnedPattern{Address: address, ArgumentTypes: types}
		m.patterns[address] = p
	}
	p.LastValues = values
	p.LastReceived = time.Now()
	p.Count++
	p.Active = true
}

// LearnedPatterns returns a snapshot of all recorded patterns.
func (m *Manager) LearnedPatterns() []*LearnedPattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*LearnedPattern, 0, len(m.patterns))
	for _, p := range m.patterns {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// CreateTemplateFromPattern promotes a learned pattern into an editable,
// disabled-by-default template that a caller can tune before enabling.
func (m *Manager) CreateTemplateFromPattern(address string) (*Template, error) {
	m.mu.Lock()
	p, ok := m.patterns[address]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("format: no learned pattern for %q", address)
	}

	sources := make([]ArgumentSource, len(p.ArgumentTypes))
	for i := range sources {
		sources[i] = SourceCV
	}
	t := &Template{
		Name:            "learned:" + address,
		AddressPattern:  address,
		ArgumentTypes:   append([]byte(nil), p.ArgumentTypes...),
		ArgumentSources: sources,
		Scale:           1,
		Condition:       NewCondition(ConditionAlways),
		Enabled:         false,
	}
	return t, nil
}
