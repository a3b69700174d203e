package layout

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/rtr-telemetry/internal/telemetry"
)

// document is the YAML shape. devices/frequency/fields is the current
// spelling; rtr_ids/freq/variables is accepted for older files.
type document struct {
	Devices []deviceDoc `yaml:"devices"`
	RTRIDs  []deviceDoc `yaml:"rtr_ids"`
}

type deviceDoc struct {
	ID             idScalar   `yaml:"id"`
	Frequency      *float64   `yaml:"frequency"`
	Freq           *float64   `yaml:"freq"`
	PayloadLength  int        `yaml:"payload_length"`
	BufferCapacity int        `yaml:"buffer_capacity"`
	Fields         []fieldDoc `yaml:"fields"`
	Variables      []fieldDoc `yaml:"variables"`
}

type fieldDoc struct {
	Name  string `yaml:"name"`
	Width int    `yaml:"width"`
	Order string `yaml:"order"`
	Kind  string `yaml:"kind"`
	Type  string `yaml:"type"`
}

// idScalar keeps the id's source text so 0x100, "0x100" and 256 all parse
// the same way.
type idScalar struct {
	raw string
}

func (s *idScalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: id must be a scalar", node.Line)
	}
	s.raw = node.Value
	return nil
}

// shorthand maps the legacy "type" values onto width and kind.
var shorthand = map[string]struct {
	width int
	kind  telemetry.Kind
}{
	"int8":    {1, telemetry.KindSigned},
	"int16":   {2, telemetry.KindSigned},
	"int32":   {4, telemetry.KindSigned},
	"int64":   {8, telemetry.KindSigned},
	"uint8":   {1, telemetry.KindUnsigned},
	"uint16":  {2, telemetry.KindUnsigned},
	"uint32":  {4, telemetry.KindUnsigned},
	"uint64":  {8, telemetry.KindUnsigned},
	"float32": {4, telemetry.KindFloat},
	"float64": {8, telemetry.KindFloat},
	"float":   {4, telemetry.KindFloat},
	"double":  {8, telemetry.KindFloat},
}

// Load reads and parses the layout document at path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading layout: %w", err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Parse parses a layout document.
func Parse(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLayout, err)
	}

	devices := append(doc.Devices, doc.RTRIDs...)
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no devices declared", ErrInvalidLayout)
	}

	entries := make([]Entry, 0, len(devices))
	var errs []string
	for i, d := range devices {
		e, err := d.entry()
		if err != nil {
			errs = append(errs, fmt.Sprintf("device[%d]: %v", i, err))
			continue
		}
		entries = append(entries, e)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidLayout, strings.Join(errs, "; "))
	}

	return New(entries)
}

func (d deviceDoc) entry() (Entry, error) {
	id, err := telemetry.ParseDeviceID(d.ID.raw)
	if err != nil {
		return Entry{}, err
	}

	e := Entry{
		DeviceID:       id,
		PayloadLength:  d.PayloadLength,
		BufferCapacity: d.BufferCapacity,
	}

	switch {
	case d.Frequency != nil && d.Freq != nil:
		return Entry{}, fmt.Errorf("%s: set frequency or freq, not both", id)
	case d.Frequency != nil:
		e.FrequencyHz = *d.Frequency
	case d.Freq != nil:
		e.FrequencyHz = *d.Freq
	default:
		return Entry{}, fmt.Errorf("%s: frequency is required", id)
	}

	fields := d.Fields
	if len(fields) == 0 {
		fields = d.Variables
	} else if len(d.Variables) > 0 {
		return Entry{}, fmt.Errorf("%s: set fields or variables, not both", id)
	}

	for _, f := range fields {
		spec := FieldSpec{
			Name:  f.Name,
			Width: f.Width,
			Order: ByteOrder(strings.ToLower(f.Order)),
			Kind:  telemetry.Kind(strings.ToLower(f.Kind)),
		}
		if f.Type != "" {
			if f.Width != 0 || f.Kind != "" {
				return Entry{}, fmt.Errorf("%s field %q: type cannot be combined with width or kind", id, f.Name)
			}
			sh, ok := shorthand[strings.ToLower(f.Type)]
			if !ok {
				return Entry{}, fmt.Errorf("%s field %q: unknown type %q", id, f.Name, f.Type)
			}
			spec.Width, spec.Kind = sh.width, sh.kind
		}
		e.Fields = append(e.Fields, spec)
	}

	return e, nil
}
