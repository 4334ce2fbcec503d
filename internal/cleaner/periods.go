package cleaner

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
)

//go:embed periods.yaml
var periodsYAML []byte

type periodEntry struct {
	JC        string `yaml:"jc"`
	StartTime string `yaml:"starttime"`
	EndTime   string `yaml:"endtime"`
}

// PeriodTable maps period numbers to clock times. Loaded once from the
// embedded resource; read-only afterwards.
type PeriodTable struct {
	startFull map[string]string // "1" -> "08:00:00"
	display   map[string]string // "1" -> "08:00-08:50"
}

// LoadPeriodTable parses the embedded period lookup.
func LoadPeriodTable() (*PeriodTable, error) {
	var doc struct {
		Data []periodEntry `yaml:"data"`
	}
	if err := yaml.Unmarshal(periodsYAML, &doc); err != nil {
		return nil, fmt.Errorf("cleaner: parse period table: %w", err)
	}

	t := &PeriodTable{
		startFull: make(map[string]string, len(doc.Data)),
		display:   make(map[string]string, len(doc.Data)),
	}
	for _, e := range doc.Data {
		jc := strings.TrimSpace(e.JC)
		start := strings.TrimSpace(e.StartTime)
		if jc == "" || start == "" {
			continue
		}
		t.startFull[jc] = start
		ds := dropSeconds(start)
		if de := dropSeconds(strings.TrimSpace(e.EndTime)); de != "" {
			t.display[jc] = ds + "-" + de
		} else {
			t.display[jc] = ds
		}
	}
	if len(t.startFull) == 0 {
		return nil, fmt.Errorf("cleaner: period table is empty")
	}
	return t, nil
}

// Resolve maps a raw period slot like "7" or "7-8" to its full start time
// and display range. A compound slot falls back to its first component.
// ok is false when neither form is known.
func (t *PeriodTable) Resolve(slot string) (startFull, display string, ok bool) {
	slot = strings.TrimSpace(slot)
	if s, found := t.startFull[slot]; found {
		return s, t.display[slot], true
	}
	if strings.Contains(slot, "-") {
		left := strings.TrimSpace(strings.SplitN(slot, "-", 2)[0])
		if s, found := t.startFull[left]; found {
			return s, t.display[left], true
		}
	}
	return "", "", false
}

// StartByLeadingNumber resolves the slot's first digit run to a start time,
// the last-resort mapping for watertime computation.
func (t *PeriodTable) StartByLeadingNumber(slot string) (string, bool) {
	num := leadingDigits(slot)
	if num == "" {
		return "", false
	}
	s, ok := t.startFull[num]
	return s, ok
}

func dropSeconds(hms string) string {
	parts := strings.Split(hms, ":")
	if len(parts) < 2 {
		return hms
	}
	return parts[0] + ":" + parts[1]
}

func leadingDigits(s string) string {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}
