package timeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pedalhouse/engine/internal/domain/zone"
)

// SeriesKind tags a series so decoding can restore value types.
type SeriesKind string

// Series kinds carried in seriesMeta.
const (
	KindNumber SeriesKind = "number"
	KindZone   SeriesKind = "zone"
)

// SeriesMeta describes one encoded series.
type SeriesMeta struct {
	Kind SeriesKind `json:"kind"`
}

// Timebase anchors the encoded timeline.
type Timebase struct {
	StartTime  time.Time `json:"startTime"`
	IntervalMs int64     `json:"intervalMs"`
	TickCount  int       `json:"tickCount"`
}

// Encoded is the serialization-boundary form of a timeline.
type Encoded struct {
	Timebase   Timebase              `json:"timebase"`
	Series     map[string]string     `json:"series"`
	SeriesMeta map[string]SeriesMeta `json:"seriesMeta"`
	Events     []Event               `json:"events"`
}

// Run-length string format: runs joined by "|", each run "tok" or
// "tok*count". Tokens: "_" for nil, a single zone symbol for zone
// series, decimal numbers otherwise.
const (
	nullToken    = "_"
	runSeparator = "|"
	countMarker  = "*"
)

// Encode run-length-encodes every series and symbol-compresses the zone
// series. The result is exactly reversible via Decode. Violations of the
// length invariant or the size cap reject the whole timeline.
func (t *Timeline) Encode() (*Encoded, error) {
	total := 0
	for _, key := range t.order {
		s := t.series[key]
		if len(s) != t.tickCount {
			return nil, fmt.Errorf("series %s has %d points at tick %d: %w",
				key, len(s), t.tickCount, ErrSeriesTickMismatch)
		}
		total += len(s)
	}
	if total > t.maxPoints {
		return nil, fmt.Errorf("%d points exceed cap %d: %w", total, t.maxPoints, ErrSeriesSizeCap)
	}

	enc := &Encoded{
		Timebase: Timebase{
			StartTime:  t.startTime,
			IntervalMs: t.intervalMs,
			TickCount:  t.tickCount,
		},
		Series:     make(map[string]string, len(t.order)),
		SeriesMeta: make(map[string]SeriesMeta, len(t.order)),
		Events:     t.Events(),
	}
	for _, key := range t.order {
		kind, rle, err := encodeSeries(t.series[key])
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", key, err)
		}
		enc.Series[key] = rle
		enc.SeriesMeta[key] = SeriesMeta{Kind: kind}
	}
	return enc, nil
}

// Decode reverses Encode, restoring plain value slices keyed by series.
func Decode(enc *Encoded) (map[string][]Value, error) {
	out := make(map[string][]Value, len(enc.Series))
	for key, rle := range enc.Series {
		meta, ok := enc.SeriesMeta[key]
		if !ok {
			return nil, fmt.Errorf("series %s: missing meta: %w", key, ErrUnknownSeriesKind)
		}
		values, err := decodeSeries(rle, meta.Kind, enc.Timebase.TickCount)
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", key, err)
		}
		out[key] = values
	}
	return out, nil
}

func encodeSeries(s []Value) (SeriesKind, string, error) {
	kind := KindNumber
	sawNumber := false
	tokens := make([]string, 0, len(s))
	counts := make([]int, 0, len(s))
	for _, v := range s {
		tok, k, err := encodeValue(v)
		if err != nil {
			return kind, "", err
		}
		if k == KindZone {
			kind = KindZone
		} else if tok != nullToken {
			sawNumber = true
		}
		if kind == KindZone && sawNumber {
			return kind, "", fmt.Errorf("mixed zone and numeric samples: %w", ErrUnsupportedValue)
		}
		if n := len(tokens); n > 0 && tokens[n-1] == tok {
			counts[n-1]++
			continue
		}
		tokens = append(tokens, tok)
		counts = append(counts, 1)
	}
	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 {
			b.WriteString(runSeparator)
		}
		b.WriteString(tok)
		if counts[i] > 1 {
			b.WriteString(countMarker)
			b.WriteString(strconv.Itoa(counts[i]))
		}
	}
	return kind, b.String(), nil
}

func encodeValue(v Value) (string, SeriesKind, error) {
	switch val := v.(type) {
	case nil:
		return nullToken, KindNumber, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), KindNumber, nil
	case zone.Zone:
		sym, err := val.Symbol()
		if err != nil {
			return "", KindZone, err
		}
		return sym, KindZone, nil
	default:
		return "", KindNumber, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

func decodeSeries(rle string, kind SeriesKind, tickCount int) ([]Value, error) {
	values := make([]Value, 0, tickCount)
	if rle == "" {
		if tickCount != 0 {
			return nil, fmt.Errorf("empty run data for %d ticks: %w", tickCount, ErrSeriesTickMismatch)
		}
		return values, nil
	}
	for _, run := range strings.Split(rle, runSeparator) {
		tok := run
		count := 1
		if idx := strings.LastIndex(run, countMarker); idx >= 0 {
			var err error
			count, err = strconv.Atoi(run[idx+1:])
			if err != nil || count < 1 {
				return nil, fmt.Errorf("run %q: %w", run, ErrBadRun)
			}
			tok = run[:idx]
		}
		v, err := decodeValue(tok, kind)
		if err != nil {
			return nil, err
		}
		for i := 0; i < count; i++ {
			values = append(values, v)
		}
	}
	if len(values) != tickCount {
		return nil, fmt.Errorf("decoded %d points for %d ticks: %w", len(values), tickCount, ErrSeriesTickMismatch)
	}
	return values, nil
}

func decodeValue(tok string, kind SeriesKind) (Value, error) {
	if tok == nullToken {
		return nil, nil
	}
	switch kind {
	case KindZone:
		z, err := zone.FromSymbol(tok)
		if err != nil {
			return nil, err
		}
		return z, nil
	case KindNumber:
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("token %q: %w", tok, ErrBadRun)
		}
		return f, nil
	default:
		return nil, ErrUnknownSeriesKind
	}
}
