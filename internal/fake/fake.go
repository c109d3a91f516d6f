// Package fake generates synthetic field values with gofakeit.
//
// Generator names follow the definition file vocabulary (uuid4, email,
// random_int, ...). A Generator seeded with the same value produces the same
// sequence of values, which keeps simulation runs reproducible.
package fake

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/roach88/flowsim/internal/schema"
	"github.com/roach88/flowsim/internal/value"
)

// Generator produces field values. It is not safe for concurrent use.
type Generator struct {
	f *gofakeit.Faker
}

// New returns a generator seeded with seed.
func New(seed uint64) *Generator {
	return &Generator{f: gofakeit.New(seed)}
}

type genFunc func(g *Generator, params value.Object, now time.Time) value.Value

var generators = map[string]genFunc{
	"uuid4":     func(g *Generator, _ value.Object, _ time.Time) value.Value { return value.String(g.f.UUID()) },
	"now":       func(_ *Generator, _ value.Object, now time.Time) value.Value { return value.Time(now) },
	"name":      func(g *Generator, _ value.Object, _ time.Time) value.Value { return value.String(g.f.Name()) },
	"email":     func(g *Generator, _ value.Object, _ time.Time) value.Value { return value.String(g.f.Email()) },
	"user_name": func(g *Generator, _ value.Object, _ time.Time) value.Value { return value.String(g.f.Username()) },
	"company":   func(g *Generator, _ value.Object, _ time.Time) value.Value { return value.String(g.f.Company()) },
	"country":   func(g *Generator, _ value.Object, _ time.Time) value.Value { return value.String(g.f.Country()) },
	"word":      func(g *Generator, _ value.Object, _ time.Time) value.Value { return value.String(g.f.Word()) },
	"boolean":   func(g *Generator, _ value.Object, _ time.Time) value.Value { return value.Bool(g.f.Bool()) },
	"catch_phrase": func(g *Generator, _ value.Object, _ time.Time) value.Value {
		return value.String(g.f.HackerPhrase())
	},
	"ean": func(g *Generator, _ value.Object, _ time.Time) value.Value {
		return value.String(ean13(g.f.Numerify("############")))
	},
	"date_time": func(g *Generator, _ value.Object, now time.Time) value.Value {
		return value.Time(g.f.DateRange(time.Unix(0, 0).UTC(), now))
	},
	"date_time_this_decade": func(g *Generator, _ value.Object, now time.Time) value.Value {
		start := time.Date(now.Year()-now.Year()%10, 1, 1, 0, 0, 0, 0, now.Location())
		return value.Time(g.f.DateRange(start, now))
	},
	"lexify": func(g *Generator, p value.Object, _ time.Time) value.Value {
		return value.String(g.f.Lexify(stringParam(p, "text", "????")))
	},
	"random_int": func(g *Generator, p value.Object, _ time.Time) value.Value {
		lo, hi := intParam(p, "min", 0), intParam(p, "max", 9999)
		if hi < lo {
			lo, hi = hi, lo
		}
		return value.Int(g.f.Number(int(lo), int(hi)))
	},
	"pyfloat": func(g *Generator, p value.Object, _ time.Time) value.Value {
		lo, hi := floatParam(p, "min_value", 0), floatParam(p, "max_value", 1000)
		if boolParam(p, "positive") && lo < 0 {
			lo = 0
		}
		if hi < lo {
			lo, hi = hi, lo
		}
		return value.Float(math.Round(g.f.Float64Range(lo, hi)*100) / 100)
	},
	"random_element": func(g *Generator, p value.Object, _ time.Time) value.Value {
		elems, ok := p.Get("elements").(value.List)
		if !ok || len(elems) == 0 {
			return value.Null{}
		}
		return elems[g.f.Number(0, len(elems)-1)]
	},
	"sentence": func(g *Generator, p value.Object, _ time.Time) value.Value {
		return value.String(g.sentence(int(intParam(p, "nb_words", 6))))
	},
	"text": func(g *Generator, p value.Object, _ time.Time) value.Value {
		limit := int(intParam(p, "max_nb_chars", 200))
		var b strings.Builder
		for b.Len() < limit {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(g.sentence(4 + g.f.Number(0, 6)))
		}
		out := b.String()
		if len(out) > limit {
			out = strings.TrimSpace(out[:limit])
		}
		return value.String(out)
	},
}

// Generate returns a value for the field. ok is false when the field has no
// generator or names one this package does not know.
func (g *Generator) Generate(field schema.Field, now time.Time) (value.Value, bool) {
	fn, ok := generators[field.Generator]
	if !ok {
		return nil, false
	}
	return fn(g, field.Params, now), true
}

// Known reports whether name is a supported generator.
func Known(name string) bool {
	_, ok := generators[name]
	return ok
}

func (g *Generator) sentence(words int) string {
	if words < 1 {
		words = 1
	}
	parts := make([]string, words)
	for i := range parts {
		parts[i] = g.f.Word()
	}
	s := strings.Join(parts, " ")
	return strings.ToUpper(s[:1]) + s[1:] + "."
}

// ean13 appends the EAN-13 check digit to twelve digits.
func ean13(digits string) string {
	sum := 0
	for i, r := range digits {
		d := int(r - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return digits + strconv.Itoa((10-sum%10)%10)
}

func stringParam(p value.Object, name, def string) string {
	if s, ok := p.Get(name).(value.String); ok {
		return string(s)
	}
	return def
}

func intParam(p value.Object, name string, def int64) int64 {
	switch v := p.Get(name).(type) {
	case value.Int:
		return int64(v)
	case value.Float:
		return int64(v)
	}
	return def
}

func floatParam(p value.Object, name string, def float64) float64 {
	switch v := p.Get(name).(type) {
	case value.Int:
		return float64(v)
	case value.Float:
		return float64(v)
	}
	return def
}

func boolParam(p value.Object, name string) bool {
	b, ok := p.Get(name).(value.Bool)
	return ok && bool(b)
}
