// Package report turns the metric tables of one run into the delivered
// artifact: a localized text summary and a 4x3 dashboard image.
package report

import (
	"fmt"
	"slices"
	"time"

	"gonum.org/v1/plot/vg"

	"github.com/jazware/engagement-report/pkg/metrics"
)

// Report is created once per run and only lives until delivery.
type Report struct {
	Date     time.Time
	Text     string
	Image    []byte
	Filename string
	Summary  Summary
}

type Assembler struct {
	locale *Locale
	cities []string
	dpi    int
	width  vg.Length
	height vg.Length
}

type Option func(*Assembler)

// WithLocale sets the text and chart locale, see LookupLocale.
func WithLocale(l *Locale) Option {
	return func(a *Assembler) {
		if l != nil {
			a.locale = l
		}
	}
}

// WithCities sets the city series of the per-city panels.
func WithCities(cities []string) Option {
	return func(a *Assembler) {
		if len(cities) > 0 {
			a.cities = slices.Clone(cities)
		}
	}
}

func WithDPI(dpi int) Option {
	return func(a *Assembler) {
		if dpi > 0 {
			a.dpi = dpi
		}
	}
}

// NewAssembler defaults to the Russian locale, the default cities and a 9x12 inch image.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{
		locale: locales["ru"],
		cities: metrics.DefaultCities,
		dpi:    150,
		width:  9 * vg.Inch,
		height: 12 * vg.Inch,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble derives the summary, renders the text and draws the dashboard.
func (a *Assembler) Assemble(in Inputs) (*Report, error) {
	s, err := Summarize(in)
	if err != nil {
		return nil, err
	}

	text, err := a.locale.Text(s)
	if err != nil {
		return nil, err
	}

	d := &dashboard{
		locale: a.locale,
		cities: a.cities,
		dpi:    a.dpi,
		width:  a.width,
		height: a.height,
	}
	img, err := d.render(in)
	if err != nil {
		return nil, fmt.Errorf("failed to render dashboard: %w", err)
	}

	return &Report{
		Date:     s.Date,
		Text:     text,
		Image:    img,
		Filename: a.locale.Filename,
		Summary:  s,
	}, nil
}
