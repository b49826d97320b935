package main

import (
	"github.com/spf13/pflag"

	"github.com/floodline/gaugewatch/internal/domain"
)

// modeValue validates --mode at parse time so a typo fails with usage
// output instead of surfacing later as a config error.
type modeValue string

var _ pflag.Value = (*modeValue)(nil)

func (m *modeValue) String() string { return string(*m) }

func (m *modeValue) Set(raw string) error {
	if _, err := domain.ParseQueryMode(raw); err != nil {
		return err
	}
	*m = modeValue(raw)
	return nil
}

func (m *modeValue) Type() string { return "recent|range" }

// alignValue validates --align the same way.
type alignValue string

var _ pflag.Value = (*alignValue)(nil)

func (a *alignValue) String() string { return string(*a) }

func (a *alignValue) Set(raw string) error {
	if _, err := domain.ParseAlign(raw); err != nil {
		return err
	}
	*a = alignValue(raw)
	return nil
}

func (a *alignValue) Type() string { return "trailing|shifted" }
