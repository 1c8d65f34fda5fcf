package ticketnumber

import (
	"context"
	"fmt"
)

// Date produces YYYYMMDD + system id + zero padded daily counter.
type Date struct {
	cfg   Config
	clock Clock
}

func NewDate(cfg Config, clk Clock) *Date { return &Date{cfg: cfg, clock: clk} }
func (g *Date) Name() string              { return "Date" }
func (g *Date) Next(ctx context.Context, store CounterStore) (string, error) {
	tp := g.clock.Now()
	counter, err := store.Add(ctx, true, 1)
	if err != nil {
		return "", err
	}
	width := g.cfg.MinCounterSize
	if width <= 0 {
		width = 5
	}
	return fmt.Sprintf("%04d%02d%02d%s%0*d", tp.Year, tp.Month, tp.Day, g.cfg.SystemID, width, counter), nil
}
