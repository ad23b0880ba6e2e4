package market

import (
	"context"
	"math/rand"
	"sync"
)

// MockSource generates random-walk quotes for local development and tests.
type MockSource struct {
	Instruments []string
	StartPrices map[string]float64
	Step        float64 // max fractional move per fetch (e.g. 0.01 = 1%)

	mu     sync.Mutex
	prices map[string]float64
	opens  map[string]float64
}

func (m *MockSource) Fetch(_ context.Context) (map[string]Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.prices == nil {
		m.prices = make(map[string]float64)
		m.opens = make(map[string]float64)
		for _, inst := range m.Instruments {
			p := m.StartPrices[inst]
			if p == 0 {
				p = 100.0
			}
			m.prices[inst] = p
			m.opens[inst] = p
		}
	}
	step := m.Step
	if step == 0 {
		step = 0.005
	}

	quotes := make(map[string]Quote, len(m.prices))
	for inst, price := range m.prices {
		price *= 1 + (rand.Float64()*2-1)*step
		m.prices[inst] = price
		open := m.opens[inst]
		quotes[inst] = Quote{
			Instrument: inst,
			Price:      price,
			Change24h:  (price - open) / open,
			High24h:    price * 1.02,
			Low24h:     price * 0.98,
			Volume24h:  rand.Float64() * 1e6,
		}
	}
	return quotes, nil
}
