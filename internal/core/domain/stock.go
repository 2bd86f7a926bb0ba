package domain

// StockLevel is the Stock Gauge reading for one product. Never cached.
type StockLevel struct {
	Available int
	Used      int
}

func (s StockLevel) Total() int {
	return s.Available + s.Used
}

func (s StockLevel) InStock() bool {
	return s.Available > 0
}

func (s StockLevel) Covers(quantity int) bool {
	return s.Available >= quantity
}

// GaugeKeys derives a StockLevel from a snapshot of a product's keys.
func GaugeKeys(keys []Key) StockLevel {
	var level StockLevel
	for _, k := range keys {
		switch k.State() {
		case KeyStateUnused:
			level.Available++
		case KeyStateUsed:
			level.Used++
		}
	}
	return level
}
