package market

// HistoryStore keeps a bounded FIFO window of past prices per product.
type HistoryStore struct {
	max    int
	series map[string][]float64
}

func NewHistoryStore(max int) *HistoryStore {
	if max <= 0 {
		max = HistoryMax
	}
	return &HistoryStore{max: max, series: make(map[string][]float64)}
}

func (h *HistoryStore) Push(productID string, price float64) {
	buf := append(h.series[productID], price)
	if len(buf) > h.max {
		buf = append(buf[:0:0], buf[len(buf)-h.max:]...)
	}
	h.series[productID] = buf
}

// Values returns a copy, oldest first.
func (h *HistoryStore) Values(productID string) []float64 {
	buf := h.series[productID]
	out := make([]float64, len(buf))
	copy(out, buf)
	return out
}

func (h *HistoryStore) Len(productID string) int {
	return len(h.series[productID])
}

// Seed replaces a product's history, keeping only the newest entries.
func (h *HistoryStore) Seed(productID string, values []float64) {
	if len(values) > h.max {
		values = values[len(values)-h.max:]
	}
	h.series[productID] = append([]float64(nil), values...)
}

func (h *HistoryStore) Reset() {
	h.series = make(map[string][]float64)
}
