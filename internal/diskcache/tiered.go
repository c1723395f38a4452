package diskcache

// Tiered chains stores from fastest to slowest. Reads return the first
// hit and back-fill the tiers in front of it; writes go to every tier.
type Tiered struct {
	tiers []Store
}

var _ Store = (*Tiered)(nil)

// NewTiered builds a chain. Nil tiers are skipped.
func NewTiered(tiers ...Store) *Tiered {
	t := &Tiered{}
	for _, s := range tiers {
		if s != nil {
			t.tiers = append(t.tiers, s)
		}
	}
	return t
}

func (t *Tiered) Has(key string) bool {
	for _, s := range t.tiers {
		if s.Has(key) {
			return true
		}
	}
	return false
}

func (t *Tiered) Read(key string) []byte {
	for i, s := range t.tiers {
		data := s.Read(key)
		if data == nil {
			continue
		}
		for j := 0; j < i; j++ {
			t.tiers[j].Write(key, data)
		}
		return data
	}
	return nil
}

func (t *Tiered) Write(key string, data []byte) bool {
	ok := false
	for _, s := range t.tiers {
		if s.Write(key, data) {
			ok = true
		}
	}
	return ok
}
