package session

// blockCounter yields the block numbers of a transfer. The first call to Next
// returns 1; numbers wrap from 65535 to 0.
type blockCounter struct {
	val uint16
}

func (b *blockCounter) Next() uint16 {
	b.val++
	return b.val
}

// order classifies a received block number against the awaited one using
// serial-number arithmetic, so comparisons stay correct across the wrap.
func order(got, want uint16) verdict {
	switch d := int16(got - want); {
	case d == 0:
		return accept
	case d < 0:
		return discard
	default:
		return reject
	}
}
