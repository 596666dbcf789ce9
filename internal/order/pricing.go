package order

// Charges are the order-level amounts added on top of the item subtotal.
type Charges struct {
	Tax            int64
	ShippingCharge int64
	Discount       int64
}

// PricingRules computes tax, shipping and discount for a priced cart.
type PricingRules interface {
	Charges(subtotal int64, items []OrderItem, address ShippingAddress) (Charges, error)
}

type flatPricing struct{}

// NoCharges is the default rule set: every charge is zero.
func NoCharges() PricingRules { return flatPricing{} }

func (flatPricing) Charges(int64, []OrderItem, ShippingAddress) (Charges, error) {
	return Charges{}, nil
}
