package service

// Pricing is the shipping rule applied by both cart previews and checkout.
type Pricing struct {
	FreeShippingThreshold int64
	FlatShippingFee       int64
}

// Totals is a priced basket in VND.
type Totals struct {
	Subtotal      int64 `json:"subtotal"`
	ShippingFee   int64 `json:"shippingFee"`
	DiscountValue int64 `json:"discountValue"`
	TotalAmount   int64 `json:"totalAmount"`
}

// Quote prices a basket. An empty basket ships for free and the discount is
// capped so the total never goes below zero.
func (p Pricing) Quote(subtotal, discount int64) Totals {
	var fee int64
	if subtotal > 0 && subtotal < p.FreeShippingThreshold {
		fee = p.FlatShippingFee
	}
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal+fee {
		discount = subtotal + fee
	}
	return Totals{
		Subtotal:      subtotal,
		ShippingFee:   fee,
		DiscountValue: discount,
		TotalAmount:   subtotal + fee - discount,
	}
}
