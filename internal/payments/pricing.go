package payments

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"storefront/internal/types"
)

var hundred = decimal.NewFromInt(100)

// PricingRules holds the tax and shipping parameters from configuration.
type PricingRules struct {
	TaxRate          decimal.Decimal
	DefaultShipping  decimal.Decimal
	FreeShippingOver decimal.Decimal
}

// DefaultPricingRules returns 7% tax, 10.00 shipping, free over 100.00.
func DefaultPricingRules() PricingRules {
	return PricingRules{
		TaxRate:          decimal.RequireFromString("0.07"),
		DefaultShipping:  decimal.NewFromInt(10),
		FreeShippingOver: decimal.NewFromInt(100),
	}
}

// Breakdown is the price split stored on an order.
type Breakdown struct {
	Items    decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// Apply copies the breakdown onto o.
func (b Breakdown) Apply(o *types.Order) {
	o.ItemsPrice = b.Items
	o.TaxPrice = b.Tax
	o.ShippingPrice = b.Shipping
	o.TotalPrice = b.Total
}

// ItemsTotal is the sum of price times quantity over items, rounded to cents.
func ItemsTotal(items types.LineItems) decimal.Decimal {
	sum := decimal.Zero
	for _, li := range items {
		sum = sum.Add(li.Subtotal())
	}
	return sum.Round(2)
}

// ForCart prices a buyer-placed order: shipping is free above the threshold,
// tax is charged on items, and the total is the exact sum of the parts.
func (p PricingRules) ForCart(items types.LineItems) Breakdown {
	itemsPrice := ItemsTotal(items)
	shipping := p.DefaultShipping
	if itemsPrice.GreaterThan(p.FreeShippingOver) {
		shipping = decimal.Zero
	}
	tax := itemsPrice.Mul(p.TaxRate).Round(2)
	return Breakdown{
		Items:    itemsPrice,
		Tax:      tax,
		Shipping: shipping,
		Total:    itemsPrice.Add(tax).Add(shipping),
	}
}

// ForProviderAmount prices an order created from a payment event. The total
// is the provider's charged amount; tax is the configured rate applied to
// that total, and shipping is the default. The parts are not forced to sum
// to the total.
func (p PricingRules) ForProviderAmount(items types.LineItems, amountMinor int64) Breakdown {
	total := FromMinorUnits(amountMinor)
	return Breakdown{
		Items:    ItemsTotal(items),
		Tax:      total.Mul(p.TaxRate).Round(2),
		Shipping: p.DefaultShipping,
		Total:    total,
	}
}

// ToMinorUnits converts a major-unit amount to cents, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts cents to a major-unit amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

type metadataProduct struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// LineItemsFromMetadata decodes the "products" metadata value, a JSON list
// of {id, name, quantity, price}. Missing metadata yields an empty list;
// undecodable metadata yields an empty list and the decode error.
func LineItemsFromMetadata(raw string) (types.LineItems, error) {
	items := types.LineItems{}
	if raw == "" {
		return items, nil
	}
	var products []metadataProduct
	if err := json.Unmarshal([]byte(raw), &products); err != nil {
		return items, err
	}
	for i, p := range products {
		if p.Quantity <= 0 || p.Price.IsNegative() {
			return types.LineItems{}, fmt.Errorf("product %d: quantity must be positive and price non-negative", i)
		}
		items = append(items, types.LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  p.Quantity,
			Price:     p.Price,
		})
	}
	return items, nil
}
