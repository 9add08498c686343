package invoice

import (
	"github.com/shopspring/decimal"

	"pharmacy/internal/domain"
	"pharmacy/internal/money"
)

// Cart is the terminal-side basket. It never touches storage; Compose is
// the only place stock moves.
type Cart struct {
	lines []cartLine
}

type cartLine struct {
	product domain.Product
	item    domain.CartItem
}

// Add puts qty units of p in the cart, merging with an existing line for the
// same product. available is the FEFO-allocatable stock the terminal last saw.
func (c *Cart) Add(p domain.Product, qty, available int) error {
	if qty <= 0 {
		return domain.Validationf("quantity must be positive, got %d", qty)
	}
	for i := range c.lines {
		if c.lines[i].product.ID != p.ID {
			continue
		}
		next := c.lines[i].item.Quantity + qty
		if next > available {
			return &domain.InsufficientStockError{ProductID: p.ID, Requested: next, Available: available}
		}
		c.lines[i].item.Quantity = next
		return nil
	}
	if qty > available {
		return &domain.InsufficientStockError{ProductID: p.ID, Requested: qty, Available: available}
	}
	c.lines = append(c.lines, cartLine{product: p, item: domain.CartItem{ProductID: p.ID, Quantity: qty}})
	return nil
}

// SetQuantity replaces a line's quantity; zero or less removes it.
func (c *Cart) SetQuantity(productID string, qty, available int) error {
	for i := range c.lines {
		if c.lines[i].product.ID != productID {
			continue
		}
		if qty <= 0 {
			c.Remove(productID)
			return nil
		}
		if qty > available {
			return &domain.InsufficientStockError{ProductID: productID, Requested: qty, Available: available}
		}
		c.lines[i].item.Quantity = qty
		return nil
	}
	return domain.ErrNotFound
}

func (c *Cart) Remove(productID string) {
	for i := range c.lines {
		if c.lines[i].product.ID == productID {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return
		}
	}
}

// AttachPrescription links a line to the prescription item it fulfils.
func (c *Cart) AttachPrescription(productID, prescriptionItemID string) error {
	for i := range c.lines {
		if c.lines[i].product.ID == productID {
			c.lines[i].item.PrescriptionItemID = &prescriptionItemID
			return nil
		}
	}
	return domain.ErrNotFound
}

func (c *Cart) Items() []domain.CartItem {
	out := make([]domain.CartItem, len(c.lines))
	for i, l := range c.lines {
		out[i] = l.item
	}
	return out
}

// Totals prices the cart the same way Compose will.
func (c *Cart) Totals(rate decimal.Decimal) money.Line {
	lines := make([]money.Line, 0, len(c.lines))
	for _, l := range c.lines {
		_, line := priceItem("", l.product, l.item, rate)
		lines = append(lines, line)
	}
	return money.SumLines(lines)
}

func (c *Cart) Clear() {
	c.lines = nil
}

// PaymentComplete reports whether payments cover totalUSD, counting local
// currency at rate.
func PaymentComplete(totalUSD decimal.Decimal, payments []domain.Payment, rate decimal.Decimal) bool {
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.AmountUSD).Add(money.ToUSD(p.AmountLocal, rate))
	}
	return paid.GreaterThanOrEqual(totalUSD)
}

// Change is the overpayment per currency, never negative.
func Change(total money.Pair, payments []domain.Payment) money.Pair {
	paid := money.NewPair(decimal.Zero, decimal.Zero)
	for _, p := range payments {
		paid = paid.Add(money.NewPair(p.AmountUSD, p.AmountLocal))
	}
	return paid.Sub(total).Floor()
}
