package receipt

import (
	"fmt"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
)

// TestDataGenerator generates realistic receipt rows using gofakeit.
type TestDataGenerator struct {
	faker *gofakeit.Faker
}

// NewTestDataGenerator creates a generator with a random seed.
func NewTestDataGenerator() *TestDataGenerator {
	return &TestDataGenerator{faker: gofakeit.New(0)}
}

// NewTestDataGeneratorWithSeed creates a generator with a fixed seed for reproducibility.
func NewTestDataGeneratorWithSeed(seed int64) *TestDataGenerator {
	return &TestDataGenerator{faker: gofakeit.New(seed)}
}

// ============================================================================
// Line Item Generation
// ============================================================================

var productNames = []string{
	"Heavy Whip", "Whole Milk", "Unsalted Butter", "Cheddar Cheese",
	"Chicken Breast", "Ground Beef", "Salmon Fillet", "Jasmine Rice",
	"All Purpose Flour", "Granulated Sugar", "Canola Oil", "Yellow Onions",
	"Roma Tomatoes", "Iceberg Lettuce", "Russet Potatoes", "Large Eggs",
}

var uoms = []string{"ea", "ct", "lb", "cs", "gal", "oz"}

// ProductName returns a random grocery product name.
func (g *TestDataGenerator) ProductName() string {
	return productNames[g.faker.Number(0, len(productNames)-1)]
}

// Barcode returns a random 12 digit barcode.
func (g *TestDataGenerator) Barcode() string {
	return g.faker.Numerify("############")
}

// Price returns a random unit price between min and max, rounded to cents.
func (g *TestDataGenerator) Price(min, max float64) decimal.Decimal {
	return decimal.NewFromFloat(g.faker.Float64Range(min, max)).Round(2)
}

// LineItem generates an arithmetically consistent item: quantity * unit
// price equals the line total to the cent.
func (g *TestDataGenerator) LineItem(index int) *LineItem {
	qty := decimal.NewFromInt(int64(g.faker.Number(1, 6)))
	price := g.Price(0.5, 40)
	uom := uoms[g.faker.Number(0, len(uoms)-1)]
	return NewLineItem(index, g.ProductName(), qty, price, qty.Mul(price).Round(2), uom)
}

// LineItems generates count consistent items.
func (g *TestDataGenerator) LineItems(count int) []*LineItem {
	items := make([]*LineItem, count)
	for i := range items {
		items[i] = g.LineItem(i)
	}
	return items
}

// DuplicateLines generates n copies of the same product line sharing one
// barcode, as produced when a multi-page receipt repeats a row.
func (g *TestDataGenerator) DuplicateLines(startIndex, n int) []*LineItem {
	barcode := g.Barcode()
	name := g.ProductName()
	price := g.Price(0.5, 9)
	items := make([]*LineItem, n)
	for i := range items {
		qty := decimal.NewFromInt(int64(g.faker.Number(1, 4)))
		items[i] = NewLineItem(startIndex+i, fmt.Sprintf("%s %s", barcode, name), qty, price, qty.Mul(price).Round(2), "ea")
		items[i].Barcode = barcode
		items[i].CleanDescription = name
	}
	return items
}

// Receipt wraps items with totals that agree with their sum and no tax.
func (g *TestDataGenerator) Receipt(vendor string, items []*LineItem) *Receipt {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal)
	}
	return NewReceipt(vendor, "scan", items, ReceiptTotals{
		Subtotal: subtotal,
		Tax:      decimal.Zero,
		Total:    subtotal,
	})
}
