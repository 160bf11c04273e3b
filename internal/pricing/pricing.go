// Package pricing computes the priced breakdown of a cart: subtotal, tax,
// the selected discount, and promotional offer savings. Pricing is a pure
// function of its input; committing the result is the ledger's job.
package pricing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/domain"
)

// Input carries everything a quote depends on. Lines are assumed valid
// (qty >= 1, unit price >= 0); the caller screens them before entry.
// Categories maps sku -> category for discount scope matching.
type Input struct {
	Lines      []domain.CartLine
	At         time.Time
	Discount   *domain.Discount
	Offers     []domain.Offer
	TaxRate    decimal.Decimal
	Precision  int32
	Categories map[string]string
}

// Price runs the pipeline:
//  1. bundle and special-price offers adjust line contributions,
//  2. subtotal and tax are computed over the adjusted lines,
//  3. the selected discount (if active, in-window, scope-matched) applies
//     once over subtotal+tax,
//  4. BOGO offers grant free units per line, at most one offer per line,
//     offers ordered by (CreatedAt, ID).
//
// An empty cart prices to an all-zero quote.
func Price(in Input) domain.Quote {
	round := func(d decimal.Decimal) decimal.Decimal { return d.Round(in.Precision) }
	zero := decimal.Zero

	if len(in.Lines) == 0 {
		return domain.Quote{Subtotal: zero, Tax: zero, DiscountAmount: zero, OfferSavings: zero, Total: zero}
	}

	offers := activeOffers(in.Offers, in.At)

	// Step 1: special-price overrides, then bundle replacement.
	effective := effectiveLines(in.Lines, offers)
	subtotal := decimal.Zero
	for _, line := range effective {
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Qty))))
	}
	subtotal = subtotal.Sub(bundleAdjustment(effective, offers))

	// Step 2: tax is always additive over the adjusted subtotal.
	tax := subtotal.Mul(in.TaxRate)

	// Step 3: at most one discount per sale; selection is exclusive.
	discountAmount := decimal.Zero
	if in.Discount != nil && discountApplies(*in.Discount, in.At, effective, in.Categories) {
		switch in.Discount.Kind {
		case domain.DiscountKindPercentage:
			discountAmount = subtotal.Add(tax).Mul(in.Discount.Value).Div(decimal.NewFromInt(100))
		case domain.DiscountKindFixed:
			discountAmount = in.Discount.Value
		}
	}

	// Step 4: BOGO free units, first matching offer per line.
	offerSavings := bogoSavings(effective, offers)

	total := subtotal.Add(tax).Sub(discountAmount).Sub(offerSavings)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return domain.Quote{
		Subtotal:       round(subtotal),
		Tax:            round(tax),
		DiscountAmount: round(discountAmount),
		OfferSavings:   round(offerSavings),
		Total:          round(total),
	}
}

// Digest returns a stable key for a pricing input, used to cache quotes.
// Identical inputs always digest identically (line order does not matter).
func Digest(in Input) string {
	lines := make([]string, 0, len(in.Lines))
	for _, line := range in.Lines {
		lines = append(lines, fmt.Sprintf("%s|%s|%d", line.SKU, line.UnitPrice.String(), line.Qty))
	}
	sort.Strings(lines)

	offerIDs := make([]string, 0, len(in.Offers))
	for _, offer := range in.Offers {
		if offer.Active {
			offerIDs = append(offerIDs, offer.ID)
		}
	}
	sort.Strings(offerIDs)

	discountID := ""
	if in.Discount != nil {
		discountID = in.Discount.ID
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s;%s;%s;%d;%s;%s",
		strings.Join(lines, ","),
		discountID,
		strings.Join(offerIDs, ","),
		in.Precision,
		in.TaxRate.String(),
		in.At.UTC().Format("2006-01-02"),
	)
	return hex.EncodeToString(h.Sum(nil))
}

// activeOffers filters to offers in their date window and orders them by
// (CreatedAt, ID) so application order is deterministic rather than an
// accident of map iteration.
func activeOffers(offers []domain.Offer, at time.Time) []domain.Offer {
	result := make([]domain.Offer, 0, len(offers))
	for _, offer := range offers {
		if !offer.Active {
			continue
		}
		if inWindow(at, offer.StartDate, offer.EndDate) {
			result = append(result, offer)
		}
	}
	slices.SortFunc(result, func(a, b domain.Offer) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result
}

// effectiveLines applies special-price overrides. Each sku takes the first
// matching special-price offer.
func effectiveLines(lines []domain.CartLine, offers []domain.Offer) []domain.CartLine {
	result := make([]domain.CartLine, len(lines))
	copy(result, lines)

	for i, line := range result {
		for _, offer := range offers {
			if offer.Kind != domain.OfferKindSpecialPrice || offer.SKU != line.SKU {
				continue
			}
			result[i].UnitPrice = offer.SpecialPrice
			break
		}
	}
	return result
}

// bundleAdjustment returns the total subtotal reduction from bundle offers.
// A bundle applies once per complete member set present in the cart: the sum
// of the members' unit prices is replaced by the bundle price.
func bundleAdjustment(lines []domain.CartLine, offers []domain.Offer) decimal.Decimal {
	qtyBySKU := make(map[string]int, len(lines))
	priceBySKU := make(map[string]decimal.Decimal, len(lines))
	for _, line := range lines {
		qtyBySKU[line.SKU] += line.Qty
		priceBySKU[line.SKU] = line.UnitPrice
	}

	adjustment := decimal.Zero
	for _, offer := range offers {
		if offer.Kind != domain.OfferKindBundle || len(offer.SKUs) == 0 {
			continue
		}
		sets := -1
		memberSum := decimal.Zero
		for _, sku := range offer.SKUs {
			qty, present := qtyBySKU[sku]
			if !present || qty < 1 {
				sets = 0
				break
			}
			if sets < 0 || qty < sets {
				sets = qty
			}
			memberSum = memberSum.Add(priceBySKU[sku])
		}
		if sets < 1 {
			continue
		}
		saving := memberSum.Sub(offer.BundlePrice)
		if saving.IsPositive() {
			adjustment = adjustment.Add(saving.Mul(decimal.NewFromInt(int64(sets))))
			// Units absorbed into bundle sets no longer form further sets
			// of overlapping bundles.
			for _, sku := range offer.SKUs {
				qtyBySKU[sku] -= sets
			}
		}
	}
	return adjustment
}

// bogoSavings grants floor(qty/buy)*get free units per matching line, capped
// at the line quantity. A line benefits from at most one BOGO offer; the
// first match in deterministic offer order wins.
func bogoSavings(lines []domain.CartLine, offers []domain.Offer) decimal.Decimal {
	savings := decimal.Zero
	for _, line := range lines {
		for _, offer := range offers {
			if offer.Kind != domain.OfferKindBOGO || offer.BuyQty < 1 || offer.GetQty < 1 {
				continue
			}
			if !slices.Contains(offer.SKUs, line.SKU) {
				continue
			}
			freeUnits := (line.Qty / offer.BuyQty) * offer.GetQty
			if freeUnits > line.Qty {
				freeUnits = line.Qty
			}
			if freeUnits > 0 {
				savings = savings.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(freeUnits))))
			}
			break
		}
	}
	return savings
}

func discountApplies(discount domain.Discount, at time.Time, lines []domain.CartLine, categories map[string]string) bool {
	if !discount.Active || !inWindow(at, discount.StartDate, discount.EndDate) {
		return false
	}

	switch discount.Scope {
	case domain.DiscountScopeAll, "":
		return true
	case domain.DiscountScopeProducts:
		for _, line := range lines {
			if slices.Contains(discount.SKUs, line.SKU) {
				return true
			}
		}
	case domain.DiscountScopeCategories:
		for _, line := range lines {
			if slices.Contains(discount.Categories, categories[line.SKU]) {
				return true
			}
		}
	}
	return false
}

func inWindow(at time.Time, start time.Time, end time.Time) bool {
	if !start.IsZero() && at.Before(start) {
		return false
	}
	if end.IsZero() {
		return true
	}
	// End date is inclusive through the whole day.
	return !at.After(end.AddDate(0, 0, 1).Add(-time.Nanosecond))
}
