package ledger

import (
	"fmt"

	"berezcashier/backend/internal/domain"
)

// BuildInput carries everything needed to derive the journal for one sale.
// All account ids are pre-resolved by the caller; ServiceFeeAccountID may be
// empty, in which case the service-fee credit line is omitted and the journal
// is knowingly left unbalanced (the caller logs the warning).
type BuildInput struct {
	Items           []domain.SaleItem
	SubtotalCents   int64
	DiscountCents   int64
	TaxCents        int64
	ServiceFeeCents int64
	TotalCents      int64
	PaymentMethod   string
	Accounts        domain.SaleAccounts
}

// TotalCostOfGoods sums cost basis x qty over the sale items.
func TotalCostOfGoods(items []domain.SaleItem) int64 {
	var total int64
	for _, item := range items {
		total += item.CostCents * int64(item.Qty)
	}
	return total
}

// BuildSaleJournal produces the ordered double-entry lines for a finalized
// sale. The emission order is fixed:
//
//	1. debit  payment account        total
//	2. debit  COGS account           total cost of goods (if > 0)
//	3. debit  discount account       discount (if > 0 and account set)
//	4. credit sales account          subtotal (always, even at zero)
//	5. credit tax account            tax (if > 0 and account set)
//	6. credit inventory account      total cost of goods (if > 0)
//	7. credit service-fee payable    fee (if > 0 and account resolved)
//
// When every conditional account is present, debits equal credits because
// total = subtotal - discount + tax + serviceFee by construction.
func BuildSaleJournal(in BuildInput) []domain.JournalLine {
	lines := make([]domain.JournalLine, 0, 7)
	cogs := TotalCostOfGoods(in.Items)

	lines = append(lines, domain.JournalLine{
		AccountID:   in.Accounts.PaymentAccountID,
		DebitCents:  in.TotalCents,
		Description: fmt.Sprintf("Penerimaan penjualan (%s)", in.PaymentMethod),
	})

	if cogs > 0 {
		lines = append(lines, domain.JournalLine{
			AccountID:   in.Accounts.COGSAccountID,
			DebitCents:  cogs,
			Description: "Harga pokok penjualan",
		})
	}

	if in.DiscountCents > 0 && in.Accounts.DiscountAccountID != "" {
		lines = append(lines, domain.JournalLine{
			AccountID:   in.Accounts.DiscountAccountID,
			DebitCents:  in.DiscountCents,
			Description: "Diskon penjualan",
		})
	}

	// The sales credit is emitted even at zero so every persisted journal
	// has the same structural backbone.
	lines = append(lines, domain.JournalLine{
		AccountID:   in.Accounts.SalesAccountID,
		CreditCents: in.SubtotalCents,
		Description: "Pendapatan penjualan",
	})

	if in.TaxCents > 0 && in.Accounts.TaxAccountID != "" {
		lines = append(lines, domain.JournalLine{
			AccountID:   in.Accounts.TaxAccountID,
			CreditCents: in.TaxCents,
			Description: "PPN keluaran",
		})
	}

	if cogs > 0 {
		lines = append(lines, domain.JournalLine{
			AccountID:   in.Accounts.InventoryAccountID,
			CreditCents: cogs,
			Description: "Pengurangan persediaan",
		})
	}

	if in.ServiceFeeCents > 0 && in.Accounts.ServiceFeeAccountID != "" {
		lines = append(lines, domain.JournalLine{
			AccountID:   in.Accounts.ServiceFeeAccountID,
			CreditCents: in.ServiceFeeCents,
			Description: "Utang biaya layanan",
		})
	}

	return lines
}

// Balance returns total debits and credits over the given lines.
func Balance(lines []domain.JournalLine) (debits int64, credits int64) {
	for _, line := range lines {
		debits += line.DebitCents
		credits += line.CreditCents
	}
	return debits, credits
}
