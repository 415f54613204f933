package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"berezcashier/backend/internal/cache"
	"berezcashier/backend/internal/domain"
	"berezcashier/backend/internal/ledger"
	"berezcashier/backend/internal/store"
	"berezcashier/backend/internal/store/memory"
)

const tenant = memory.DefaultTenantID

var testAccounts = domain.SaleAccounts{
	PaymentAccountID:   "acc-kas",
	SalesAccountID:     "acc-penjualan",
	COGSAccountID:      "acc-hpp",
	InventoryAccountID: "acc-persediaan",
	DiscountAccountID:  "acc-diskon",
	TaxAccountID:       "acc-utang-ppn",
}

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopAccountCache{}, 5*time.Second), repo
}

func testCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "cashier",
		Role:     "cashier",
		TenantID: tenant,
	})
}

func stockOf(t *testing.T, repo *memory.Store, productID string) int {
	t.Helper()
	product, err := repo.GetProduct(context.Background(), tenant, productID)
	if err != nil {
		t.Fatalf("get product %s: %v", productID, err)
	}
	if product.StockQty == nil {
		t.Fatalf("product %s has no stock", productID)
	}
	return *product.StockQty
}

// mieItem snapshots the seeded instant-noodle product at the given qty.
func mieItem(qty int) domain.SaleItem {
	return domain.SaleItem{
		ProductID:      "prd-mie-01",
		ProductName:    "Mie Goreng Instan",
		ProductType:    domain.ProductTypeTangible,
		Qty:            qty,
		UnitPriceCents: 3500,
		CostCents:      2700,
	}
}

func wrapItem(qty int) domain.SaleItem {
	return domain.SaleItem{
		ProductID:      "prd-bungkus-01",
		ProductName:    "Jasa Bungkus Kado",
		ProductType:    domain.ProductTypeService,
		Qty:            qty,
		UnitPriceCents: 5000,
	}
}

func TestCreateTransactionDecrementsTangibleStockOnly(t *testing.T) {
	svc, repo := newTestService()
	before := stockOf(t, repo, "prd-mie-01")

	resp, err := svc.CreateTransaction(testCtx(), tenant, domain.CreateTransactionRequest{
		Items:         []domain.SaleItem{mieItem(2), wrapItem(1)},
		SubtotalCents: 12000,
		TotalCents:    12000,
		PaymentMethod: "cash",
		Accounts:      testAccounts,
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	if !resp.Success || resp.TransactionID == "" || resp.Number == "" {
		t.Fatalf("expected populated response, got %+v", resp)
	}

	if got := stockOf(t, repo, "prd-mie-01"); got != before-2 {
		t.Fatalf("expected stock %d, got %d", before-2, got)
	}

	debits, credits := ledger.Balance(resp.Lines)
	if debits != credits {
		t.Fatalf("expected balanced journal, got debits=%d credits=%d", debits, credits)
	}

	tx, err := svc.GetTransaction(testCtx(), tenant, resp.TransactionID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if tx.PaymentStatus != domain.PaymentSucceeded {
		t.Fatalf("expected succeeded payment status, got %s", tx.PaymentStatus)
	}
	if tx.PaidCents != 12000 {
		t.Fatalf("expected paid 12000, got %d", tx.PaidCents)
	}
}

func TestCreateTransactionInsufficientStockIsAtomic(t *testing.T) {
	svc, repo := newTestService()
	before := stockOf(t, repo, "prd-mie-01")

	_, err := svc.CreateTransaction(testCtx(), tenant, domain.CreateTransactionRequest{
		Items:         []domain.SaleItem{mieItem(before + 1)},
		SubtotalCents: int64(before+1) * 3500,
		TotalCents:    int64(before+1) * 3500,
		PaymentMethod: "cash",
		Accounts:      testAccounts,
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}

	if got := stockOf(t, repo, "prd-mie-01"); got != before {
		t.Fatalf("expected stock unchanged at %d, got %d", before, got)
	}
	transactions, err := svc.ListTransactions(testCtx(), tenant, "", 10)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(transactions) != 0 {
		t.Fatalf("expected no persisted transaction, got %d", len(transactions))
	}
}

func TestCreateTransactionResolvesServiceFeeAccount(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.CreateTransaction(testCtx(), tenant, domain.CreateTransactionRequest{
		Items:           []domain.SaleItem{wrapItem(1)},
		SubtotalCents:   5000,
		ServiceFeeCents: 500,
		TotalCents:      5500,
		PaymentMethod:   "qris",
		Accounts:        testAccounts,
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	var feeCredit int64
	for _, line := range resp.Lines {
		if line.AccountID == "acc-utang-layanan" {
			feeCredit += line.CreditCents
		}
	}
	if feeCredit != 500 {
		t.Fatalf("expected 500 credited to the service fee payable account, got %d", feeCredit)
	}
	debits, credits := ledger.Balance(resp.Lines)
	if debits != credits {
		t.Fatalf("expected balanced journal, got debits=%d credits=%d", debits, credits)
	}
}

func TestCreateTransactionProceedsWhenServiceFeeAccountMissing(t *testing.T) {
	svc, repo := newTestService()

	// A tenant with no chart of accounts: the fee account lookup misses.
	otherTenant := "toko-lain-02"
	if _, err := repo.CreateProduct(context.Background(), domain.Product{
		ID:         "prd-jasa-99",
		TenantID:   otherTenant,
		Name:       "Jasa Konsultasi",
		Type:       domain.ProductTypeService,
		PriceCents: 50000,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	resp, err := svc.CreateTransaction(testCtx(), otherTenant, domain.CreateTransactionRequest{
		Items: []domain.SaleItem{{
			ProductID:      "prd-jasa-99",
			ProductName:    "Jasa Konsultasi",
			ProductType:    domain.ProductTypeService,
			Qty:            1,
			UnitPriceCents: 50000,
		}},
		SubtotalCents:   50000,
		ServiceFeeCents: 2000,
		TotalCents:      52000,
		PaymentMethod:   "transfer",
		Accounts:        testAccounts,
	})
	if err != nil {
		t.Fatalf("expected sale to proceed despite missing fee account, got %v", err)
	}

	debits, credits := ledger.Balance(resp.Lines)
	if debits-credits != 2000 {
		t.Fatalf("expected journal short by the 2000 fee credit, got debits=%d credits=%d", debits, credits)
	}
}

func TestCreateTransactionRejectsBadInput(t *testing.T) {
	svc, _ := newTestService()

	cases := []struct {
		name string
		req  domain.CreateTransactionRequest
	}{
		{"no items", domain.CreateTransactionRequest{PaymentMethod: "cash", Accounts: testAccounts}},
		{"zero qty", domain.CreateTransactionRequest{
			Items:         []domain.SaleItem{mieItem(0)},
			PaymentMethod: "cash",
			Accounts:      testAccounts,
		}},
		{"subtotal mismatch", domain.CreateTransactionRequest{
			Items:         []domain.SaleItem{mieItem(1)},
			SubtotalCents: 9999,
			TotalCents:    9999,
			PaymentMethod: "cash",
			Accounts:      testAccounts,
		}},
		{"total mismatch", domain.CreateTransactionRequest{
			Items:         []domain.SaleItem{mieItem(1)},
			SubtotalCents: 3500,
			DiscountCents: 500,
			TotalCents:    3500,
			PaymentMethod: "cash",
			Accounts:      testAccounts,
		}},
		{"negative discount", domain.CreateTransactionRequest{
			Items:         []domain.SaleItem{mieItem(1)},
			SubtotalCents: 3500,
			DiscountCents: -100,
			TotalCents:    3600,
			PaymentMethod: "cash",
			Accounts:      testAccounts,
		}},
		{"missing accounts", domain.CreateTransactionRequest{
			Items:         []domain.SaleItem{mieItem(1)},
			SubtotalCents: 3500,
			TotalCents:    3500,
			PaymentMethod: "cash",
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateTransaction(testCtx(), tenant, tc.req)
			if !errors.Is(err, store.ErrInvalidInput) {
				t.Fatalf("expected invalid input error, got %v", err)
			}
		})
	}
}

func TestRecordPurchaseUpdatesStockAndCostBasis(t *testing.T) {
	svc, repo := newTestService()
	before := stockOf(t, repo, "prd-mie-01")

	resp, err := svc.RecordPurchase(testCtx(), tenant, domain.RecordPurchaseRequest{
		ProductID:     "prd-mie-01",
		Qty:           10,
		UnitCostCents: 3000,
	})
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}
	if resp.UpdatedStock != before+10 {
		t.Fatalf("expected stock %d, got %d", before+10, resp.UpdatedStock)
	}

	product, err := repo.GetProduct(context.Background(), tenant, "prd-mie-01")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.CostCents != 3000 {
		t.Fatalf("expected cost basis overwritten to 3000, got %d", product.CostCents)
	}
}

func TestRecordPurchaseConcurrentRestocksLoseNoUpdates(t *testing.T) {
	svc, repo := newTestService()
	before := stockOf(t, repo, "prd-mie-01")

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordPurchase(testCtx(), tenant, domain.RecordPurchaseRequest{
				ProductID:     "prd-mie-01",
				Qty:           1,
				UnitCostCents: 2800,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("record purchase: %v", err)
		}
	}

	if got := stockOf(t, repo, "prd-mie-01"); got != before+workers {
		t.Fatalf("expected stock %d after %d restocks, got %d", before+workers, workers, got)
	}
}

func TestRecordPurchaseRejectsServiceProductAndBadInput(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.RecordPurchase(testCtx(), tenant, domain.RecordPurchaseRequest{
		ProductID:     "prd-bungkus-01",
		Qty:           5,
		UnitCostCents: 1000,
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for service product, got %v", err)
	}

	_, err = svc.RecordPurchase(testCtx(), tenant, domain.RecordPurchaseRequest{
		ProductID:     "prd-mie-01",
		Qty:           0,
		UnitCostCents: 1000,
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for zero qty, got %v", err)
	}

	_, err = svc.RecordPurchase(testCtx(), tenant, domain.RecordPurchaseRequest{
		ProductID:     "prd-hilang-99",
		Qty:           5,
		UnitCostCents: 1000,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown product, got %v", err)
	}
}

func createPendingSale(t *testing.T, svc *Service) string {
	t.Helper()
	resp, err := svc.CreateTransaction(testCtx(), tenant, domain.CreateTransactionRequest{
		Items:         []domain.SaleItem{mieItem(2)},
		SubtotalCents: 7000,
		TotalCents:    7000,
		PaymentMethod: "cash",
		PaymentStatus: domain.PaymentPending,
		Accounts:      testAccounts,
	})
	if err != nil {
		t.Fatalf("create pending sale: %v", err)
	}
	return resp.TransactionID
}

func TestSettleTransactionAppliesEditsAndReconcilesStock(t *testing.T) {
	svc, repo := newTestService()
	mieBefore := stockOf(t, repo, "prd-mie-01")
	telurBefore := stockOf(t, repo, "prd-telur-01")

	txID := createPendingSale(t, svc)
	if got := stockOf(t, repo, "prd-mie-01"); got != mieBefore-2 {
		t.Fatalf("expected pending sale to consume stock, got %d", got)
	}

	settled, err := svc.SettleTransaction(testCtx(), tenant, txID, domain.SettleTransactionRequest{
		Edits: []domain.SettleItemEdit{
			{ProductID: "prd-mie-01", Qty: 1},
			{ProductID: "prd-telur-01", Qty: 1},
		},
		DiscountPercent: 10,
		PaymentMethod:   "qris",
		IsTaxableEntity: true,
		Accounts:        testAccounts,
	})
	if err != nil {
		t.Fatalf("settle transaction: %v", err)
	}

	// subtotal 3500 + 26500 = 30000, discount 3000, tax 11% of 27000 = 2970.
	if settled.SubtotalCents != 30000 || settled.DiscountCents != 3000 || settled.TaxCents != 2970 {
		t.Fatalf("unexpected amounts: %+v", settled)
	}
	if settled.TotalCents != 29970 || settled.PaidCents != 29970 {
		t.Fatalf("expected total and paid 29970, got total=%d paid=%d", settled.TotalCents, settled.PaidCents)
	}
	if settled.PaymentStatus != domain.PaymentSucceeded {
		t.Fatalf("expected succeeded payment status, got %s", settled.PaymentStatus)
	}
	if settled.PaymentMethod != "qris" {
		t.Fatalf("expected qris payment method, got %s", settled.PaymentMethod)
	}

	// One noodle pack came back, one egg carton left.
	if got := stockOf(t, repo, "prd-mie-01"); got != mieBefore-1 {
		t.Fatalf("expected mie stock %d, got %d", mieBefore-1, got)
	}
	if got := stockOf(t, repo, "prd-telur-01"); got != telurBefore-1 {
		t.Fatalf("expected telur stock %d, got %d", telurBefore-1, got)
	}

	// Appended item got catalog costing.
	var telur *domain.SaleItem
	for i := range settled.Items {
		if settled.Items[i].ProductID == "prd-telur-01" {
			telur = &settled.Items[i]
		}
	}
	if telur == nil {
		t.Fatalf("expected appended telur item")
	}
	if telur.UnitPriceCents != 26500 || telur.CostCents != 23100 {
		t.Fatalf("expected catalog costing on appended item, got %+v", telur)
	}

	debits, credits := ledger.Balance(settled.Lines)
	if debits != credits {
		t.Fatalf("expected balanced settlement journal, got debits=%d credits=%d", debits, credits)
	}
}

func TestSettleTransactionRemovingEveryItemFails(t *testing.T) {
	svc, repo := newTestService()
	before := stockOf(t, repo, "prd-mie-01")
	txID := createPendingSale(t, svc)

	_, err := svc.SettleTransaction(testCtx(), tenant, txID, domain.SettleTransactionRequest{
		Edits:    []domain.SettleItemEdit{{ProductID: "prd-mie-01", Qty: 0}},
		Accounts: testAccounts,
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input when all items removed, got %v", err)
	}

	// The failed settlement must leave the pending sale and its stock
	// decrement untouched.
	if got := stockOf(t, repo, "prd-mie-01"); got != before-2 {
		t.Fatalf("expected stock still %d, got %d", before-2, got)
	}
	tx, err := svc.GetTransaction(testCtx(), tenant, txID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if tx.PaymentStatus != domain.PaymentPending {
		t.Fatalf("expected still pending, got %s", tx.PaymentStatus)
	}
}

func TestSettleTransactionRejectsSucceededSale(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.CreateTransaction(testCtx(), tenant, domain.CreateTransactionRequest{
		Items:         []domain.SaleItem{mieItem(1)},
		SubtotalCents: 3500,
		TotalCents:    3500,
		PaymentMethod: "cash",
		Accounts:      testAccounts,
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	_, err = svc.SettleTransaction(testCtx(), tenant, resp.TransactionID, domain.SettleTransactionRequest{
		Edits:    []domain.SettleItemEdit{{ProductID: "prd-mie-01", Qty: 3}},
		Accounts: testAccounts,
	})
	if !errors.Is(err, store.ErrNotSettleable) {
		t.Fatalf("expected not settleable error, got %v", err)
	}
}

func telurItem(qty int) domain.SaleItem {
	return domain.SaleItem{
		ProductID:      "prd-telur-01",
		ProductName:    "Telur 10 Butir",
		ProductType:    domain.ProductTypeTangible,
		Qty:            qty,
		UnitPriceCents: 26500,
		CostCents:      23100,
	}
}

func TestSettleTransactionDropsZeroedItemAndRestoresStock(t *testing.T) {
	svc, repo := newTestService()
	mieBefore := stockOf(t, repo, "prd-mie-01")
	telurBefore := stockOf(t, repo, "prd-telur-01")

	resp, err := svc.CreateTransaction(testCtx(), tenant, domain.CreateTransactionRequest{
		Items:         []domain.SaleItem{mieItem(2), telurItem(1)},
		SubtotalCents: 33500,
		TotalCents:    33500,
		PaymentMethod: "cash",
		PaymentStatus: domain.PaymentPending,
		Accounts:      testAccounts,
	})
	if err != nil {
		t.Fatalf("create pending sale: %v", err)
	}
	if got := stockOf(t, repo, "prd-telur-01"); got != telurBefore-1 {
		t.Fatalf("expected telur stock %d after pending sale, got %d", telurBefore-1, got)
	}

	settled, err := svc.SettleTransaction(testCtx(), tenant, resp.TransactionID, domain.SettleTransactionRequest{
		Edits:    []domain.SettleItemEdit{{ProductID: "prd-telur-01", Qty: 0}},
		Accounts: testAccounts,
	})
	if err != nil {
		t.Fatalf("settle transaction: %v", err)
	}

	if len(settled.Items) != 1 || settled.Items[0].ProductID != "prd-mie-01" || settled.Items[0].Qty != 2 {
		t.Fatalf("expected only the noodle line to remain, got %+v", settled.Items)
	}
	if settled.SubtotalCents != 7000 || settled.TotalCents != 7000 || settled.PaidCents != 7000 {
		t.Fatalf("expected amounts recomputed without the dropped item, got %+v", settled)
	}
	if settled.PaymentStatus != domain.PaymentSucceeded {
		t.Fatalf("expected succeeded payment status, got %s", settled.PaymentStatus)
	}

	// The dropped carton goes back on the shelf; the kept item stays consumed.
	if got := stockOf(t, repo, "prd-telur-01"); got != telurBefore {
		t.Fatalf("expected telur stock restored to %d, got %d", telurBefore, got)
	}
	if got := stockOf(t, repo, "prd-mie-01"); got != mieBefore-2 {
		t.Fatalf("expected mie stock still %d, got %d", mieBefore-2, got)
	}
}

func TestStoredTransactionJournalRebuildsExactly(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.CreateTransaction(testCtx(), tenant, domain.CreateTransactionRequest{
		Items:           []domain.SaleItem{mieItem(2), wrapItem(1)},
		SubtotalCents:   12000,
		DiscountCents:   1000,
		ServiceFeeCents: 500,
		TotalCents:      11500,
		PaymentMethod:   "qris",
		Accounts:        testAccounts,
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	tx, err := svc.GetTransaction(testCtx(), tenant, resp.TransactionID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if tx.Accounts.ServiceFeeAccountID != "acc-utang-layanan" {
		t.Fatalf("expected resolved fee account persisted with the document, got %q", tx.Accounts.ServiceFeeAccountID)
	}

	rebuilt := ledger.BuildSaleJournal(ledger.BuildInput{
		Items:           tx.Items,
		SubtotalCents:   tx.SubtotalCents,
		DiscountCents:   tx.DiscountCents,
		TaxCents:        tx.TaxCents,
		ServiceFeeCents: tx.ServiceFeeCents,
		TotalCents:      tx.TotalCents,
		PaymentMethod:   tx.PaymentMethod,
		Accounts:        tx.Accounts,
	})

	if len(rebuilt) != len(tx.Lines) {
		t.Fatalf("expected %d rebuilt lines, got %d", len(tx.Lines), len(rebuilt))
	}
	for i := range rebuilt {
		if rebuilt[i] != tx.Lines[i] {
			t.Fatalf("line %d differs: stored %+v, rebuilt %+v", i, tx.Lines[i], rebuilt[i])
		}
	}
}

func TestRecomputeSettlementIsPure(t *testing.T) {
	items := []domain.SaleItem{
		{ProductID: "a", ProductType: domain.ProductTypeTangible, Qty: 3, UnitPriceCents: 11000, CostCents: 8000},
		{ProductID: "b", ProductType: domain.ProductTypeService, Qty: 1, UnitPriceCents: 2500},
	}

	first := RecomputeSettlement(items, 12.5, true, 750)
	second := RecomputeSettlement(items, 12.5, true, 750)
	if first != second {
		t.Fatalf("expected identical results, got %+v and %+v", first, second)
	}

	if first.SubtotalCents != 35500 {
		t.Fatalf("expected subtotal 35500, got %d", first.SubtotalCents)
	}
	// 12.5% of 35500 rounds to 4438; 11% VAT on 31062 rounds to 3417.
	if first.DiscountCents != 4438 || first.TaxCents != 3417 {
		t.Fatalf("unexpected rounding: %+v", first)
	}
	if first.TotalCents != first.SubtotalCents-first.DiscountCents+first.TaxCents+first.ServiceFeeCents {
		t.Fatalf("total does not match components: %+v", first)
	}

	untaxed := RecomputeSettlement(items, 12.5, false, 750)
	if untaxed.TaxCents != 0 {
		t.Fatalf("expected no VAT for non-taxable entity, got %d", untaxed.TaxCents)
	}
}
