package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"berezcashier/backend/internal/cache"
	"berezcashier/backend/internal/domain"
	"berezcashier/backend/internal/ledger"
	"berezcashier/backend/internal/store"
	"berezcashier/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo            store.Repository
	accountCache    cache.AccountCache
	accountCacheTTL time.Duration
}

func New(repo store.Repository, accountCache cache.AccountCache, accountCacheTTL time.Duration) *Service {
	if accountCache == nil {
		accountCache = cache.NoopAccountCache{}
	}
	if accountCacheTTL <= 0 {
		accountCacheTTL = 5 * time.Minute
	}

	return &Service{
		repo:            repo,
		accountCache:    accountCache,
		accountCacheTTL: accountCacheTTL,
	}
}

func (s *Service) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	if tenantID == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.ListProducts(ctx, tenantID)
}

func (s *Service) CreateProduct(ctx context.Context, tenantID string, req domain.ProductCreateRequest) (domain.Product, error) {
	if tenantID == "" {
		return domain.Product{}, store.ErrInvalidInput
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	if req.Type == "" {
		req.Type = domain.ProductTypeTangible
	}
	if req.Name == "" {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.Type != domain.ProductTypeTangible && req.Type != domain.ProductTypeService {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.PriceCents < 0 || req.CostCents < 0 || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	product := domain.Product{
		ID:         xid.New("prd"),
		TenantID:   tenantID,
		Name:       req.Name,
		Type:       req.Type,
		PriceCents: req.PriceCents,
		CostCents:  req.CostCents,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if req.Type == domain.ProductTypeTangible {
		stock := req.InitialStock
		product.StockQty = &stock
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, tenantID, "product_create", "product", created.ID, fmt.Sprintf("name=%s,type=%s,price=%d", created.Name, created.Type, created.PriceCents))
	return *created, nil
}

func (s *Service) FindAccounts(ctx context.Context, tenantID string, category string, namePrefix string) ([]domain.Account, error) {
	if tenantID == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.FindAccounts(ctx, tenantID, strings.TrimSpace(category), strings.TrimSpace(namePrefix))
}

// CreateTransaction finalizes a point-of-sale sale: it validates the input,
// builds the double-entry journal, and persists the transaction document
// together with the tangible-good stock decrements in one atomic batch.
func (s *Service) CreateTransaction(ctx context.Context, tenantID string, req domain.CreateTransactionRequest) (domain.CreateTransactionResponse, error) {
	if tenantID == "" {
		return domain.CreateTransactionResponse{}, fmt.Errorf("%w: tenant id required", store.ErrInvalidInput)
	}
	if len(req.Items) == 0 {
		return domain.CreateTransactionResponse{}, fmt.Errorf("%w: items required", store.ErrInvalidInput)
	}
	if req.SubtotalCents < 0 || req.DiscountCents < 0 || req.TaxCents < 0 || req.ServiceFeeCents < 0 || req.TotalCents < 0 {
		return domain.CreateTransactionResponse{}, fmt.Errorf("%w: negative amount", store.ErrInvalidInput)
	}
	if req.Accounts.PaymentAccountID == "" || req.Accounts.SalesAccountID == "" {
		return domain.CreateTransactionResponse{}, fmt.Errorf("%w: payment and sales accounts required", store.ErrInvalidInput)
	}

	var subtotal int64
	for _, item := range req.Items {
		if item.ProductID == "" || item.Qty < 1 {
			return domain.CreateTransactionResponse{}, fmt.Errorf("%w: item qty must be positive", store.ErrInvalidInput)
		}
		if item.UnitPriceCents < 0 || item.CostCents < 0 {
			return domain.CreateTransactionResponse{}, fmt.Errorf("%w: negative item amount", store.ErrInvalidInput)
		}
		if item.ProductType != domain.ProductTypeTangible && item.ProductType != domain.ProductTypeService {
			return domain.CreateTransactionResponse{}, fmt.Errorf("%w: unknown product type %q", store.ErrInvalidInput, item.ProductType)
		}
		subtotal += item.UnitPriceCents * int64(item.Qty)
	}
	if subtotal != req.SubtotalCents {
		return domain.CreateTransactionResponse{}, fmt.Errorf("%w: subtotal does not match items", store.ErrInvalidInput)
	}
	if req.TotalCents != req.SubtotalCents-req.DiscountCents+req.TaxCents+req.ServiceFeeCents {
		return domain.CreateTransactionResponse{}, fmt.Errorf("%w: total does not match components", store.ErrInvalidInput)
	}

	paymentStatus := strings.ToLower(strings.TrimSpace(req.PaymentStatus))
	if paymentStatus == "" {
		// POS-created sales are treated as paid on the spot.
		paymentStatus = domain.PaymentSucceeded
	}
	if paymentStatus != domain.PaymentSucceeded && paymentStatus != domain.PaymentPending && paymentStatus != domain.PaymentFailed {
		return domain.CreateTransactionResponse{}, fmt.Errorf("%w: unknown payment status %q", store.ErrInvalidInput, paymentStatus)
	}

	accounts := req.Accounts
	if req.ServiceFeeCents > 0 {
		accounts.ServiceFeeAccountID = s.resolveServiceFeeAccount(ctx, tenantID)
	}

	lines := ledger.BuildSaleJournal(ledger.BuildInput{
		Items:           req.Items,
		SubtotalCents:   req.SubtotalCents,
		DiscountCents:   req.DiscountCents,
		TaxCents:        req.TaxCents,
		ServiceFeeCents: req.ServiceFeeCents,
		TotalCents:      req.TotalCents,
		PaymentMethod:   req.PaymentMethod,
		Accounts:        accounts,
	})

	now := time.Now().UTC()
	tx := domain.Transaction{
		ID:              xid.New("trx"),
		TenantID:        tenantID,
		BranchID:        req.BranchID,
		WarehouseID:     req.WarehouseID,
		Number:          nextTransactionNumber(now),
		Type:            "sale",
		Status:          domain.TxStatusProcessing,
		PaymentStatus:   paymentStatus,
		SubtotalCents:   req.SubtotalCents,
		DiscountCents:   req.DiscountCents,
		TaxCents:        req.TaxCents,
		ServiceFeeCents: req.ServiceFeeCents,
		TotalCents:      req.TotalCents,
		CustomerID:      req.CustomerID,
		CustomerName:    req.CustomerName,
		PaymentMethod:   req.PaymentMethod,
		IsTaxableEntity: req.IsTaxableEntity,
		Items:           req.Items,
		Lines:           lines,
		Accounts:        accounts,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if paymentStatus == domain.PaymentSucceeded {
		tx.PaidCents = req.TotalCents
	}

	created, err := s.repo.CreateTransaction(ctx, tx, saleStockDeltas(req.Items))
	if err != nil {
		return domain.CreateTransactionResponse{}, err
	}

	s.logAudit(ctx, tenantID, "transaction_create", "transaction", created.ID, fmt.Sprintf("number=%s,total=%d,payment=%s,status=%s", created.Number, created.TotalCents, created.PaymentMethod, created.PaymentStatus))

	return domain.CreateTransactionResponse{
		Success:       true,
		TransactionID: created.ID,
		Number:        created.Number,
		Lines:         created.Lines,
	}, nil
}

// SettlementAmounts is the deterministic result of recomputing a settlement.
type SettlementAmounts struct {
	SubtotalCents   int64
	DiscountCents   int64
	TaxCents        int64
	ServiceFeeCents int64
	TotalCents      int64
}

// RecomputeSettlement derives the settlement amounts from the edited item
// list. It is a pure function of its inputs: identical inputs always yield
// identical output.
func RecomputeSettlement(items []domain.SaleItem, discountPercent float64, isTaxableEntity bool, serviceFeeCents int64) SettlementAmounts {
	var subtotal int64
	for _, item := range items {
		subtotal += item.UnitPriceCents * int64(item.Qty)
	}

	discount := int64(math.Round(float64(subtotal) * discountPercent / 100))
	var tax int64
	if isTaxableEntity {
		tax = int64(math.Round(float64(subtotal-discount) * domain.VATRatePercent / 100))
	}

	return SettlementAmounts{
		SubtotalCents:   subtotal,
		DiscountCents:   discount,
		TaxCents:        tax,
		ServiceFeeCents: serviceFeeCents,
		TotalCents:      subtotal - discount + tax + serviceFeeCents,
	}
}

// SettleTransaction applies cashier edits to a pending or failed sale,
// recomputes the amounts, rebuilds the journal, and persists the updated
// document together with the tangible-good stock deltas between the
// original and edited item lists. The write is a single atomic update; a
// failed commit leaves the transaction untouched.
func (s *Service) SettleTransaction(ctx context.Context, tenantID string, transactionID string, req domain.SettleTransactionRequest) (domain.Transaction, error) {
	if tenantID == "" || transactionID == "" {
		return domain.Transaction{}, fmt.Errorf("%w: tenant and transaction id required", store.ErrInvalidInput)
	}
	if req.DiscountPercent < 0 || req.DiscountPercent > 100 {
		return domain.Transaction{}, fmt.Errorf("%w: discount percent out of range", store.ErrInvalidInput)
	}
	if req.Accounts.PaymentAccountID == "" || req.Accounts.SalesAccountID == "" {
		return domain.Transaction{}, fmt.Errorf("%w: payment and sales accounts required", store.ErrInvalidInput)
	}

	original, err := s.repo.GetTransaction(ctx, tenantID, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if original.PaymentStatus != domain.PaymentPending && original.PaymentStatus != domain.PaymentFailed {
		return domain.Transaction{}, fmt.Errorf("%w: payment status is %s", store.ErrNotSettleable, original.PaymentStatus)
	}

	editedItems, err := s.applyItemEdits(ctx, tenantID, original.Items, req.Edits)
	if err != nil {
		return domain.Transaction{}, err
	}
	if len(editedItems) == 0 {
		return domain.Transaction{}, fmt.Errorf("%w: settlement would leave no items", store.ErrInvalidInput)
	}

	amounts := RecomputeSettlement(editedItems, req.DiscountPercent, req.IsTaxableEntity, original.ServiceFeeCents)

	accounts := req.Accounts
	if amounts.ServiceFeeCents > 0 {
		accounts.ServiceFeeAccountID = s.resolveServiceFeeAccount(ctx, tenantID)
	}

	paymentMethod := strings.TrimSpace(req.PaymentMethod)
	if paymentMethod == "" {
		paymentMethod = original.PaymentMethod
	}

	updated := *original
	updated.Items = editedItems
	updated.SubtotalCents = amounts.SubtotalCents
	updated.DiscountCents = amounts.DiscountCents
	updated.TaxCents = amounts.TaxCents
	updated.TotalCents = amounts.TotalCents
	updated.PaidCents = amounts.TotalCents
	updated.PaymentMethod = paymentMethod
	updated.IsTaxableEntity = req.IsTaxableEntity
	updated.Accounts = accounts
	updated.PaymentStatus = domain.PaymentSucceeded
	updated.UpdatedAt = time.Now().UTC()
	updated.Lines = ledger.BuildSaleJournal(ledger.BuildInput{
		Items:           editedItems,
		SubtotalCents:   amounts.SubtotalCents,
		DiscountCents:   amounts.DiscountCents,
		TaxCents:        amounts.TaxCents,
		ServiceFeeCents: amounts.ServiceFeeCents,
		TotalCents:      amounts.TotalCents,
		PaymentMethod:   paymentMethod,
		Accounts:        accounts,
	})

	saved, err := s.repo.SettleTransaction(ctx, updated, settlementStockDeltas(original.Items, editedItems))
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, tenantID, "transaction_settle", "transaction", saved.ID, fmt.Sprintf("number=%s,total=%d,items=%d", saved.Number, saved.TotalCents, len(saved.Items)))
	return *saved, nil
}

// RecordPurchase books an inbound restock: stock increases by qty and the
// cost basis (HPP) is overwritten with the latest unit cost. The store runs
// the read-modify-write as one transaction, so concurrent restocks of the
// same product serialize instead of losing updates.
func (s *Service) RecordPurchase(ctx context.Context, tenantID string, req domain.RecordPurchaseRequest) (domain.RecordPurchaseResponse, error) {
	if tenantID == "" {
		return domain.RecordPurchaseResponse{}, fmt.Errorf("%w: tenant id required", store.ErrInvalidInput)
	}
	if strings.TrimSpace(req.ProductID) == "" {
		return domain.RecordPurchaseResponse{}, fmt.Errorf("%w: product id required", store.ErrInvalidInput)
	}
	if req.Qty < 1 {
		return domain.RecordPurchaseResponse{}, fmt.Errorf("%w: qty must be positive", store.ErrInvalidInput)
	}
	if req.UnitCostCents < 1 {
		return domain.RecordPurchaseResponse{}, fmt.Errorf("%w: unit cost must be positive", store.ErrInvalidInput)
	}

	updatedStock, err := s.repo.RestockProduct(ctx, tenantID, req.ProductID, req.Qty, req.UnitCostCents)
	if err != nil {
		return domain.RecordPurchaseResponse{}, err
	}

	s.logAudit(ctx, tenantID, "purchase_record", "product", req.ProductID, fmt.Sprintf("qty=%d,unit_cost=%d,stock=%d", req.Qty, req.UnitCostCents, updatedStock))

	return domain.RecordPurchaseResponse{
		Success:      true,
		ProductID:    req.ProductID,
		UpdatedStock: updatedStock,
	}, nil
}

func (s *Service) GetTransaction(ctx context.Context, tenantID string, id string) (domain.Transaction, error) {
	if tenantID == "" || id == "" {
		return domain.Transaction{}, store.ErrInvalidInput
	}
	tx, err := s.repo.GetTransaction(ctx, tenantID, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, tenantID string, paymentStatus string, limit int) ([]domain.Transaction, error) {
	if tenantID == "" {
		return nil, store.ErrInvalidInput
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListTransactions(ctx, tenantID, strings.ToLower(strings.TrimSpace(paymentStatus)), limit)
}

// applyItemEdits applies the settlement edit rules to the original item
// list: qty <= 0 removes, an existing product gets its qty replaced in
// place, and an unknown product is appended as a new SaleItem with price and
// cost basis defaulted from the current catalog record. Original order is
// preserved; appended items go to the end.
func (s *Service) applyItemEdits(ctx context.Context, tenantID string, original []domain.SaleItem, edits []domain.SettleItemEdit) ([]domain.SaleItem, error) {
	editByProduct := make(map[string]domain.SettleItemEdit, len(edits))
	for _, edit := range edits {
		if edit.ProductID == "" {
			return nil, fmt.Errorf("%w: edit product id required", store.ErrInvalidInput)
		}
		editByProduct[edit.ProductID] = edit
	}

	known := make(map[string]bool, len(original))
	items := make([]domain.SaleItem, 0, len(original)+len(edits))
	for _, item := range original {
		known[item.ProductID] = true
		edit, edited := editByProduct[item.ProductID]
		if !edited {
			items = append(items, item)
			continue
		}
		if edit.Qty <= 0 {
			continue
		}
		item.Qty = edit.Qty
		items = append(items, item)
	}

	appendIDs := make([]string, 0, len(edits))
	for _, edit := range edits {
		if !known[edit.ProductID] && edit.Qty > 0 {
			appendIDs = append(appendIDs, edit.ProductID)
		}
	}
	if len(appendIDs) == 0 {
		return items, nil
	}

	products, err := s.repo.GetProductsByIDs(ctx, tenantID, appendIDs)
	if err != nil {
		return nil, err
	}
	// Appended items keep the order the edits arrived in.
	for _, edit := range edits {
		if known[edit.ProductID] || edit.Qty <= 0 {
			continue
		}
		product, exists := products[edit.ProductID]
		if !exists {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, edit.ProductID)
		}
		items = append(items, domain.SaleItem{
			ProductID:      product.ID,
			ProductName:    product.Name,
			ProductType:    product.Type,
			Qty:            edit.Qty,
			UnitPriceCents: product.PriceCents,
			CostCents:      product.CostCents,
		})
	}

	return items, nil
}

// resolveServiceFeeAccount looks up the tenant's service-fee payable account
// by name prefix, fronted by the account cache. A lookup miss is non-fatal:
// the sale proceeds and the journal is left without the fee credit line.
func (s *Service) resolveServiceFeeAccount(ctx context.Context, tenantID string) string {
	cacheKey := "acct:service-fee:" + tenantID
	if cached, hit, err := s.accountCache.Get(ctx, cacheKey); err == nil && hit {
		return cached.ID
	}

	accounts, err := s.repo.FindAccounts(ctx, tenantID, "", domain.ServiceFeePayableAccountName)
	if err != nil || len(accounts) == 0 {
		log.Printf("[ledger] WARN: service fee account %q not found for tenant=%s; journal will be unbalanced: %v", domain.ServiceFeePayableAccountName, tenantID, err)
		return ""
	}

	account := accounts[0]
	if err := s.accountCache.Set(ctx, cacheKey, &account, s.accountCacheTTL); err != nil {
		log.Printf("[ledger] WARN: failed to cache service fee account tenant=%s: %v", tenantID, err)
	}
	return account.ID
}

// saleStockDeltas stages the create-time stock decrements: one negative
// delta per tangible product, aggregated by product id.
func saleStockDeltas(items []domain.SaleItem) []domain.StockAdjustment {
	byProduct := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		if item.ProductType != domain.ProductTypeTangible {
			continue
		}
		if _, seen := byProduct[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		byProduct[item.ProductID] += item.Qty
	}

	deltas := make([]domain.StockAdjustment, 0, len(order))
	for _, productID := range order {
		deltas = append(deltas, domain.StockAdjustment{ProductID: productID, Qty: -byProduct[productID]})
	}
	return deltas
}

// settlementStockDeltas reconciles stock for item edits made during
// settlement: for each tangible product the delta is originalQty - editedQty
// (positive restores stock that the create-time decrement consumed,
// negative consumes more).
func settlementStockDeltas(original []domain.SaleItem, edited []domain.SaleItem) []domain.StockAdjustment {
	originalQty := make(map[string]int, len(original))
	tangible := make(map[string]bool, len(original)+len(edited))
	order := make([]string, 0, len(original)+len(edited))

	for _, item := range original {
		if item.ProductType != domain.ProductTypeTangible {
			continue
		}
		if !tangible[item.ProductID] {
			order = append(order, item.ProductID)
			tangible[item.ProductID] = true
		}
		originalQty[item.ProductID] += item.Qty
	}

	editedQty := make(map[string]int, len(edited))
	for _, item := range edited {
		if item.ProductType != domain.ProductTypeTangible {
			continue
		}
		if !tangible[item.ProductID] {
			order = append(order, item.ProductID)
			tangible[item.ProductID] = true
		}
		editedQty[item.ProductID] += item.Qty
	}

	deltas := make([]domain.StockAdjustment, 0, len(order))
	for _, productID := range order {
		delta := originalQty[productID] - editedQty[productID]
		if delta == 0 {
			continue
		}
		deltas = append(deltas, domain.StockAdjustment{ProductID: productID, Qty: delta})
	}
	return deltas
}

func (s *Service) logAudit(ctx context.Context, tenantID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		TenantID:      tenantID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func nextTransactionNumber(now time.Time) string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("TRX-%s-%d", now.Format("20060102"), now.UnixNano()%1000000)
	}
	return fmt.Sprintf("TRX-%s-%s", now.Format("20060102"), strings.ToUpper(hex.EncodeToString(buf)))
}
