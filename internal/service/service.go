package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/mail"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/notify"
	"retailpos/backend/internal/receipt"
	"retailpos/backend/internal/recommendation"
	"retailpos/backend/internal/store"
)

var (
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// DefaultSettings seeds the settings row on first use.
var DefaultSettings = domain.Settings{
	ID:        "default",
	StoreName: "RetailPOS",
	TaxRateBP: 500,
	FeeCents:  100,
	Currency:  "PKR",
}

const (
	settingsTTL = 5 * time.Minute
	productsTTL = 30 * time.Second

	// restockFeeBP is the flat restocking fee charged on refunds,
	// in basis points of the gross refund amount.
	restockFeeBP = 1000
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
	repo      store.Repository
	catalog   cache.CatalogCache
	notifier  notify.Notifier
	suggester *recommendation.Engine
}

func New(repo store.Repository, catalog cache.CatalogCache, notifier notify.Notifier, suggester *recommendation.Engine) *Service {
	if catalog == nil {
		catalog = cache.NoopCatalogCache{}
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(nil)
	}
	if suggester == nil {
		suggester = recommendation.NewEngine(0, 0)
	}

	return &Service{
		repo:      repo,
		catalog:   catalog,
		notifier:  notifier,
		suggester: suggester,
	}
}

// Login verifies the credentials and returns the matching active user.
func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.Active {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *Service) CreateStore(ctx context.Context, req domain.StoreCreateRequest) (*domain.Store, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: admin role required", ErrForbidden)
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("store name required: %w", store.ErrInvalidInput)
	}

	var manager *domain.User
	if req.ManagerEmail != "" || req.ManagerPassword != "" {
		email := strings.ToLower(strings.TrimSpace(req.ManagerEmail))
		if !validEmail(email) || len(req.ManagerPassword) < 8 {
			return nil, fmt.Errorf("manager credentials required: %w", store.ErrInvalidInput)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.ManagerPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		manager = &domain.User{
			Name:         strings.TrimSpace(req.ManagerName),
			Email:        email,
			PasswordHash: string(hash),
			Role:         domain.RoleManager,
			Active:       true,
		}
	}

	created, err := s.repo.CreateStore(ctx, domain.Store{
		Name:    req.Name,
		Address: strings.TrimSpace(req.Address),
		Phone:   strings.TrimSpace(req.Phone),
	}, manager)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, created.ID, "store_create", "store", created.ID, fmt.Sprintf("name=%s,manager=%t", created.Name, manager != nil))

	if manager != nil {
		email, storeName := manager.Email, created.Name
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.notifier.WelcomeManager(ctx, email, storeName); err != nil {
				log.Printf("[service] WARN: welcome notification failed manager=%s: %v", email, err)
			}
		}()
	}

	return created, nil
}

func (s *Service) GetStore(ctx context.Context, id string) (*domain.Store, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}
	if actor.Role != domain.RoleAdmin && actor.StoreID != id {
		return nil, fmt.Errorf("%w: store access denied", ErrForbidden)
	}
	return s.repo.GetStore(ctx, id)
}

func (s *Service) ListStores(ctx context.Context) ([]domain.Store, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return s.repo.ListStores(ctx)
}

func (s *Service) CreateEmployee(ctx context.Context, req domain.EmployeeCreateRequest) (*domain.User, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}

	switch actor.Role {
	case domain.RoleAdmin:
	case domain.RoleManager:
		// Managers hire into their own store, and never other managers.
		if req.StoreID != actor.StoreID || req.Role != domain.RoleEmployee {
			return nil, fmt.Errorf("%w: managers may only add employees to their own store", ErrForbidden)
		}
	default:
		return nil, fmt.Errorf("%w: manager or admin role required", ErrForbidden)
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !validEmail(email) || len(req.Password) < 8 || req.StoreID == "" {
		return nil, fmt.Errorf("invalid employee: %w", store.ErrInvalidInput)
	}
	if req.Role != domain.RoleEmployee && req.Role != domain.RoleManager {
		return nil, fmt.Errorf("invalid employee role: %w", store.ErrInvalidInput)
	}

	if _, err := s.repo.GetStore(ctx, req.StoreID); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.CreateUser(ctx, domain.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		PasswordHash: string(hash),
		Role:         req.Role,
		StoreID:      req.StoreID,
		Active:       true,
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, req.StoreID, "employee_create", "user", created.ID, fmt.Sprintf("email=%s,role=%s", created.Email, created.Role))
	return created, nil
}

func (s *Service) ListEmployees(ctx context.Context, storeID string) ([]domain.User, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}
	if actor.Role != domain.RoleAdmin {
		storeID = actor.StoreID
	}
	return s.repo.ListUsers(ctx, storeID)
}

func (s *Service) SetEmployeeActive(ctx context.Context, id string, active bool) (*domain.User, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: admin role required", ErrForbidden)
	}

	user, err := s.repo.SetUserActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, user.StoreID, "employee_set_active", "user", user.ID, fmt.Sprintf("active=%t", active))
	return user, nil
}

// ResetEmployeePassword gives an admin a way to rotate a lost password.
func (s *Service) ResetEmployeePassword(ctx context.Context, email string, newPassword string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	if len(newPassword) < 8 {
		return fmt.Errorf("password too short: %w", store.ErrInvalidInput)
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateUserPassword(ctx, user.ID, string(hash)); err != nil {
		return err
	}
	s.logAudit(ctx, user.StoreID, "employee_password_reset", "user", user.ID, "")
	return nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	if _, err := s.requireStoreWriter(ctx, &req.StoreID); err != nil {
		return nil, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	if req.SKU == "" || req.Name == "" || req.PriceCents < 1 || req.Quantity < 0 || req.MinStock < 0 {
		return nil, fmt.Errorf("invalid product: %w", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		StoreID:    req.StoreID,
		Name:       req.Name,
		SKU:        req.SKU,
		Barcode:    strings.TrimSpace(req.Barcode),
		Category:   strings.TrimSpace(req.Category),
		PriceCents: req.PriceCents,
		CostCents:  req.CostCents,
		Quantity:   req.Quantity,
		MinStock:   req.MinStock,
	})
	if err != nil {
		return nil, err
	}

	s.invalidateProducts(ctx, req.StoreID)
	s.logAudit(ctx, req.StoreID, "product_create", "product", created.ID, fmt.Sprintf("sku=%s,price=%d,stock=%d", created.SKU, created.PriceCents, created.Quantity))
	return created, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}

	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin && product.StoreID != actor.StoreID {
		return nil, store.ErrNotFound
	}
	return product, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin {
		if actor.Role != domain.RoleManager || existing.StoreID != actor.StoreID {
			return nil, fmt.Errorf("%w: manager or admin role required", ErrForbidden)
		}
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("invalid product: %w", store.ErrInvalidInput)
		}
		updated.Name = name
	}
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return nil, fmt.Errorf("invalid product: %w", store.ErrInvalidInput)
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.CostCents != nil {
		if *req.CostCents < 0 {
			return nil, fmt.Errorf("invalid product: %w", store.ErrInvalidInput)
		}
		updated.CostCents = *req.CostCents
	}
	if req.MinStock != nil {
		if *req.MinStock < 0 {
			return nil, fmt.Errorf("invalid product: %w", store.ErrInvalidInput)
		}
		updated.MinStock = *req.MinStock
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return nil, err
	}

	s.invalidateProducts(ctx, saved.StoreID)
	s.logAudit(ctx, saved.StoreID, "product_update", "product", saved.ID, fmt.Sprintf("sku=%s,price=%d", saved.SKU, saved.PriceCents))
	return saved, nil
}

func (s *Service) ListProducts(ctx context.Context, storeID string) ([]domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}
	if actor.Role != domain.RoleAdmin {
		storeID = actor.StoreID
	}

	if cached, ok, err := s.catalog.GetProducts(ctx, storeID); err == nil && ok {
		return cached, nil
	}

	products, err := s.repo.ListProducts(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.SetProducts(ctx, storeID, products, productsTTL); err != nil {
		log.Printf("[service] WARN: product cache write failed store=%s: %v", storeID, err)
	}
	return products, nil
}

func (s *Service) LowStockProducts(ctx context.Context, storeID string) ([]domain.Product, error) {
	products, err := s.ListProducts(ctx, storeID)
	if err != nil {
		return nil, err
	}

	low := make([]domain.Product, 0, 8)
	for _, product := range products {
		if product.Quantity <= product.MinStock {
			low = append(low, product)
		}
	}
	sort.Slice(low, func(i, j int) bool { return low[i].Quantity < low[j].Quantity })
	return low, nil
}

func (s *Service) AdjustStock(ctx context.Context, adj domain.StockAdjustment) (*domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}
	if adj.ProductID == "" || adj.Delta == 0 {
		return nil, fmt.Errorf("invalid adjustment: %w", store.ErrInvalidInput)
	}

	existing, err := s.repo.GetProduct(ctx, adj.ProductID)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin {
		if actor.Role != domain.RoleManager || existing.StoreID != actor.StoreID {
			return nil, fmt.Errorf("%w: manager or admin role required", ErrForbidden)
		}
	}

	product, err := s.repo.AdjustStock(ctx, adj.ProductID, adj.Delta)
	if err != nil {
		return nil, err
	}

	s.invalidateProducts(ctx, product.StoreID)
	s.logAudit(ctx, product.StoreID, "stock_adjust", "product", product.ID, fmt.Sprintf("delta=%d,qty=%d,note=%s", adj.Delta, product.Quantity, adj.Note))
	s.maybeAlertLowStock(*product)
	return product, nil
}

// ProcessSale runs the whole checkout: price lookup, tax and fee math,
// atomic stock decrement and receipt delivery.
func (s *Service) ProcessSale(ctx context.Context, storeID string, input domain.SaleInput) (*domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}
	if actor.Role != domain.RoleAdmin {
		// Cashiers and managers always sell against their own store.
		storeID = actor.StoreID
		if storeID == "" {
			return nil, fmt.Errorf("%w: no store assigned", ErrForbidden)
		}
	}
	if storeID == "" {
		return nil, fmt.Errorf("store required: %w", store.ErrInvalidInput)
	}

	if input.PaymentMethod == "" {
		input.PaymentMethod = domain.PaymentCash
	}
	if !domain.ValidPaymentMethod(input.PaymentMethod) {
		return nil, fmt.Errorf("unsupported payment method %q: %w", input.PaymentMethod, store.ErrInvalidInput)
	}

	lines, err := normalizeCart(input.Items)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, store.ErrEmptyCart
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Unit prices come from the catalog at sale time, never from the
	// client.
	items := make([]domain.SaleItem, 0, len(lines))
	subtotal := int64(0)
	for _, line := range lines {
		product, exists := products[line.ProductID]
		if !exists || product.StoreID != storeID {
			return nil, fmt.Errorf("product %s unavailable: %w", line.ProductID, store.ErrNotFound)
		}
		total := int64(line.Qty) * product.PriceCents
		items = append(items, domain.SaleItem{
			ProductID:  product.ID,
			Name:       product.Name,
			SKU:        product.SKU,
			Quantity:   line.Qty,
			PriceCents: product.PriceCents,
			TotalCents: total,
		})
		subtotal += total
	}

	settings, err := s.getSettings(ctx)
	if err != nil {
		return nil, err
	}
	tax := int64(math.Round(float64(subtotal) * float64(settings.TaxRateBP) / 10000))
	fee := settings.FeeCents

	created, err := s.repo.CreateSale(ctx, domain.Sale{
		StoreID:       storeID,
		CashierID:     actor.UserID,
		CustomerName:  strings.TrimSpace(input.CustomerName),
		CustomerPhone: strings.TrimSpace(input.CustomerPhone),
		PaymentMethod: input.PaymentMethod,
		Status:        domain.SaleStatusCompleted,
		SubtotalCents: subtotal,
		TaxCents:      tax,
		FeeCents:      fee,
		TotalCents:    subtotal + tax + fee,
		Items:         items,
	})
	if err != nil {
		return nil, err
	}

	s.invalidateProducts(ctx, storeID)
	s.logAudit(ctx, storeID, "sale_process", "sale", created.ID, fmt.Sprintf("number=%s,total=%d,payment=%s", created.Number, created.TotalCents, created.PaymentMethod))

	sale := *created
	rendered := receipt.Render(sale, *settings)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notifier.SaleReceipt(ctx, sale, rendered); err != nil {
			log.Printf("[service] WARN: receipt delivery failed sale=%s: %v", sale.Number, err)
		}
	}()

	for _, item := range created.Items {
		if product, exists := products[item.ProductID]; exists {
			product.Quantity -= item.Quantity
			s.maybeAlertLowStock(product)
		}
	}

	return created, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}

	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin && sale.StoreID != actor.StoreID {
		return nil, store.ErrNotFound
	}
	return sale, nil
}

func (s *Service) ListSales(ctx context.Context, storeID string, limit int) ([]domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}
	if actor.Role != domain.RoleAdmin {
		storeID = actor.StoreID
	}
	return s.repo.ListSales(ctx, storeID, limit)
}

// SaleReceipt re-renders the receipt for an existing sale, both as
// plain text and as printer bytes.
func (s *Service) SaleReceipt(ctx context.Context, saleID string) (string, []byte, error) {
	sale, err := s.GetSale(ctx, saleID)
	if err != nil {
		return "", nil, err
	}
	settings, err := s.getSettings(ctx)
	if err != nil {
		return "", nil, err
	}
	return receipt.Render(*sale, *settings), receipt.Escpos(*sale, *settings), nil
}

// ProcessReturn refunds sold items back onto the shelf. Partial and
// repeated returns are allowed until each line's sold quantity is used
// up.
func (s *Service) ProcessReturn(ctx context.Context, input domain.ReturnInput) (*domain.Return, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(input.Reason) == "" {
		return nil, fmt.Errorf("return reason required: %w", store.ErrInvalidInput)
	}

	sale, err := s.repo.GetSale(ctx, input.SaleID)
	if err != nil {
		return nil, err
	}
	// Any staff role may process a return, but only against their own
	// store's sales.
	if actor.Role != domain.RoleAdmin && sale.StoreID != actor.StoreID {
		return nil, store.ErrNotFound
	}

	lines, err := normalizeReturnLines(input.Items)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, store.ErrInvalidReturn
	}

	soldByItem := make(map[string]domain.SaleItem, len(sale.Items))
	for _, item := range sale.Items {
		soldByItem[item.ID] = item
	}
	priorReturned, err := s.repo.ReturnedQtyBySaleItem(ctx, sale.ID)
	if err != nil {
		return nil, err
	}

	items := make([]domain.ReturnItem, 0, len(lines))
	refund := int64(0)
	for _, line := range lines {
		sold, exists := soldByItem[line.SaleItemID]
		if !exists || line.Qty < 1 {
			return nil, store.ErrInvalidReturn
		}
		if priorReturned[line.SaleItemID]+line.Qty > sold.Quantity {
			return nil, store.ErrQuantityExceeded
		}
		lineRefund := int64(line.Qty) * sold.PriceCents
		items = append(items, domain.ReturnItem{
			SaleItemID:  line.SaleItemID,
			ProductID:   sold.ProductID,
			Quantity:    line.Qty,
			RefundCents: lineRefund,
		})
		refund += lineRefund
	}

	fee := int64(math.Round(float64(refund) * float64(restockFeeBP) / 10000))

	// The store layer re-checks the quantities transactionally and decides
	// RETURNED vs PARTIAL_RETURN from the committed history, so concurrent
	// returns cannot leave the sale status stale.
	created, err := s.repo.CreateReturn(ctx, domain.Return{
		SaleID:          sale.ID,
		StoreID:         sale.StoreID,
		ProcessedBy:     actor.UserID,
		Reason:          strings.TrimSpace(input.Reason),
		RefundCents:     refund,
		RestockFeeCents: fee,
		NetRefundCents:  refund - fee,
		Items:           items,
	})
	if err != nil {
		return nil, err
	}

	s.invalidateProducts(ctx, sale.StoreID)
	s.logAudit(ctx, sale.StoreID, "return_process", "return", created.ID, fmt.Sprintf("number=%s,sale=%s,net_refund=%d,status=%s", created.Number, sale.Number, created.NetRefundCents, created.SaleStatus))
	return created, nil
}

func (s *Service) ListReturns(ctx context.Context, storeID string, limit int) ([]domain.Return, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}
	if actor.Role != domain.RoleAdmin {
		storeID = actor.StoreID
	}
	return s.repo.ListReturns(ctx, storeID, limit)
}

func (s *Service) GetSettings(ctx context.Context) (*domain.Settings, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return nil, ErrForbidden
	}
	return s.getSettings(ctx)
}

func (s *Service) UpdateSettings(ctx context.Context, req domain.SettingsUpdateRequest) (*domain.Settings, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: admin role required", ErrForbidden)
	}

	current, err := s.getSettings(ctx)
	if err != nil {
		return nil, err
	}

	updated := *current
	if req.StoreName != nil {
		name := strings.TrimSpace(*req.StoreName)
		if name == "" {
			return nil, fmt.Errorf("invalid settings: %w", store.ErrInvalidInput)
		}
		updated.StoreName = name
	}
	if req.TaxRateBP != nil {
		if *req.TaxRateBP < 0 || *req.TaxRateBP > 10000 {
			return nil, fmt.Errorf("invalid settings: %w", store.ErrInvalidInput)
		}
		updated.TaxRateBP = *req.TaxRateBP
	}
	if req.FeeCents != nil {
		if *req.FeeCents < 0 {
			return nil, fmt.Errorf("invalid settings: %w", store.ErrInvalidInput)
		}
		updated.FeeCents = *req.FeeCents
	}
	if req.Currency != nil {
		currency := strings.ToUpper(strings.TrimSpace(*req.Currency))
		if currency == "" {
			return nil, fmt.Errorf("invalid settings: %w", store.ErrInvalidInput)
		}
		updated.Currency = currency
	}

	saved, err := s.repo.UpdateSettings(ctx, updated)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.InvalidateSettings(ctx); err != nil {
		log.Printf("[service] WARN: settings cache invalidation failed: %v", err)
	}

	s.logAudit(ctx, "", "settings_update", "settings", saved.ID, fmt.Sprintf("tax_bp=%d,fee=%d,currency=%s", saved.TaxRateBP, saved.FeeCents, saved.Currency))
	return saved, nil
}

func (s *Service) ReorderSuggestions(ctx context.Context, storeID string) ([]domain.ReorderSuggestion, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrForbidden
	}
	if actor.Role == domain.RoleEmployee {
		return nil, fmt.Errorf("%w: manager or admin role required", ErrForbidden)
	}
	if actor.Role != domain.RoleAdmin {
		storeID = actor.StoreID
	}

	products, err := s.repo.ListProducts(ctx, storeID)
	if err != nil {
		return nil, err
	}
	sales, err := s.repo.ListSales(ctx, storeID, 200)
	if err != nil {
		return nil, err
	}
	return s.suggester.Suggest(products, sales, time.Now().UTC()), nil
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return s.repo.ListAuditLogs(ctx, storeID, limit)
}

func (s *Service) requireStoreWriter(ctx context.Context, storeID *string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrForbidden
	}
	switch actor.Role {
	case domain.RoleAdmin:
	case domain.RoleManager:
		if *storeID == "" {
			*storeID = actor.StoreID
		}
		if *storeID != actor.StoreID {
			return domain.Actor{}, fmt.Errorf("%w: managers may only write to their own store", ErrForbidden)
		}
	default:
		return domain.Actor{}, fmt.Errorf("%w: manager or admin role required", ErrForbidden)
	}
	return actor, nil
}

func (s *Service) getSettings(ctx context.Context) (*domain.Settings, error) {
	if cached, ok, err := s.catalog.GetSettings(ctx); err == nil && ok {
		return cached, nil
	}

	settings, err := s.repo.GetOrCreateSettings(ctx, DefaultSettings)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.SetSettings(ctx, settings, settingsTTL); err != nil {
		log.Printf("[service] WARN: settings cache write failed: %v", err)
	}
	return settings, nil
}

func (s *Service) invalidateProducts(ctx context.Context, storeID string) {
	if err := s.catalog.InvalidateProducts(ctx, storeID); err != nil {
		log.Printf("[service] WARN: product cache invalidation failed store=%s: %v", storeID, err)
	}
}

func (s *Service) maybeAlertLowStock(product domain.Product) {
	if product.Quantity > product.MinStock {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notifier.LowStockAlert(ctx, product); err != nil {
			log.Printf("[service] WARN: low stock alert failed sku=%s: %v", product.SKU, err)
		}
	}()
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{UserID: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		StoreID:    storeID,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

// normalizeCart merges duplicate product lines in order of first
// appearance. A line without a product id or with a non-positive
// quantity fails the whole cart rather than being dropped.
func normalizeCart(items []domain.CartItem) ([]domain.CartItem, error) {
	agg := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		if item.ProductID == "" || item.Qty < 1 {
			return nil, fmt.Errorf("cart line for product %q has quantity %d: %w", item.ProductID, item.Qty, store.ErrInvalidInput)
		}
		if _, seen := agg[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		agg[item.ProductID] += item.Qty
	}

	normalized := make([]domain.CartItem, 0, len(agg))
	for _, id := range order {
		normalized = append(normalized, domain.CartItem{ProductID: id, Qty: agg[id]})
	}
	return normalized, nil
}

func normalizeReturnLines(items []domain.ReturnLine) ([]domain.ReturnLine, error) {
	agg := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		if item.SaleItemID == "" || item.Qty < 1 {
			return nil, fmt.Errorf("return line %q has quantity %d: %w", item.SaleItemID, item.Qty, store.ErrInvalidReturn)
		}
		if _, seen := agg[item.SaleItemID]; !seen {
			order = append(order, item.SaleItemID)
		}
		agg[item.SaleItemID] += item.Qty
	}

	normalized := make([]domain.ReturnLine, 0, len(agg))
	for _, id := range order {
		normalized = append(normalized, domain.ReturnLine{SaleItemID: id, Qty: agg[id]})
	}
	return normalized, nil
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}

// EnsureAdmin creates the bootstrap admin account when no user with
// the given email exists yet. Called once at startup.
func (s *Service) EnsureAdmin(ctx context.Context, email string, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if !validEmail(email) || len(password) < 8 {
		return fmt.Errorf("admin credentials required: %w", store.ErrInvalidInput)
	}

	if _, err := s.repo.GetUserByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = s.repo.CreateUser(ctx, domain.User{
		Name:         "Administrator",
		Email:        email,
		PasswordHash: string(hash),
		Role:         domain.RoleAdmin,
		Active:       true,
	})
	if errors.Is(err, store.ErrConflict) {
		return nil
	}
	return err
}
