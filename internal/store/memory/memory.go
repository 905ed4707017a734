package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

type Store struct {
	mu            sync.RWMutex
	stores        map[string]domain.Store
	usersByID     map[string]domain.User
	usersByEmail  map[string]string
	products      map[string]domain.Product
	skuIndex      map[string]string
	salesByID     map[string]*domain.Sale
	returnsByID   map[string]*domain.Return
	settings      *domain.Settings
	auditLogs     []domain.AuditLog
	saleCounter   int64
	returnCounter int64
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. These credentials
// never reach production (the backend uses PostgreSQL when DATABASE_URL is
// set).
func seedUsers(storeID string) map[string]domain.User {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.User{}
	for _, u := range []struct {
		id       string
		name     string
		email    string
		password string
		role     string
		storeID  string
	}{
		{"user-admin", "Admin", "admin@example.com", adminPwd, domain.RoleAdmin, ""},
		{"user-cashier", "Cashier", "cashier@example.com", cashierPwd, domain.RoleEmployee, storeID},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.email, err)
		}
		users[u.id] = domain.User{
			ID:           u.id,
			Name:         u.name,
			Email:        u.email,
			PasswordHash: string(hash),
			Role:         u.role,
			StoreID:      u.storeID,
			Active:       true,
			CreatedAt:    now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		stores:       make(map[string]domain.Store),
		usersByID:    make(map[string]domain.User),
		usersByEmail: make(map[string]string),
		products:     make(map[string]domain.Product),
		skuIndex:     make(map[string]string),
		salesByID:    make(map[string]*domain.Sale),
		returnsByID:  make(map[string]*domain.Return),
		auditLogs:    make([]domain.AuditLog, 0, 128),
	}
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	mainStore := domain.Store{
		ID:        "main-store",
		Name:      "Main Street Store",
		Address:   "12 Main Street",
		Phone:     "0300-0000000",
		CreatedAt: now,
	}

	products := []domain.Product{
		{ID: "prod-rice-01", Name: "Basmati Rice 5kg", SKU: "SKU-RICE-01", Category: "grocery", PriceCents: 129500, CostCents: 108000, Quantity: 120, MinStock: 10},
		{ID: "prod-oil-01", Name: "Cooking Oil 1L", SKU: "SKU-OIL-01", Category: "grocery", PriceCents: 58500, CostCents: 51000, Quantity: 120, MinStock: 10},
		{ID: "prod-milk-01", Name: "UHT Milk 1L", SKU: "SKU-MILK-01", Category: "dairy", PriceCents: 28000, CostCents: 24500, Quantity: 120, MinStock: 15},
		{ID: "prod-bread-01", Name: "Bread Loaf", SKU: "SKU-BREAD-01", Category: "bakery", PriceCents: 16000, CostCents: 12500, Quantity: 120, MinStock: 10},
		{ID: "prod-tea-01", Name: "Tea Bags 100s", SKU: "SKU-TEA-01", Category: "beverage", PriceCents: 62000, CostCents: 52000, Quantity: 120, MinStock: 8},
		{ID: "prod-sugar-01", Name: "Sugar 1kg", SKU: "SKU-SUGAR-01", Category: "grocery", PriceCents: 17500, CostCents: 15500, Quantity: 120, MinStock: 12},
		{ID: "prod-soap-01", Name: "Bath Soap", SKU: "SKU-SOAP-01", Category: "household", PriceCents: 9500, CostCents: 7200, Quantity: 120, MinStock: 20},
		{ID: "prod-water-01", Name: "Mineral Water 1.5L", SKU: "SKU-WATER-01", Category: "beverage", PriceCents: 8000, CostCents: 6000, Quantity: 120, MinStock: 24},
	}

	productMap := make(map[string]domain.Product, len(products))
	skuIndex := make(map[string]string, len(products))
	for _, p := range products {
		p.StoreID = mainStore.ID
		p.CreatedAt = now
		productMap[p.ID] = p
		skuIndex[skuKey(p.StoreID, p.SKU)] = p.ID
	}

	users := seedUsers(mainStore.ID)
	usersByEmail := make(map[string]string, len(users))
	for id, u := range users {
		usersByEmail[u.Email] = id
	}

	return &Store{
		stores:       map[string]domain.Store{mainStore.ID: mainStore},
		usersByID:    users,
		usersByEmail: usersByEmail,
		products:     productMap,
		skuIndex:     skuIndex,
		salesByID:    make(map[string]*domain.Sale),
		returnsByID:  make(map[string]*domain.Return),
		auditLogs:    make([]domain.AuditLog, 0, 128),
	}
}

func (s *Store) CreateStore(_ context.Context, st domain.Store, manager *domain.User) (*domain.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st.Name = strings.TrimSpace(st.Name)
	if st.Name == "" {
		return nil, fmt.Errorf("store name required: %w", store.ErrInvalidInput)
	}
	if st.ID == "" {
		st.ID = xid.New("store")
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.stores[st.ID]; exists {
		return nil, store.ErrConflict
	}

	if manager != nil {
		email := strings.ToLower(strings.TrimSpace(manager.Email))
		if email == "" || manager.PasswordHash == "" {
			return nil, fmt.Errorf("manager credentials required: %w", store.ErrInvalidInput)
		}
		if _, exists := s.usersByEmail[email]; exists {
			return nil, store.ErrConflict
		}
		m := *manager
		m.Email = email
		m.Role = domain.RoleManager
		m.StoreID = st.ID
		m.Active = true
		if m.ID == "" {
			m.ID = xid.New("user")
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		s.usersByID[m.ID] = m
		s.usersByEmail[m.Email] = m.ID
	}

	s.stores[st.ID] = st
	created := st
	return &created, nil
}

func (s *Store) GetStore(_ context.Context, id string) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.stores[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyStore := st
	return &copyStore, nil
}

func (s *Store) ListStores(_ context.Context) ([]domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stores := make([]domain.Store, 0, len(s.stores))
	for _, st := range s.stores {
		stores = append(stores, st)
	}
	slices.SortFunc(stores, func(a, b domain.Store) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return stores, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Email == "" || user.PasswordHash == "" || !domain.ValidRole(user.Role) {
		return nil, fmt.Errorf("invalid user: %w", store.ErrInvalidInput)
	}
	if _, exists := s.usersByEmail[user.Email]; exists {
		return nil, store.ErrConflict
	}
	if user.StoreID != "" {
		if _, exists := s.stores[user.StoreID]; !exists {
			return nil, store.ErrNotFound
		}
	}
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true

	s.usersByID[user.ID] = user
	s.usersByEmail[user.Email] = user.ID
	created := user
	return &created, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.usersByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !exists {
		return nil, store.ErrNotFound
	}
	user := s.usersByID[id]
	copyUser := user
	return &copyUser, nil
}

func (s *Store) ListUsers(_ context.Context, storeID string) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.usersByID))
	for _, user := range s.usersByID {
		if storeID != "" && user.StoreID != storeID {
			continue
		}
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		return cmpString(a.Email, b.Email)
	})
	return users, nil
}

func (s *Store) SetUserActive(_ context.Context, id string, active bool) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	user.Active = active
	s.usersByID[id] = user
	copyUser := user
	return &copyUser, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, id string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(passwordHash) == "" {
		return fmt.Errorf("empty password hash: %w", store.ErrInvalidInput)
	}
	user, exists := s.usersByID[id]
	if !exists {
		return store.ErrNotFound
	}
	user.PasswordHash = passwordHash
	s.usersByID[id] = user
	return nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.SKU = strings.ToUpper(strings.TrimSpace(product.SKU))
	if product.StoreID == "" || product.SKU == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, fmt.Errorf("invalid product: %w", store.ErrInvalidInput)
	}
	if product.Quantity < 0 || product.MinStock < 0 {
		return nil, fmt.Errorf("invalid product: %w", store.ErrInvalidInput)
	}
	if _, exists := s.stores[product.StoreID]; !exists {
		return nil, store.ErrNotFound
	}
	if _, exists := s.skuIndex[skuKey(product.StoreID, product.SKU)]; exists {
		return nil, store.ErrConflict
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	s.products[product.ID] = product
	s.skuIndex[skuKey(product.StoreID, product.SKU)] = product.ID
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.Name == "" || product.PriceCents < 1 || product.MinStock < 0 {
		return nil, fmt.Errorf("invalid product: %w", store.ErrInvalidInput)
	}
	// SKU, store and stock level are immutable here; stock moves through
	// AdjustStock and sales.
	product.StoreID = existing.StoreID
	product.SKU = existing.SKU
	product.Quantity = existing.Quantity
	product.CreatedAt = existing.CreatedAt

	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) ListProducts(_ context.Context, storeID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if storeID != "" && p.StoreID != storeID {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) AdjustStock(_ context.Context, productID string, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[productID]
	if !exists {
		return nil, store.ErrNotFound
	}
	next := product.Quantity + delta
	if next < 0 {
		return nil, store.ErrInsufficientStock
	}
	product.Quantity = next
	s.products[productID] = product
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Items) == 0 {
		return nil, store.ErrEmptyCart
	}
	if _, exists := s.stores[sale.StoreID]; !exists {
		return nil, fmt.Errorf("store %s unavailable", sale.StoreID)
	}

	// Check every line before touching stock so a failed sale leaves
	// nothing decremented.
	for _, item := range sale.Items {
		if item.Quantity < 1 {
			return nil, store.ErrEmptyCart
		}
		product, exists := s.products[item.ProductID]
		if !exists || product.StoreID != sale.StoreID {
			return nil, fmt.Errorf("product %s unavailable: %w", item.ProductID, store.ErrNotFound)
		}
		if product.Quantity < item.Quantity {
			return nil, store.ErrInsufficientStock
		}
	}

	for i := range sale.Items {
		product := s.products[sale.Items[i].ProductID]
		product.Quantity -= sale.Items[i].Quantity
		s.products[product.ID] = product
		if sale.Items[i].ID == "" {
			sale.Items[i].ID = xid.New("sitem")
		}
	}

	s.saleCounter++
	sale.Number = store.FormatSaleNumber(s.saleCounter)
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCompleted
	}

	saved := cloneSale(&sale)
	s.salesByID[sale.ID] = saved
	return cloneSale(saved), nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, storeID string, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 64)
	for _, sale := range s.salesByID {
		if storeID != "" && sale.StoreID != storeID {
			continue
		}
		result = append(result, *cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.Number, a.Number)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateReturn(_ context.Context, ret domain.Return) (*domain.Return, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ret.Items) == 0 {
		return nil, store.ErrInvalidReturn
	}
	sale, exists := s.salesByID[ret.SaleID]
	if !exists {
		return nil, store.ErrNotFound
	}

	// Re-validate remaining quantities under the lock. The service checked
	// them already, but a concurrent return may have landed since.
	sold := make(map[string]int, len(sale.Items))
	for _, item := range sale.Items {
		sold[item.ID] = item.Quantity
	}
	returned := s.returnedBySaleItemLocked(ret.SaleID)
	for _, line := range ret.Items {
		soldQty, ok := sold[line.SaleItemID]
		if !ok || line.Quantity < 1 {
			return nil, store.ErrInvalidReturn
		}
		if returned[line.SaleItemID]+line.Quantity > soldQty {
			return nil, store.ErrQuantityExceeded
		}
	}

	// Decide the sale's new status from the history held under this lock,
	// not from whatever the caller knew before the lock was taken.
	saleStatus := domain.SaleStatusPartialReturn
	allReturned := true
	for itemID, soldQty := range sold {
		after := returned[itemID]
		for _, line := range ret.Items {
			if line.SaleItemID == itemID {
				after += line.Quantity
			}
		}
		if after < soldQty {
			allReturned = false
			break
		}
	}
	if allReturned {
		saleStatus = domain.SaleStatusReturned
	}

	for i := range ret.Items {
		product, exists := s.products[ret.Items[i].ProductID]
		if exists {
			product.Quantity += ret.Items[i].Quantity
			s.products[product.ID] = product
		}
		if ret.Items[i].ID == "" {
			ret.Items[i].ID = xid.New("ritem")
		}
	}

	s.returnCounter++
	ret.Number = store.FormatReturnNumber(s.returnCounter)
	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = time.Now().UTC()
	}
	sale.Status = saleStatus

	// SaleStatus is a creation-time result, not part of the stored row.
	saved := cloneReturn(&ret)
	saved.SaleStatus = ""
	s.returnsByID[ret.ID] = saved

	created := cloneReturn(&ret)
	created.SaleStatus = saleStatus
	return created, nil
}

func (s *Store) ListReturns(_ context.Context, storeID string, limit int) ([]domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Return, 0, 64)
	for _, ret := range s.returnsByID {
		if storeID != "" && ret.StoreID != storeID {
			continue
		}
		result = append(result, *cloneReturn(ret))
	}
	slices.SortFunc(result, func(a, b domain.Return) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.Number, a.Number)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ReturnedQtyBySaleItem(_ context.Context, saleID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.returnedBySaleItemLocked(saleID), nil
}

func (s *Store) returnedBySaleItemLocked(saleID string) map[string]int {
	result := make(map[string]int)
	for _, ret := range s.returnsByID {
		if ret.SaleID != saleID {
			continue
		}
		for _, line := range ret.Items {
			result[line.SaleItemID] += line.Quantity
		}
	}
	return result
}

func (s *Store) GetOrCreateSettings(_ context.Context, defaults domain.Settings) (*domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings == nil {
		if defaults.ID == "" {
			defaults.ID = xid.New("settings")
		}
		if defaults.UpdatedAt.IsZero() {
			defaults.UpdatedAt = time.Now().UTC()
		}
		saved := defaults
		s.settings = &saved
	}
	copySettings := *s.settings
	return &copySettings, nil
}

func (s *Store) UpdateSettings(_ context.Context, settings domain.Settings) (*domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings == nil {
		return nil, store.ErrNotFound
	}
	settings.ID = s.settings.ID
	settings.UpdatedAt = time.Now().UTC()
	saved := settings
	s.settings = &saved
	copySettings := saved
	return &copySettings, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func skuKey(storeID string, sku string) string {
	return storeID + "::" + sku
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.SaleItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return &dup
}

func cloneReturn(src *domain.Return) *domain.Return {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.ReturnItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return &dup
}
