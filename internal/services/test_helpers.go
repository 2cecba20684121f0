package services

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/totpguard/internal/models"
)

// MockUserStore is an in-memory UserStore. GetByID returns copies so a test sees only
// what was saved.
type MockUserStore struct {
	mu    sync.Mutex
	Users map[int64]*models.User
	Saves int

	GetByIDFunc       func(ctx context.Context, id int64) (*models.User, error)
	SaveTOTPStateFunc func(ctx context.Context, user *models.User) error
}

// NewMockUserStore seeds the store with users
func NewMockUserStore(users ...*models.User) *MockUserStore {
	m := &MockUserStore{Users: make(map[int64]*models.User)}
	for _, u := range users {
		m.Users[u.ID] = copyUser(u)
	}
	return m
}

func copyUser(u *models.User) *models.User {
	c := *u
	if u.Secret != nil {
		secret := *u.Secret
		c.Secret = &secret
	}
	c.BackupCodes = slices.Clone(u.BackupCodes)
	return &c
}

func (m *MockUserStore) GetByID(ctx context.Context, id int64) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyUser(u), nil
}

func (m *MockUserStore) SaveTOTPState(ctx context.Context, user *models.User) error {
	if m.SaveTOTPStateFunc != nil {
		return m.SaveTOTPStateFunc(ctx, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Users[user.ID]; !ok {
		return models.ErrNotFound
	}
	m.Users[user.ID] = copyUser(user)
	m.Saves++
	return nil
}

func (m *MockUserStore) sorted() []*models.User {
	users := make([]*models.User, 0, len(m.Users))
	for _, u := range m.Users {
		users = append(users, copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

func (m *MockUserStore) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := m.sorted()
	if offset >= len(users) {
		return []*models.User{}, nil
	}
	end := min(offset+limit, len(users))
	return users[offset:end], nil
}

func (m *MockUserStore) ListTOTPEnabled(ctx context.Context) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var enabled []*models.User
	for _, u := range m.sorted() {
		if u.IsEnabled() {
			enabled = append(enabled, u)
		}
	}
	return enabled, nil
}

func (m *MockUserStore) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.Users)), nil
}

// Get returns the stored user without copying semantics, for assertions
func (m *MockUserStore) Get(id int64) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Users[id]
}

// MockBulkUserStore adds BulkTrustedVersionUpdater
type MockBulkUserStore struct {
	*MockUserStore
	BulkCalls int
	BulkFunc  func(ctx context.Context) (int64, error)
}

func (m *MockBulkUserStore) BulkIncrementTrustedVersion(ctx context.Context) (int64, error) {
	m.BulkCalls++
	if m.BulkFunc != nil {
		return m.BulkFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var affected int64
	for _, u := range m.Users {
		if u.IsEnabled() {
			u.ClearTrustedDevices()
			affected++
		}
	}
	return affected, nil
}

// AuditCall is one recorded audit event
type AuditCall struct {
	Text   string
	Kind   models.TOTPEvent
	UserID int64
}

// MockAuditSink records events and optionally fails
type MockAuditSink struct {
	mu     sync.Mutex
	Events []AuditCall
	Err    error
}

func (m *MockAuditSink) Log(ctx context.Context, text string, kind models.TOTPEvent, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, AuditCall{Text: text, Kind: kind, UserID: userID})
	return m.Err
}

// Kinds returns the recorded event kinds in order
func (m *MockAuditSink) Kinds() []models.TOTPEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]models.TOTPEvent, 0, len(m.Events))
	for _, e := range m.Events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// MockAuditLogRepository implements AuditLogRepository for testing
type MockAuditLogRepository struct {
	Created    []*models.AuditLog
	CreateFunc func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
}

func (m *MockAuditLogRepository) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, log)
	}
	log.ID = int64(len(m.Created) + 1)
	log.Event = log.EventType.String()
	log.CreatedAt = time.Now()
	m.Created = append(m.Created, log)
	return log, nil
}

// MockMailer records recovery emails
type MockMailer struct {
	Sent                  []SentEmail
	SendRecoveryEmailFunc func(ctx context.Context, to string, link *models.SignedLink) error
}

// SentEmail is one recorded recovery email
type SentEmail struct {
	To   string
	Link *models.SignedLink
}

func (m *MockMailer) SendRecoveryEmail(ctx context.Context, to string, link *models.SignedLink) error {
	if m.SendRecoveryEmailFunc != nil {
		return m.SendRecoveryEmailFunc(ctx, to, link)
	}
	m.Sent = append(m.Sent, SentEmail{To: to, Link: link})
	return nil
}

// MockLimiter implements SlidingWindowLimiter for testing
type MockLimiter struct {
	Keys        []string
	ConsumeFunc func(ctx context.Context, key string) (RateLimitDecision, error)
}

func (m *MockLimiter) Consume(ctx context.Context, key string) (RateLimitDecision, error) {
	m.Keys = append(m.Keys, key)
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, key)
	}
	return RateLimitDecision{Allowed: true, Remaining: 2}, nil
}

// MockTOTPProvider implements TOTPProvider for testing
type MockTOTPProvider struct {
	Secret             string
	ValidCode          string
	GenerateSecretFunc func() (string, error)
	QRCodePNGFunc      func(uri string) ([]byte, error)
}

func (m *MockTOTPProvider) GenerateSecret() (string, error) {
	if m.GenerateSecretFunc != nil {
		return m.GenerateSecretFunc()
	}
	if m.Secret == "" {
		return "JBSWY3DPEHPK3PXP", nil
	}
	return m.Secret, nil
}

func (m *MockTOTPProvider) ProvisioningURI(accountName, secret string) (string, error) {
	return "otpauth://totp/Test:" + accountName + "?secret=" + secret, nil
}

func (m *MockTOTPProvider) QRCodePNG(uri string) ([]byte, error) {
	if m.QRCodePNGFunc != nil {
		return m.QRCodePNGFunc(uri)
	}
	return []byte("png:" + uri), nil
}

func (m *MockTOTPProvider) ValidateCode(secret, code string) (bool, error) {
	return m.ValidCode != "" && code == m.ValidCode, nil
}

// MockMetrics records every metrics callback
type MockMetrics struct {
	Requested []string
	Verified  []string
	Cleared   []int64
	Codes     []string
}

func (m *MockMetrics) RecoveryRequested(outcome string) { m.Requested = append(m.Requested, outcome) }
func (m *MockMetrics) RecoveryVerified(outcome string)  { m.Verified = append(m.Verified, outcome) }
func (m *MockMetrics) TrustedDevicesCleared(n int64)    { m.Cleared = append(m.Cleared, n) }
func (m *MockMetrics) CodeVerified(method string, ok bool) {
	if ok {
		m.Codes = append(m.Codes, method)
	} else {
		m.Codes = append(m.Codes, method+":fail")
	}
}
