package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
	"github.com/xkilldash9x/telco-harvester/internal/browser"
	"github.com/xkilldash9x/telco-harvester/internal/store"
)

// -- Driver Mock --

// MockDriver mocks browser.Driver.
type MockDriver struct {
	mock.Mock
}

var _ browser.Driver = (*MockDriver)(nil)

func (m *MockDriver) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockDriver) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) WaitForElement(ctx context.Context, selector string, opts browser.WaitOptions) error {
	return m.Called(ctx, selector, opts).Error(0)
}

func (m *MockDriver) Exists(ctx context.Context, selector string) (bool, error) {
	args := m.Called(ctx, selector)
	return args.Bool(0), args.Error(1)
}

func (m *MockDriver) Count(ctx context.Context, selector string) (int, error) {
	args := m.Called(ctx, selector)
	return args.Int(0), args.Error(1)
}

func (m *MockDriver) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	args := m.Called(ctx, selector, name)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockDriver) Click(ctx context.Context, selector string) error {
	return m.Called(ctx, selector).Error(0)
}

func (m *MockDriver) FillField(ctx context.Context, selector, value string) error {
	return m.Called(ctx, selector, value).Error(0)
}

func (m *MockDriver) Value(ctx context.Context, selector string) (string, error) {
	args := m.Called(ctx, selector)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) HTML(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// Evaluate returns the configured error. Tests needing a result use Run to
// fill res.
func (m *MockDriver) Evaluate(ctx context.Context, script string, res interface{}) error {
	return m.Called(ctx, script, res).Error(0)
}

func (m *MockDriver) Cookie(ctx context.Context, name string) (string, error) {
	args := m.Called(ctx, name)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) SetVisible(ctx context.Context, visible bool) error {
	return m.Called(ctx, visible).Error(0)
}

// -- Vault Mock --

// MockVault mocks store.Vault.
type MockVault struct {
	mock.Mock
}

var _ store.Vault = (*MockVault)(nil)

func (m *MockVault) SaveCredentials(ctx context.Context, creds schemas.Credentials) error {
	return m.Called(ctx, creds).Error(0)
}

func (m *MockVault) SaveIdentity(ctx context.Context, account string, identity schemas.UserIdentity) error {
	return m.Called(ctx, account, identity).Error(0)
}

func (m *MockVault) SaveBills(ctx context.Context, account string, records []schemas.BillRecord, opts store.SaveOptions) (int, error) {
	args := m.Called(ctx, account, records, opts)
	return args.Int(0), args.Error(1)
}

func (m *MockVault) GetCredentials(ctx context.Context, login string) (*schemas.Credentials, error) {
	args := m.Called(ctx, login)
	var creds *schemas.Credentials
	if c := args.Get(0); c != nil {
		creds = c.(*schemas.Credentials)
	}
	return creds, args.Error(1)
}

func (m *MockVault) Close() {
	m.Called()
}
