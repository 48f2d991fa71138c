package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
)

// SavedBill is a bill as held by the memory vault.
type SavedBill struct {
	Record             schemas.BillRecord
	Key                string
	ContentType        string
	QualificationLabel string
}

// Memory is an in-process vault. Nothing survives the process.
type Memory struct {
	mu          sync.RWMutex
	credentials map[string]credentialEntry
	identities  map[string]schemas.UserIdentity
	bills       map[string][]SavedBill
	keys        map[string]map[string]struct{}
}

type credentialEntry struct {
	creds schemas.Credentials
	at    time.Time
}

var _ Vault = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		credentials: make(map[string]credentialEntry),
		identities:  make(map[string]schemas.UserIdentity),
		bills:       make(map[string][]SavedBill),
		keys:        make(map[string]map[string]struct{}),
	}
}

func (m *Memory) Close() {}

func (m *Memory) SaveCredentials(ctx context.Context, creds schemas.Credentials) error {
	if creds.Login == "" {
		return errors.New("cannot save credentials without a login")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[creds.Login] = credentialEntry{creds: creds, at: time.Now()}
	return ctx.Err()
}

func (m *Memory) GetCredentials(ctx context.Context, login string) (*schemas.Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if login != "" {
		e, ok := m.credentials[login]
		if !ok {
			return nil, ctx.Err()
		}
		c := e.creds
		return &c, ctx.Err()
	}
	var latest *credentialEntry
	for _, e := range m.credentials {
		e := e
		if latest == nil || e.at.After(latest.at) {
			latest = &e
		}
	}
	if latest == nil {
		return nil, ctx.Err()
	}
	c := latest.creds
	return &c, ctx.Err()
}

func (m *Memory) SaveIdentity(ctx context.Context, account string, identity schemas.UserIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[account] = identity
	return ctx.Err()
}

func (m *Memory) SaveBills(ctx context.Context, account string, records []schemas.BillRecord, opts SaveOptions) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	seen, ok := m.keys[account]
	if !ok {
		seen = make(map[string]struct{})
		m.keys[account] = seen
	}
	saved := 0
	for _, r := range records {
		key := opts.Key(r)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if r.SubPath == "" {
			r.SubPath = opts.SubPath
		}
		m.bills[account] = append(m.bills[account], SavedBill{
			Record:             r,
			Key:                key,
			ContentType:        opts.ContentType,
			QualificationLabel: opts.QualificationLabel,
		})
		saved++
	}
	return saved, nil
}

// Bills returns the bills saved for account in insertion order.
func (m *Memory) Bills(account string) []SavedBill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]SavedBill(nil), m.bills[account]...)
}

// Identity returns the identity saved for account.
func (m *Memory) Identity(account string) (schemas.UserIdentity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.identities[account]
	return id, ok
}

// Accounts lists the accounts holding bills, sorted.
func (m *Memory) Accounts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.bills))
	for a := range m.bills {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
