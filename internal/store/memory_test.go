package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
)

func TestMemory_SaveBillsDedupes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	opts := SaveOptions{DedupeKeys: []string{"filename"}, ContentType: "application/pdf", QualificationLabel: "phone_invoice"}

	saved, err := m.SaveBills(ctx, "jeanne@example.com", sampleBills(), opts)
	require.NoError(t, err)
	assert.Equal(t, 2, saved)

	saved, err = m.SaveBills(ctx, "jeanne@example.com", sampleBills(), opts)
	require.NoError(t, err)
	assert.Zero(t, saved, "a second run must not duplicate bills")

	bills := m.Bills("jeanne@example.com")
	require.Len(t, bills, 2)
	assert.Equal(t, "2023-05-10_sfr_42.5EUR.pdf", bills[0].Key)
	assert.Equal(t, "phone_invoice", bills[0].QualificationLabel)
	assert.Equal(t, []string{"jeanne@example.com"}, m.Accounts())
}

func TestMemory_SubPathSeparatesContracts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	keys := []string{"subPath", "filename"}

	saved, err := m.SaveBills(ctx, "acct", sampleBills()[:1], SaveOptions{DedupeKeys: keys, SubPath: "ligne-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	saved, err = m.SaveBills(ctx, "acct", sampleBills()[:1], SaveOptions{DedupeKeys: keys, SubPath: "ligne-2"})
	require.NoError(t, err)
	assert.Equal(t, 1, saved, "same filename under another contract is a distinct bill")

	bills := m.Bills("acct")
	require.Len(t, bills, 2)
	assert.Equal(t, "ligne-1", bills[0].Record.SubPath)
	assert.Equal(t, "ligne-2", bills[1].Record.SubPath)
}

func TestMemory_Credentials(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	none, err := m.GetCredentials(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, m.SaveCredentials(ctx, schemas.Credentials{Login: "a", Password: "1"}))
	require.NoError(t, m.SaveCredentials(ctx, schemas.Credentials{Login: "b", Password: "2", SessionTag: "t"}))
	require.Error(t, m.SaveCredentials(ctx, schemas.Credentials{}))

	got, err := m.GetCredentials(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "1", got.Password)

	latest, err := m.GetCredentials(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "b", latest.Login)
}

func TestMemory_Identity(t *testing.T) {
	m := NewMemory()
	id := schemas.UserIdentity{Email: "jeanne@example.com"}
	require.NoError(t, m.SaveIdentity(context.Background(), "jeanne@example.com", id))

	got, ok := m.Identity("jeanne@example.com")
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestSaveOptionsKey(t *testing.T) {
	r := schemas.BillRecord{Filename: "f.pdf", Vendor: "sfr"}
	assert.Equal(t, "f.pdf", SaveOptions{}.Key(r))
	assert.Equal(t, "sub/f.pdf", SaveOptions{DedupeKeys: []string{"subPath", "filename"}, SubPath: "sub"}.Key(r))
	r.SubPath = "own"
	assert.Equal(t, "own/f.pdf", SaveOptions{DedupeKeys: []string{"subPath", "filename"}, SubPath: "sub"}.Key(r))
	assert.Equal(t, "sfr/f.pdf", SaveOptions{DedupeKeys: []string{"vendor", "filename"}}.Key(r))
}
