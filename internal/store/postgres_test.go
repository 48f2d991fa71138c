package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T, logger *zap.Logger) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func sampleBills() []schemas.BillRecord {
	return []schemas.BillRecord{
		{
			Amount: 42.5, Currency: "EUR", Date: civil.Date{Year: 2023, Month: 5, Day: 10},
			Filename: "2023-05-10_sfr_42.5EUR.pdf", Vendor: schemas.Vendor,
			FileURL: "https://espace-client.sfr.fr/facture/1.pdf",
		},
		{
			Amount: 42.5, Currency: "EUR", Date: civil.Date{Year: 2023, Month: 5, Day: 10},
			Filename: "2023-05-10_sfr_42.5EUR_detailed.pdf", Vendor: schemas.Vendor, IsDetailed: true,
			FileURL: "https://espace-client.sfr.fr/facture/1-detail.pdf",
		},
	}
}

func TestNew(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestMigrate(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	mockPool.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS credentials")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveBills(t *testing.T) {
	ctx := context.Background()
	opts := SaveOptions{
		DedupeKeys:         []string{"subPath", "filename"},
		ContentType:        "application/pdf",
		QualificationLabel: "phone_invoice",
		SubPath:            "06 12 34 56 78",
	}

	t.Run("should insert new bills and skip known dedupe keys", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newMockStore(t, zap.New(observedZapCore))
		bills := sampleBills()

		mockPool.ExpectBegin()
		batchExp := mockPool.ExpectBatch()
		batchExp.ExpectExec(flexibleSQLMatcher(sqlInsertBill)).
			WithArgs("jeanne@example.com", "06 12 34 56 78/"+bills[0].Filename, "06 12 34 56 78", bills[0].Filename,
				pgxmock.AnyArg(), "application/pdf", "phone_invoice", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		batchExp.ExpectExec(flexibleSQLMatcher(sqlInsertBill)).
			WithArgs("jeanne@example.com", "06 12 34 56 78/"+bills[1].Filename, "06 12 34 56 78", bills[1].Filename,
				pgxmock.AnyArg(), "application/pdf", "phone_invoice", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		saved, err := s.SaveBills(ctx, "jeanne@example.com", bills, opts)
		require.NoError(t, err)
		assert.Equal(t, 1, saved)
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should not open a transaction for an empty batch", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())

		saved, err := s.SaveBills(ctx, "jeanne@example.com", nil, opts)
		require.NoError(t, err)
		assert.Zero(t, saved)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should handle transaction begin failure", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())

		beginErr := errors.New("cannot begin tx")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		_, err := s.SaveBills(ctx, "jeanne@example.com", sampleBills(), opts)
		require.Error(t, err)
		assert.ErrorIs(t, err, beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should rollback if an insert fails", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		bills := sampleBills()[:1]
		insertErr := errors.New("insert failed")

		mockPool.ExpectBegin()
		batchExp := mockPool.ExpectBatch()
		batchExp.ExpectExec(flexibleSQLMatcher(sqlInsertBill)).
			WithArgs("jeanne@example.com", "06 12 34 56 78/"+bills[0].Filename, "06 12 34 56 78", bills[0].Filename,
				pgxmock.AnyArg(), "application/pdf", "phone_invoice", pgxmock.AnyArg()).
			WillReturnError(insertErr)
		mockPool.ExpectRollback()

		_, err := s.SaveBills(ctx, "jeanne@example.com", bills, opts)
		require.Error(t, err)
		assert.ErrorIs(t, err, insertErr)
		assert.Contains(t, err.Error(), bills[0].Filename)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestCredentials(t *testing.T) {
	ctx := context.Background()
	columns := []string{"login", "password", "session_tag"}

	t.Run("should upsert credentials", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertCredentials)).
			WithArgs("0612345678", "secret", "tag-1", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := s.SaveCredentials(ctx, schemas.Credentials{Login: "0612345678", Password: "secret", SessionTag: "tag-1"})
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should refuse credentials without login", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		require.Error(t, s.SaveCredentials(ctx, schemas.Credentials{Password: "secret"}))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should return stored credentials", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectCredentials)).
			WithArgs("0612345678").
			WillReturnRows(pgxmock.NewRows(columns).AddRow("0612345678", "secret", "tag-1"))

		creds, err := s.GetCredentials(ctx, "0612345678")
		require.NoError(t, err)
		require.NotNil(t, creds)
		assert.Equal(t, schemas.Credentials{Login: "0612345678", Password: "secret", SessionTag: "tag-1"}, *creds)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should return nil when nothing is stored", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectCredentials)).
			WithArgs("").
			WillReturnRows(pgxmock.NewRows(columns))

		creds, err := s.GetCredentials(ctx, "")
		require.NoError(t, err)
		assert.Nil(t, creds)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestSaveIdentity(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	identity := schemas.UserIdentity{
		Email: "jeanne@example.com",
		Name:  schemas.PersonName{GivenName: "Jeanne", FamilyName: "Dupont", FullName: "Jeanne Dupont"},
	}
	doc, err := json.Marshal(identity)
	require.NoError(t, err)

	mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertIdentity)).
		WithArgs("jeanne@example.com", doc, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveIdentity(context.Background(), "jeanne@example.com", identity))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
