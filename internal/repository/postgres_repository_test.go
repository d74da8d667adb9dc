package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tempizhere/shortenurl/internal/models"
	"go.uber.org/zap"
)

var negotiationRowColumns = []string{"id", "role", "state", "connection_id", "thread_id", "original_url",
	"shorten_strategy", "short_url_slug", "shortened_url", "expires_at", "created_at", "updated_at"}

func newPostgresMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err, "Failed to create sqlmock")
	t.Cleanup(func() { db.Close() })

	repo, err := NewPostgresRepository(db, zap.NewNop())
	require.NoError(t, err)
	return repo, mock
}

func TestNewPostgresRepository_NilDatabase(t *testing.T) {
	repo, err := NewPostgresRepository(nil, zap.NewNop())
	assert.Error(t, err)
	assert.Nil(t, repo)
}

func TestPostgresRepository_Save(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := testRecord("r1", models.RoleShortener, created)
	rec.ShortURLSlug = "promo"

	tests := []struct {
		name        string
		dbErr       error
		expectedErr error
	}{
		{name: "Save success"},
		{name: "Save duplicate", dbErr: &pgconn.PgError{Code: "23505"}, expectedErr: ErrRecordExists},
		{name: "Save slug taken", dbErr: &pgconn.PgError{Code: "23505", ConstraintName: "negotiations_slug_idx"}, expectedErr: ErrInUse},
		{name: "Save error", dbErr: errors.New("db error"), expectedErr: errors.New("db error")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newPostgresMock(t)
			exp := mock.ExpectExec("INSERT INTO negotiations").
				WithArgs("r1", "url-shortener", "request-received", "conn-1", "thread-r1", "https://example.com/r1",
					"shorten", "promo", nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg())
			if tt.dbErr != nil {
				exp.WillReturnError(tt.dbErr)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(1, 1))
			}

			err := repo.Save(ctx, rec)
			if tt.expectedErr != nil {
				assert.EqualError(t, err, tt.expectedErr.Error())
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresRepository_Update(t *testing.T) {
	ctx := context.Background()
	rec := testRecord("r1", models.RoleShortener, time.Now())
	rec.State = models.StateShortenedURLSent

	t.Run("updated", func(t *testing.T) {
		repo, mock := newPostgresMock(t)
		mock.ExpectExec("UPDATE negotiations SET state").
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, repo.Update(ctx, rec))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		repo, mock := newPostgresMock(t)
		mock.ExpectExec("UPDATE negotiations SET state").
			WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, repo.Update(ctx, rec), ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("shortened url taken", func(t *testing.T) {
		repo, mock := newPostgresMock(t)
		mock.ExpectExec("UPDATE negotiations SET state").
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "negotiations_shortened_url_idx"})
		assert.ErrorIs(t, repo.Update(ctx, rec), ErrInUse)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	expires := created.Add(time.Hour)

	t.Run("found", func(t *testing.T) {
		repo, mock := newPostgresMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM negotiations WHERE id = $1")).
			WithArgs("r1").
			WillReturnRows(sqlmock.NewRows(negotiationRowColumns).AddRow(
				"r1", "url-shortener", "shortened-url-sent", "conn-1", "thread-1", "https://example.com",
				"shorten.oobv1", nil, "https://s.example/x", expires, created, created))

		got, err := repo.GetByID(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, models.RoleShortener, got.Role)
		assert.Equal(t, models.StateShortenedURLSent, got.State)
		assert.Equal(t, models.GoalShortenOobV1, got.ShortenStrategy)
		assert.Empty(t, got.ShortURLSlug)
		assert.Equal(t, "https://s.example/x", got.ShortenedURL)
		require.NotNil(t, got.ExpiresAt)
		assert.True(t, expires.Equal(*got.ExpiresAt))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock := newPostgresMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM negotiations WHERE id = $1")).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresRepository_FindUnique(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	row := func(id string) []driver.Value {
		return []driver.Value{id, "url-shortener", "shortened-url-sent", "c", "t", "https://example.com",
			"shorten", "promo", nil, nil, now, now}
	}

	tests := []struct {
		name        string
		rows        [][]driver.Value
		expectedErr error
	}{
		{name: "single", rows: [][]driver.Value{row("a")}},
		{name: "none", expectedErr: ErrNotFound},
		{name: "ambiguous", rows: [][]driver.Value{row("a"), row("b")}, expectedErr: ErrNotUnique},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newPostgresMock(t)
			rows := sqlmock.NewRows(negotiationRowColumns)
			for _, r := range tt.rows {
				rows.AddRow(r...)
			}
			mock.ExpectQuery(regexp.QuoteMeta("WHERE role = $1 AND short_url_slug = $2 LIMIT 2")).
				WithArgs("url-shortener", "promo").
				WillReturnRows(rows)

			got, err := repo.FindUnique(ctx, models.Query{Role: models.RoleShortener, ShortURLSlug: "promo"})
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "a", got.ID)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("empty query", func(t *testing.T) {
		repo, mock := newPostgresMock(t)
		_, err := repo.FindUnique(ctx, models.Query{})
		assert.ErrorIs(t, err, ErrEmptyQuery)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresRepository_GetAll(t *testing.T) {
	repo, mock := newPostgresMock(t)
	now := time.Now()
	mock.ExpectQuery("ORDER BY created_at, id").
		WillReturnRows(sqlmock.NewRows(negotiationRowColumns).
			AddRow("a", "long-url-provider", "request-sent", "c", "t1", "https://a", "shorten", nil, nil, nil, now, now).
			AddRow("b", "long-url-provider", "request-sent", "c", "t2", "https://b", "shorten", nil, nil, nil, now, now))

	all, err := repo.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_DeleteByID(t *testing.T) {
	ctx := context.Background()

	repo, mock := newPostgresMock(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM negotiations WHERE id = $1")).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM negotiations WHERE id = $1")).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.DeleteByID(ctx, "r1"))
	assert.ErrorIs(t, repo.DeleteByID(ctx, "r1"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_Messages(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	repo, mock := newPostgresMock(t)
	mock.ExpectExec("INSERT INTO negotiation_messages").
		WithArgs("r1", "t", "receiver", []byte(`{"a":1}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FROM negotiation_messages").
		WithArgs("r1", "t").
		WillReturnRows(sqlmock.NewRows([]string{"record_id", "message_type", "role", "payload", "created_at"}).
			AddRow("r1", "t", "receiver", []byte(`{"a":1}`), now))
	mock.ExpectQuery("FROM negotiation_messages").
		WithArgs("r1", "other").
		WillReturnError(sql.ErrNoRows)

	require.NoError(t, repo.SaveMessage(ctx, models.StoredMessage{RecordID: "r1", MessageType: "t",
		Role: models.MessageReceiver, Payload: []byte(`{"a":1}`), CreatedAt: now}))

	msg, err := repo.GetMessage(ctx, "r1", "t")
	require.NoError(t, err)
	assert.Equal(t, models.MessageReceiver, msg.Role)
	assert.JSONEq(t, `{"a":1}`, string(msg.Payload))

	_, err = repo.GetMessage(ctx, "r1", "other")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_Clear(t *testing.T) {
	repo, mock := newPostgresMock(t)
	mock.ExpectExec("TRUNCATE TABLE negotiation_messages, negotiations RESTART IDENTITY").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.Clear(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
