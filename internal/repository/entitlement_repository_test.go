package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coursemart-api/internal/models"
)

func TestEntitlementExists(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEntitlementRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM course_entitlements WHERE user_id = $1 AND course_id = $2)")).
		WithArgs("u1", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM course_entitlements WHERE user_id = $1 AND course_id = $2)")).
		WithArgs("u1", "c2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := repo.Exists(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Exists(context.Background(), "u1", "c2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntitlementListByUserToleratesDeletedCourses(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEntitlementRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"user_id", "course_id", "purchased_at", "transaction_ref", "course_title", "course_category"}).
		AddRow("u1", "c1", now, "cm_1", "Go", "dev").
		AddRow("u1", "c-gone", now, "cm_0", nil, nil)
	mock.ExpectQuery("FROM course_entitlements e\\s+LEFT JOIN courses c").WithArgs("u1").WillReturnRows(rows)

	owned, err := repo.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, "Go", *owned[0].CourseTitle)
	assert.Nil(t, owned[1].CourseTitle)
	assert.Equal(t, "c-gone", owned[1].CourseID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntitlementRevoke(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEntitlementRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM course_entitlements WHERE user_id = $1 AND course_id = $2 RETURNING")).
		WithArgs("u1", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "course_id", "purchased_at", "transaction_ref"}).AddRow("u1", "c1", now, "cm_1"))
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM course_entitlements WHERE user_id = $1 AND course_id = $2 RETURNING")).
		WithArgs("u1", "c1").
		WillReturnError(sql.ErrNoRows)

	ent, err := repo.Revoke(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "cm_1", ent.TransactionRef)

	_, err = repo.Revoke(context.Background(), "u1", "c1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionListFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTransactionRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"ref", "course_id", "user_id", "amount", "currency", "status", "created_at", "course_title"}).
		AddRow("cm_1", "c-gone", "u1", 10.0, "USD", "successful", now, nil)
	base := "FROM transactions t LEFT JOIN courses c ON c.id = t.course_id WHERE 1=1 AND t.user_id = $1 AND t.status = $2"
	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+transactionViewColumns+" "+base+" ORDER BY t.created_at DESC, t.ref LIMIT 20 OFFSET 0")).
		WithArgs("u1", "successful").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) "+base)).
		WithArgs("u1", "successful").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	txns, total, err := repo.List(context.Background(), models.TransactionFilter{UserID: "u1", Status: "SUCCESSFUL"})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Nil(t, txns[0].CourseTitle)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResourceListByCourse(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewResourceRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "course_id", "title", "description", "storage_uri", "file_name", "content_type", "size_bytes", "created_by", "created_at", "updated_at"}).
		AddRow("r1", "c1", "Slides", "", "local://resources/2024/05/ab-slides.pdf", "slides.pdf", "application/pdf", 1024, "admin", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + resourceColumns + " FROM resources WHERE 1=1 AND course_id = $1 ORDER BY created_at DESC, id LIMIT 20 OFFSET 0")).
		WithArgs("c1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM resources WHERE 1=1 AND course_id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	resources, total, err := repo.List(context.Background(), models.ResourceFilter{CourseID: "c1"})
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "c1", *resources[0].CourseID)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheRepositoryWithoutRedis(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	var dest map[string]string

	assert.False(t, repo.Enabled())
	assert.Error(t, repo.Get(context.Background(), "k", &dest))
	assert.NoError(t, repo.Set(context.Background(), "k", "v", time.Minute))
	assert.NoError(t, repo.DeleteByPattern(context.Background(), "k*"))
	assert.NoError(t, repo.Ping(context.Background()))
	assert.NoError(t, repo.Close())
}
