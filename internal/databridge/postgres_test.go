// internal/databridge/postgres_test.go
package databridge

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/scraperflow/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

const viewPattern = `"scraperflow_view_[0-9a-f]+"`

var peopleDecl = schemas.DataSourceDeclaration{SourceTableName: "people", SourceAlias: "p"}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return mockPool
}

func TestOpen(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool := newMockPool(t)
		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err := Open(context.Background(), mockPool, nil, nil, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should reject an iterator over an undeclared source", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectPing()

		_, err := Open(context.Background(), mockPool, []schemas.DataSourceDeclaration{peopleDecl},
			schemas.EntireSetIterator{DataSourceName: "ghost"}, zap.NewNop())
		assert.ErrorIs(t, err, ErrUnknownSource)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should create and drop a view for a filtered source", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectPing()
		mockPool.ExpectExec(`CREATE VIEW ` + viewPattern + ` AS SELECT \* FROM "people" WHERE "age" >= 18 AND "name" LIKE 'O''%'`).
			WillReturnResult(pgxmock.NewResult("CREATE VIEW", 0))
		mockPool.ExpectExec(`DROP VIEW IF EXISTS ` + viewPattern).
			WillReturnResult(pgxmock.NewResult("DROP VIEW", 0))

		decl := peopleDecl
		decl.Filter = schemas.Filter{
			{Column: "age", Operator: schemas.OpGreaterEqual, Value: float64(18)},
			{Column: "name", Operator: schemas.OpLike, Value: "O'%"},
		}
		b, err := Open(context.Background(), mockPool, []schemas.DataSourceDeclaration{decl}, nil, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, b.Close(context.Background()))
		require.NoError(t, b.Close(context.Background()), "second close is a no-op")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should drop created views when binding fails", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectPing()
		mockPool.ExpectExec(`CREATE VIEW ` + viewPattern).WillReturnResult(pgxmock.NewResult("CREATE VIEW", 0))
		mockPool.ExpectQuery(`SELECT count\(\*\) FROM ` + viewPattern).WillReturnError(errors.New("boom"))
		mockPool.ExpectExec(`DROP VIEW IF EXISTS ` + viewPattern).WillReturnResult(pgxmock.NewResult("DROP VIEW", 0))

		it := schemas.FilteredSetIterator{
			DataSourceName: "p",
			Filter:         schemas.Filter{{Column: "done", Operator: schemas.OpIsNull}},
		}
		_, err := Open(context.Background(), mockPool, []schemas.DataSourceDeclaration{peopleDecl}, it, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to count rows")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresBridge_GetSet(t *testing.T) {
	ctx := context.Background()

	t.Run("get reads the row under the cursor", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectPing()
		mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT "name" FROM "people" ORDER BY "id" LIMIT 1 OFFSET $1`)).
			WithArgs(0).
			WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("Ada"))

		b, err := Open(ctx, mockPool, []schemas.DataSourceDeclaration{peopleDecl}, nil, zap.NewNop())
		require.NoError(t, err)

		v, err := b.Get(ctx, "p.name")
		require.NoError(t, err)
		assert.Equal(t, "Ada", v)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("get on an empty relation is nil", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectPing()
		mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT "name" FROM "people"`)).
			WithArgs(0).
			WillReturnRows(pgxmock.NewRows([]string{"name"}))

		b, err := Open(ctx, mockPool, []schemas.DataSourceDeclaration{peopleDecl}, nil, zap.NewNop())
		require.NoError(t, err)
		v, err := b.Get(ctx, "p.name")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("get rejects bad keys and unknown sources", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectPing()
		b, err := Open(ctx, mockPool, []schemas.DataSourceDeclaration{peopleDecl}, nil, zap.NewNop())
		require.NoError(t, err)

		_, err = b.Get(ctx, "nodot")
		assert.ErrorIs(t, err, ErrInvalidKey)
		_, err = b.Get(ctx, "q.name")
		assert.ErrorIs(t, err, ErrUnknownSource)
	})

	t.Run("set updates the row under the cursor", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectPing()
		mockPool.ExpectExec(flexibleSQLMatcher(`UPDATE "people" SET "name" = $1 WHERE "id" = (SELECT "id" FROM "people" ORDER BY "id" LIMIT 1 OFFSET $2)`)).
			WithArgs("Grace", 0).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		b, err := Open(ctx, mockPool, []schemas.DataSourceDeclaration{peopleDecl}, nil, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, b.Set(ctx, "p.name", "Grace"))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("setMany inserts when no row is under the cursor", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectPing()
		mockPool.ExpectExec(flexibleSQLMatcher(`UPDATE "people" SET "name" = $1, "age" = $2 WHERE "id" =`)).
			WithArgs("Grace", float64(85), 0).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mockPool.ExpectExec(flexibleSQLMatcher(`INSERT INTO "people" ("name", "age") VALUES ($1, $2)`)).
			WithArgs("Grace", float64(85)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		b, err := Open(ctx, mockPool, []schemas.DataSourceDeclaration{peopleDecl}, nil, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, b.SetMany(ctx, "p", []Column{{Name: "name", Value: "Grace"}, {Name: "age", Value: float64(85)}}))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresBridge_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("refuses without a bound iterator", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectPing()
		core, logs := observer.New(zapcore.ErrorLevel)

		b, err := Open(ctx, mockPool, []schemas.DataSourceDeclaration{peopleDecl}, nil, zap.New(core))
		require.NoError(t, err)
		require.NoError(t, b.Delete(ctx, "p"))

		assert.Equal(t, 1, logs.Len(), "exactly one error is logged")
		assert.NoError(t, mockPool.ExpectationsWereMet(), "no statement reaches the database")
	})

	t.Run("delete under an entire set holds the position", func(t *testing.T) {
		mockPool := newMockPool(t)
		mockPool.ExpectPing()
		mockPool.ExpectQuery(`SELECT count\(\*\) FROM "people"`).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
		deleteSQL := flexibleSQLMatcher(`DELETE FROM "people" WHERE "id" = (SELECT "id" FROM "people" ORDER BY "id" LIMIT 1 OFFSET $1)`)
		mockPool.ExpectExec(deleteSQL).WithArgs(0).WillReturnResult(pgxmock.NewResult("DELETE", 1))

		b, err := Open(ctx, mockPool, []schemas.DataSourceDeclaration{peopleDecl},
			schemas.EntireSetIterator{DataSourceName: "p"}, zap.NewNop())
		require.NoError(t, err)

		require.NoError(t, b.Delete(ctx, "p"))
		b.NextIteration()
		assert.Equal(t, 0, b.cursor.offset("p"), "the successor moved into place")
		assert.False(t, b.IsLastIteration())
		b.NextIteration()
		assert.Equal(t, 1, b.cursor.offset("p"))
		assert.True(t, b.IsLastIteration())
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresBridge_Iteration(t *testing.T) {
	mockPool := newMockPool(t)
	mockPool.ExpectPing()
	mockPool.ExpectQuery(`SELECT count\(\*\) FROM "people"`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(4)))

	b, err := Open(context.Background(), mockPool, []schemas.DataSourceDeclaration{peopleDecl},
		schemas.EntireSetIterator{DataSourceName: "p"}, zap.NewNop())
	require.NoError(t, err)

	advances := 0
	for !b.IsLastIteration() {
		b.NextIteration()
		advances++
	}
	assert.Equal(t, 3, advances, "N rows take N-1 advances")
	b.NextIteration()
	assert.Equal(t, 3, b.cursor.offset("p"), "advancing past the end is a no-op")
}

func TestPostgresBridge_GetSchema(t *testing.T) {
	mockPool := newMockPool(t)
	mockPool.ExpectPing()
	mockPool.ExpectQuery(flexibleSQLMatcher(`SELECT column_name, data_type FROM information_schema.columns WHERE table_name = $1 AND table_schema = COALESCE(NULLIF($2::text, ''), current_schema())`)).
		WithArgs("people", "").
		WillReturnRows(pgxmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("id", "integer").
			AddRow("name", "text"))

	b, err := Open(context.Background(), mockPool, []schemas.DataSourceDeclaration{peopleDecl}, nil, zap.NewNop())
	require.NoError(t, err)

	schema, err := b.GetSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Schema{"p.id": "integer", "p.name": "text"}, schema)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestBuildPredicate(t *testing.T) {
	where, err := buildPredicate(schemas.Filter{
		{Column: "status", Operator: schemas.OpNotEqual, Value: "done"},
		{Column: "deleted_at", Operator: schemas.OpIsNull},
		{Column: "vip", Operator: schemas.OpEqual, Value: true},
	})
	require.NoError(t, err)
	assert.Equal(t, `"status" <> 'done' AND "deleted_at" IS NULL AND "vip" = TRUE`, where)

	_, err = buildPredicate(schemas.Filter{{Column: "a", Operator: "~"}})
	assert.Error(t, err)

	_, err = buildPredicate(schemas.Filter{{Column: "a", Operator: schemas.OpEqual, Value: "x\x00"}})
	assert.Error(t, err)
}

func TestQuoteLiteral_NonFiniteFloats(t *testing.T) {
	tests := map[string]struct {
		value float64
		want  string
	}{
		"nan":          {math.NaN(), `'NaN'::float8`},
		"positive inf": {math.Inf(1), `'Infinity'::float8`},
		"negative inf": {math.Inf(-1), `'-Infinity'::float8`},
		"finite":       {-2.5, `-2.5`},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := quoteLiteral(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	where, err := buildPredicate(schemas.Filter{{Column: "score", Operator: schemas.OpLess, Value: math.Inf(1)}})
	require.NoError(t, err)
	assert.Equal(t, `"score" < 'Infinity'::float8`, where)
}

func TestPostgresBridge_GetSchemaQualified(t *testing.T) {
	mockPool := newMockPool(t)
	mockPool.ExpectPing()
	mockPool.ExpectQuery(`FROM information_schema.columns`).
		WithArgs("people", "crm").
		WillReturnRows(pgxmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("id", "bigint"))

	decl := schemas.DataSourceDeclaration{SourceTableName: "crm.people", SourceAlias: "p"}
	b, err := Open(context.Background(), mockPool, []schemas.DataSourceDeclaration{decl}, nil, zap.NewNop())
	require.NoError(t, err)

	schema, err := b.GetSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Schema{"p.id": "bigint"}, schema)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
