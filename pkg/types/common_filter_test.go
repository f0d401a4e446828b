package types

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type filterRow struct {
	ID      string
	Status  string
	Created time.Time
	Paid    *time.Time
}

func dryRun(t *testing.T, w FiltersAnd) (string, []any) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{DryRun: true})
	require.NoError(t, err)
	stmt := db.Model(&filterRow{}).Where(clause.Where{Exprs: []clause.Expression{w}}).Find(&[]filterRow{}).Statement
	return stmt.SQL.String(), stmt.Vars
}

func TestFiltersAnd_SkipsEmptyFilters(t *testing.T) {
	sql, vars := dryRun(t, FiltersAnd{
		nil,
		NewFilter("status", CommonFilterOperatorIn),
		NewFilter("created", CommonFilterOperatorDateRange, nil, nil),
	})
	require.Contains(t, sql, "1=1")
	require.Empty(t, vars)
}

func TestFiltersAnd_BuildsConditions(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sql, vars := dryRun(t, FiltersAnd{
		NewFilter("status", CommonFilterOperatorIn, "paid", "completed"),
		NewFilter("id", CommonFilterOperatorLike, "abc"),
		NewFilter("created", CommonFilterOperatorDateRange, from, nil),
		NewFilter("paid", CommonFilterOperatorNotNull),
	})
	require.Contains(t, sql, "`status` IN (?,?)")
	require.Contains(t, sql, "`id` LIKE ?")
	require.Contains(t, sql, "`created` >= ?")
	require.Contains(t, sql, "`paid` IS NOT NULL")
	require.Equal(t, []any{"paid", "completed", "%abc%", from}, vars)
}
