package journal

import (
	"strings"
	"testing"

	"github.com/zeebo/assert"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// dryRun opens a MySQL dialect without a server; statements are only built.
func dryRun(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "user:pass@tcp(127.0.0.1:3306)/comet?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DisableAutomaticPing: true, DryRun: true})
	assert.NoError(t, err)
	return db
}

func TestListQuery(t *testing.T) {
	db := dryRun(t)
	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var out []Record
		return listQuery(tx, Filter{Destination: "alice.near", Outcome: "stranded", Limit: 5}).Find(&out)
	})
	assert.True(t, strings.Contains(sql, "FROM `settlements`"))
	assert.True(t, strings.Contains(sql, "destination = 'alice.near'"))
	assert.True(t, strings.Contains(sql, "outcome = 'stranded'"))
	assert.False(t, strings.Contains(sql, "tx_hash"))
	assert.True(t, strings.Contains(sql, "ORDER BY id DESC LIMIT 5"))
}

func TestUpsertQuery(t *testing.T) {
	db := dryRun(t)
	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return upsert(tx, &Record{TxHash: "tx1", Destination: "alice.near", Outcome: "swapped"})
	})
	assert.True(t, strings.HasPrefix(sql, "INSERT INTO `settlements`"))
	assert.True(t, strings.Contains(sql, "ON DUPLICATE KEY UPDATE"))
	assert.True(t, strings.Contains(sql, "`outcome`=VALUES(`outcome`)"))
}

func TestGormStore_RejectsIncomplete(t *testing.T) {
	s := NewGormStore(dryRun(t))
	assert.Error(t, s.Upsert(t.Context(), &Record{TxHash: "tx1"}))
}
