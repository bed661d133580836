package database

import (
	"testing"

	"ca-indexer/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.DatabaseConfig
		expect []string
	}{
		{
			name:   "individual settings without password",
			cfg:    config.DatabaseConfig{Host: "db", Port: "5432", User: "ca", DBName: "cabildo", SSLMode: "disable"},
			expect: []string{"host=db", "port=5432", "user=ca", "dbname=cabildo", "sslmode=disable"},
		},
		{
			name:   "password appended",
			cfg:    config.DatabaseConfig{Host: "db", Port: "5432", User: "ca", Password: "s3cret", DBName: "cabildo", SSLMode: "disable"},
			expect: []string{"password=s3cret"},
		},
		{
			name:   "url",
			cfg:    config.DatabaseConfig{URL: "postgres://ca:pw@db.internal:6543/cabildo?sslmode=require", Host: "ignored"},
			expect: []string{"host='db.internal'", "port='6543'", "user='ca'", "password='pw'", "dbname='cabildo'", "sslmode='require'"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := DSN(tt.cfg)
			require.NoError(t, err)
			for _, part := range tt.expect {
				assert.Contains(t, dsn, part)
			}
		})
	}

	_, err := DSN(config.DatabaseConfig{URL: "mysql://nope"})
	assert.Error(t, err)
}

func TestMigrate(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, Migrate(db))
	for _, table := range []string{"users", "records", "contents", "posts", "reactions", "topic_interactions", "jobs"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}

	assert.Error(t, Migrate(nil))
}

func TestMigrateColumnNames(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	columns := map[string][]string{
		"records":   {"cid", "rkey"},
		"contents":  {"cid", "text_blob_cid"},
		"users":     {"did", "avatar_cid", "banner_cid", "in_ca"},
		"posts":     {"reply_to_cid", "root_cid", "quote_to_cid"},
		"reactions": {"subject_cid"},
		"datasets":  {"data_blob_cid"},
		"follows":   {"subject_did"},
	}
	for table, names := range columns {
		for _, name := range names {
			assert.True(t, db.Migrator().HasColumn(table, name), "%s.%s", table, name)
		}
	}
	assert.False(t, db.Migrator().HasColumn("records", "c_id"))
	assert.False(t, db.Migrator().HasColumn("users", "d_id"))
}
