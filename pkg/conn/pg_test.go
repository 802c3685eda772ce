package conn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptionDSN(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
		want string
	}{
		{
			name: "defaults",
			opt:  Option{},
			want: "sslmode=disable",
		},
		{
			name: "full",
			opt: Option{
				Host:     "db",
				Port:     6432,
				User:     "hft",
				Password: "secret",
				Database: "cache",
				SSLMode:  "require",
			},
			want: "dbname=cache host=db password=secret port=6432 sslmode=require user=hft",
		},
		{
			name: "quoted password",
			opt:  Option{Host: "db", Password: `it's a \secret`},
			want: `host=db password='it\'s a \\secret' sslmode=disable`,
		},
		{
			name: "conn string wins",
			opt:  Option{ConnString: "postgres://db/hft", Host: "ignored"},
			want: "postgres://db/hft",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.opt.dsn())
		})
	}
}

func TestOptionIsZero(t *testing.T) {
	assert.True(t, Option{}.IsZero())
	assert.True(t, Option{SSLMode: "require", MaxOpenConns: 4}.IsZero())
	assert.False(t, Option{Host: "db"}.IsZero())
	assert.False(t, Option{ConnString: "postgres://db"}.IsZero())
}

func TestNilClient(t *testing.T) {
	var c *Client
	assert.Nil(t, c.DB())
	assert.NoError(t, c.Close())
}
