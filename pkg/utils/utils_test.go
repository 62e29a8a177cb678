package utils

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func TestStripPort(t *testing.T) {
	assert.Equal(t, "10.0.0.4", StripPort("10.0.0.4:51234"))
	assert.Equal(t, "localhost", StripPort("localhost"))
	assert.Equal(t, "app-01.example.com", StripPort("app-01.example.com:3306"))
	assert.Empty(t, StripPort(""))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "SELECT 1", Truncate("SELECT 1", 25))
	assert.Equal(t, "UPDATE t1 SET a=1 WHERE i", Truncate("UPDATE t1 SET a=1 WHERE id IN (1,2,3)", 25))
	assert.Equal(t, "SELECT *FROM t1", Truncate("SELECT *\nFROM t1", 25))
	assert.Equal(t, "héllo", Truncate("héllo wörld", 5))
}

func TestIsTruthy(t *testing.T) {
	for _, v := range []string{"1", "ON", "on", " On ", "TRUE", "YES"} {
		assert.True(t, IsTruthy(v), v)
	}
	for _, v := range []string{"0", "OFF", "", "no", "2"} {
		assert.False(t, IsTruthy(v), v)
	}
}
