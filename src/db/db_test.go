package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetMockDB(t *testing.T) {
	gormDB, mock := GetMockDB()

	assert.Equal(t, gormDB.Name(), "postgres")
	assert.Same(t, gormDB, GetDb())
	assert.Nil(t, mock.ExpectationsWereMet())
}
