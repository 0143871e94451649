package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveCapacity(t *testing.T) {
	tbl := Table{Capacity: 4}
	assert.Equal(t, 4, tbl.EffectiveCapacity())

	tbl.ManagerTakesSeat = true
	assert.Equal(t, 3, tbl.EffectiveCapacity())

	// A one-seat table run by a seated manager leaves no member seats.
	tbl.Capacity = 1
	assert.Equal(t, 0, tbl.EffectiveCapacity())

	tbl.Capacity = 0
	assert.Equal(t, 0, tbl.EffectiveCapacity())
}

func TestPartitionKey(t *testing.T) {
	tbl := Table{}
	assert.Equal(t, uint64(0), tbl.PartitionKey())

	id := uint64(7)
	tbl.PartitionID = &id
	assert.Equal(t, uint64(7), tbl.PartitionKey())
}
