package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance_ZeroForIdenticalPoints(t *testing.T) {
	points := [][2]float64{
		{0, 0},
		{41.3874, 2.1686},
		{-33.8688, 151.2093},
		{89.9, -179.9},
	}
	for _, p := range points {
		assert.Equal(t, 0.0, Distance(p[0], p[1], p[0], p[1]))
	}
}

func TestDistance_Symmetric(t *testing.T) {
	pairs := [][4]float64{
		{41.3874, 2.1686, 40.4168, -3.7038}, // Barcelona - Madrid
		{0, 0, 0, 1},
		{-10, 20, 30, -40},
	}
	for _, p := range pairs {
		assert.Equal(t, Distance(p[0], p[1], p[2], p[3]), Distance(p[2], p[3], p[0], p[1]))
	}
}

func TestDistance_KnownValues(t *testing.T) {
	// One degree of longitude on the equator: R * pi/180.
	assert.InDelta(t, 111194.9, Distance(0, 0, 0, 1), 1.0)

	// Equator to pole: a quarter of the great circle.
	assert.InDelta(t, 10007543.4, Distance(0, 0, 90, 0), 1.0)

	// Antipodal points: half the circumference.
	assert.InDelta(t, 20015086.8, Distance(0, 0, 0, 180), 1.0)
}
