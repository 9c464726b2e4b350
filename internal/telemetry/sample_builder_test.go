package telemetry

import (
	"testing"

	"wisefido-drowsiness/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func TestSampleBuilder_Build(t *testing.T) {
	b := NewSampleBuilder(42)

	s, err := b.Build(SampleInput{
		OffsetMs:      1000,
		EyeOpenness:   81.26,
		Alerting:      true,
		HeartRate:     intPtr(72),
		SteeringAngle: floatPtr(-12.5),
		SteeringForce: floatPtr(19.8),
	})

	require.NoError(t, err)
	assert.Equal(t, int64(42), s.SessionID)
	assert.Equal(t, int64(1000), s.OffsetMs)
	assert.Equal(t, 81.3, s.EyeOpenness)
	assert.Equal(t, 72, s.HeartRate)
	assert.True(t, s.VisualAlert)
	assert.True(t, s.AudibleAlert)
	require.NotNil(t, s.SteeringAngle)
	assert.Equal(t, -12.5, *s.SteeringAngle)
	assert.Equal(t, 19.8, *s.SteeringForce)

	assert.True(t, b.hasLast)
	assert.Equal(t, int64(1000), b.lastOffset)
}

func TestSampleBuilder_OptionalSignalsAbsent(t *testing.T) {
	b := NewSampleBuilder(1)

	s, err := b.Build(SampleInput{OffsetMs: 0, EyeOpenness: 50})

	require.NoError(t, err)
	assert.Equal(t, 0, s.HeartRate)
	assert.Nil(t, s.SteeringAngle)
	assert.Nil(t, s.SteeringForce)
	assert.False(t, s.Alerting())
}

func TestSampleBuilder_RejectsNonIncreasingOffsets(t *testing.T) {
	b := NewSampleBuilder(1)

	_, err := b.Build(SampleInput{OffsetMs: 2000, EyeOpenness: 80})
	require.NoError(t, err)

	_, err = b.Build(SampleInput{OffsetMs: 2000, EyeOpenness: 80})
	assert.ErrorIs(t, err, models.ErrOrderingViolation)

	_, err = b.Build(SampleInput{OffsetMs: 1500, EyeOpenness: 80})
	assert.ErrorIs(t, err, models.ErrOrderingViolation)

	// 被拒绝的采样不会推进 lastOffset
	_, err = b.Build(SampleInput{OffsetMs: 2001, EyeOpenness: 80})
	assert.NoError(t, err)
}

func TestSampleBuilder_RejectsNegativeOffset(t *testing.T) {
	_, err := NewSampleBuilder(1).Build(SampleInput{OffsetMs: -1, EyeOpenness: 80})
	assert.ErrorIs(t, err, models.ErrOrderingViolation)
}

func TestSampleBuilder_ValidatesRanges(t *testing.T) {
	cases := map[string]SampleInput{
		"openness above 100": {OffsetMs: 1, EyeOpenness: 100.5},
		"openness negative":  {OffsetMs: 1, EyeOpenness: -1},
		"heart rate":         {OffsetMs: 1, EyeOpenness: 50, HeartRate: intPtr(400)},
		"steering angle":     {OffsetMs: 1, EyeOpenness: 50, SteeringAngle: floatPtr(541)},
		"steering force":     {OffsetMs: 1, EyeOpenness: 50, SteeringForce: floatPtr(-0.1)},
	}

	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			b := NewSampleBuilder(1)
			_, err := b.Build(in)
			assert.ErrorIs(t, err, models.ErrInvalidSample)
			assert.False(t, b.hasLast)
		})
	}
}
