package estimate

import (
	"errors"
	"strings"
	"testing"

	"omniavatar/server/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateGenerationTime(t *testing.T) {
	assert.Equal(t, 90, EstimateGenerationTime(MethodPhoto, "realistic"))
	assert.Equal(t, 90, EstimateGenerationTime(MethodText, "casual"))
	assert.Equal(t, 60, EstimateGenerationTime(MethodPhoto, "anime"))
	assert.Equal(t, 135, EstimateGenerationTime(MethodText, "realistic"))
	assert.Equal(t, MethodPhoto, MethodFor(model.MethodPhotoUpload))
	assert.Equal(t, MethodText, MethodFor(model.MethodTextDescription))
}

func TestEstimateVideoDuration(t *testing.T) {
	assert.Equal(t, 0, EstimateVideoDuration("", DefaultWordsPerMinute))
	assert.Equal(t, 0, EstimateVideoDuration("   \n\t ", DefaultWordsPerMinute))
	assert.Equal(t, 1, EstimateVideoDuration("hello", DefaultWordsPerMinute))
	assert.Equal(t, 60, EstimateVideoDuration(strings.Repeat("word ", 150), DefaultWordsPerMinute))
	assert.Equal(t, 61, EstimateVideoDuration(strings.Repeat("word ", 151), 0))
	assert.Equal(t, 2, EstimateVideoDuration("one two", 60))

	prev := 0
	for words := 0; words <= 400; words++ {
		got := EstimateVideoDuration(strings.Repeat("w ", words), DefaultWordsPerMinute)
		require.GreaterOrEqual(t, got, prev, "duration must not decrease at %d words", words)
		prev = got
	}
}

func TestCalculateVideoCredits(t *testing.T) {
	cases := []struct {
		quality  string
		duration int
		want     int
	}{
		{"hd", 30, 2},
		{"hd", 60, 2},
		{"hd", 61, 4},
		{"hd", 90, 4},
		{"hd", 121, 6},
		{"sd", 600, 10},
		{"4k", 180, 15},
		{"HD", 30, 2},
		{"8k", 900, 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CalculateVideoCredits(tc.quality, tc.duration), "%s/%ds", tc.quality, tc.duration)
	}
}

func TestEstimatedRenderTime(t *testing.T) {
	assert.Equal(t, 120, EstimatedRenderTime("sd", 30))
	assert.Equal(t, 180, EstimatedRenderTime("hd", 60))
	assert.Equal(t, 270, EstimatedRenderTime("hd", 90))
	assert.Equal(t, 720, EstimatedRenderTime("4k", 120))
	assert.Equal(t, 120, EstimatedRenderTime("unknown", 10))
}

func TestFormatVideoDuration(t *testing.T) {
	assert.Equal(t, "0:00", FormatVideoDuration(0))
	assert.Equal(t, "1:05", FormatVideoDuration(65))
	assert.Equal(t, "10:00", FormatVideoDuration(600))
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	return verr.Kind
}

func TestValidateVideoScript(t *testing.T) {
	assert.Equal(t, EmptyScript, kindOf(t, ValidateVideoScript("")))
	assert.Equal(t, EmptyScript, kindOf(t, ValidateVideoScript("   ")))
	assert.Equal(t, TooShort, kindOf(t, ValidateVideoScript("abcdefghi")))
	assert.Equal(t, TooLong, kindOf(t, ValidateVideoScript(strings.Repeat("a ", 5500))))
	assert.Equal(t, TooFewWords, kindOf(t, ValidateVideoScript("one two three four")))

	ok := "alpha beta gam de ep"
	require.Len(t, ok, 20)
	assert.NoError(t, ValidateVideoScript(ok))
}

func TestValidateImageFile(t *testing.T) {
	assert.Equal(t, TooLarge, kindOf(t, ValidateImageFile("image/png", 11<<20)))
	assert.Equal(t, InvalidType, kindOf(t, ValidateImageFile("text/plain", 1<<20)))
	assert.NoError(t, ValidateImageFile("image/png", 1<<20))
	assert.NoError(t, ValidateImageFile("image/jpeg", MaxImageBytes))
}

func TestValidateVoiceSettings(t *testing.T) {
	assert.NoError(t, ValidateVoiceSettings(model.VoiceSettings{VoiceID: "voice_british_male", Speed: 1, Pitch: 1}))
	assert.Equal(t, UnknownVoice, kindOf(t, ValidateVoiceSettings(model.VoiceSettings{VoiceID: "nope", Speed: 1, Pitch: 1})))
	assert.Equal(t, InvalidSpeed, kindOf(t, ValidateVoiceSettings(model.VoiceSettings{VoiceID: "voice_british_male", Speed: 2.5, Pitch: 1})))
	assert.Equal(t, InvalidPitch, kindOf(t, ValidateVoiceSettings(model.VoiceSettings{VoiceID: "voice_british_male", Speed: 1, Pitch: 0.1})))
}

func TestValidateDuration(t *testing.T) {
	assert.NoError(t, ValidateDuration("4k", 180))
	assert.Equal(t, DurationTooLong, kindOf(t, ValidateDuration("4k", 181)))
	assert.Equal(t, UnknownQuality, kindOf(t, ValidateDuration("8k", 10)))
	assert.NoError(t, ValidateAvatarStyle("realistic"))
	assert.Equal(t, UnknownStyle, kindOf(t, ValidateAvatarStyle("baroque")))
}
