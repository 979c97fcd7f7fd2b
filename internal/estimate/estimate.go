// Package estimate holds the deterministic cost, duration and validation
// rules applied to avatar and video generation requests.
package estimate

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"omniavatar/server/internal/catalog"
	"omniavatar/server/internal/model"
)

const (
	DefaultWordsPerMinute = 150

	photoBaseSeconds     = 60
	textBaseSeconds      = 90
	realisticMultiplier  = 1.5
	renderBaseSeconds    = 120
	includedVideoSeconds = 60

	MinScriptChars = 10
	MaxScriptChars = 10000
	MinScriptWords = 5
	MaxImageBytes  = 10 << 20

	MinVoiceRate = 0.5
	MaxVoiceRate = 2.0

	// AvatarCredits is charged for every avatar generation.
	AvatarCredits = 1
)

type Method string

const (
	MethodPhoto Method = "photo"
	MethodText  Method = "text"
)

func MethodFor(m model.AvatarMethod) Method {
	if m == model.MethodPhotoUpload {
		return MethodPhoto
	}
	return MethodText
}

// EstimateGenerationTime returns the expected avatar generation time in seconds.
func EstimateGenerationTime(method Method, style string) int {
	base := float64(textBaseSeconds)
	if method == MethodPhoto {
		base = photoBaseSeconds
	}
	multiplier := 1.0
	if style == "realistic" {
		multiplier = realisticMultiplier
	}
	return int(math.Round(base * multiplier))
}

// WordCount counts whitespace separated tokens.
func WordCount(script string) int {
	return len(strings.Fields(script))
}

// EstimateVideoDuration returns the spoken length of script in seconds,
// rounded up. A non-positive wordsPerMinute falls back to the default.
func EstimateVideoDuration(script string, wordsPerMinute int) int {
	if wordsPerMinute <= 0 {
		wordsPerMinute = DefaultWordsPerMinute
	}
	words := WordCount(script)
	return (words*60 + wordsPerMinute - 1) / wordsPerMinute
}

// CalculateVideoCredits charges the quality's base cost for the first minute
// and the same cost again for every started minute after it.
// Unknown qualities cost one credit.
func CalculateVideoCredits(qualityID string, durationSeconds int) int {
	q, ok := catalog.Default().Quality(qualityID)
	if !ok {
		return 1
	}
	credits := q.Credits
	if durationSeconds > includedVideoSeconds {
		extraMinutes := (durationSeconds - includedVideoSeconds + 59) / 60
		credits += extraMinutes * q.Credits
	}
	return credits
}

var renderMultipliers = map[string]float64{
	"sd":  1,
	"hd":  1.5,
	"fhd": 2,
	"4k":  3,
}

// EstimatedRenderTime returns the expected video render time in seconds.
func EstimatedRenderTime(qualityID string, durationSeconds int) int {
	multiplier, ok := renderMultipliers[strings.ToLower(qualityID)]
	if !ok {
		multiplier = 1
	}
	durationMultiplier := math.Max(1, float64(durationSeconds)/60)
	return int(math.Round(renderBaseSeconds * multiplier * durationMultiplier))
}

// FormatVideoDuration renders seconds as m:ss.
func FormatVideoDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

type Kind string

const (
	EmptyScript     Kind = "empty_script"
	TooShort        Kind = "too_short"
	TooLong         Kind = "too_long"
	TooFewWords     Kind = "too_few_words"
	InvalidType     Kind = "invalid_type"
	TooLarge        Kind = "too_large"
	UnknownVoice    Kind = "unknown_voice"
	InvalidSpeed    Kind = "invalid_speed"
	InvalidPitch    Kind = "invalid_pitch"
	UnknownQuality  Kind = "unknown_quality"
	DurationTooLong Kind = "duration_too_long"
	UnknownStyle    Kind = "unknown_style"
)

type ValidationError struct {
	Kind    Kind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(kind Kind, format string, args ...any) error {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func ValidateVideoScript(script string) error {
	trimmed := strings.TrimSpace(script)
	if trimmed == "" {
		return invalid(EmptyScript, "Script cannot be empty")
	}
	if utf8.RuneCountInString(trimmed) < MinScriptChars {
		return invalid(TooShort, "Script must be at least %d characters long", MinScriptChars)
	}
	if utf8.RuneCountInString(script) > MaxScriptChars {
		return invalid(TooLong, "Script cannot exceed 10,000 characters")
	}
	if WordCount(script) < MinScriptWords {
		return invalid(TooFewWords, "Script must contain at least %d words", MinScriptWords)
	}
	return nil
}

func ValidateImageFile(contentType string, size int64) error {
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return invalid(InvalidType, "Please upload a valid image file")
	}
	if size > MaxImageBytes {
		return invalid(TooLarge, "File size must be less than 10MB")
	}
	return nil
}

func ValidateAvatarStyle(style string) error {
	if _, ok := catalog.Default().Style(style); !ok {
		return invalid(UnknownStyle, "Unknown avatar style %q", style)
	}
	return nil
}

func ValidateVoiceSettings(vs model.VoiceSettings) error {
	if _, ok := catalog.Default().Voice(vs.VoiceID); !ok {
		return invalid(UnknownVoice, "Unknown voice %q", vs.VoiceID)
	}
	if vs.Speed < MinVoiceRate || vs.Speed > MaxVoiceRate {
		return invalid(InvalidSpeed, "Voice speed must be between %.1f and %.1f", MinVoiceRate, MaxVoiceRate)
	}
	if vs.Pitch < MinVoiceRate || vs.Pitch > MaxVoiceRate {
		return invalid(InvalidPitch, "Voice pitch must be between %.1f and %.1f", MinVoiceRate, MaxVoiceRate)
	}
	return nil
}

// ValidateDuration checks a video length against the quality tier's ceiling.
func ValidateDuration(qualityID string, durationSeconds int) error {
	q, ok := catalog.Default().Quality(qualityID)
	if !ok {
		return invalid(UnknownQuality, "Unknown video quality %q", qualityID)
	}
	if durationSeconds > q.MaxDuration {
		return invalid(DurationTooLong, "%s videos are limited to %s", q.Name, FormatVideoDuration(q.MaxDuration))
	}
	return nil
}
