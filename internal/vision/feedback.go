// Package vision analyses captured interview frames for environment
// feedback.
package vision

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// MaxAnalyzedFrames caps how many frames go into one analysis.
const MaxAnalyzedFrames = 5

// Feedback status values.
const (
	StatusSuccess  = "success"
	StatusPartial  = "partial"
	StatusGeneric  = "generic"
	StatusNoFrames = "no_frames"
)

const dataURIPrefix = "data:image/jpeg;base64,"

// NoFramesFeedback is the feedback recorded when nothing was captured.
func NoFramesFeedback() map[string]any {
	return map[string]any{
		"status":  StatusNoFrames,
		"message": "No video frames were captured during the interview",
		"note":    "Ensure camera permissions are granted and frames are being uploaded",
	}
}

// GenericFeedback stands in when detailed analysis is unavailable. cause is
// optional.
func GenericFeedback(frameCount int, cause error) map[string]any {
	fb := map[string]any{
		"status":            StatusGeneric,
		"frames_analyzed":   frameCount,
		"lighting":          "Video frames were captured successfully",
		"background":        "Interview environment was recorded",
		"camera_setup":      "Camera positioning was maintained throughout",
		"technical_quality": fmt.Sprintf("Total of %d frames captured during interview", frameCount),
		"note":              "Detailed visual analysis unavailable - generic assessment provided",
	}
	if cause != nil {
		msg := cause.Error()
		if len(msg) > 100 {
			msg = msg[:100]
		}
		fb["technical_note"] = "Analysis limited due to: " + msg
	}
	return fb
}

// CleanFrame removes whitespace from a base64 frame and normalises it to a
// data URI.
func CleanFrame(frame string) string {
	frame = strings.NewReplacer("\n", "", "\r", "", " ", "", "\t", "").Replace(frame)
	if strings.HasPrefix(frame, "data:image") {
		return frame
	}
	if i := strings.LastIndex(frame, "base64,"); i >= 0 {
		frame = frame[i+len("base64,"):]
	}
	return dataURIPrefix + frame
}

// CleanFrames caps frames at MaxAnalyzedFrames and cleans each one.
func CleanFrames(frames []string) []string {
	if len(frames) > MaxAnalyzedFrames {
		frames = frames[:MaxAnalyzedFrames]
	}
	cleaned := make([]string, 0, len(frames))
	for _, f := range frames {
		cleaned = append(cleaned, CleanFrame(f))
	}
	return cleaned
}

// decodeFrame returns the image bytes of a frame and its format name
// (jpeg, png, gif or webp).
func decodeFrame(frame string) ([]byte, string, error) {
	payload := frame
	if i := strings.Index(payload, "base64,"); i >= 0 {
		payload = payload[i+len("base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("invalid base64 frame: %w", err)
	}

	switch ct := http.DetectContentType(data); ct {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return data, strings.TrimPrefix(ct, "image/"), nil
	default:
		return nil, "", fmt.Errorf("unsupported image format %q", ct)
	}
}

// stripFences removes a surrounding markdown code fence from model output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
