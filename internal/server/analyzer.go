package server

import (
	"context"
	"fmt"

	"github.com/ealbalas/ai-speaking-coach/internal/domain"
)

// Analyzer turns a completed audio artifact into an analysis report. The
// production analyzer wraps external speech-to-text and language-model
// services; this boundary is all the server cares about.
type Analyzer interface {
	Analyze(ctx context.Context, session Session) (domain.AnalysisReport, error)
}

// StubAnalyzer produces a deterministic report derived from the artifact
// size. It stands in for the real pipeline during development and tests.
type StubAnalyzer struct{}

func (StubAnalyzer) Analyze(_ context.Context, session Session) (domain.AnalysisReport, error) {
	// Rough duration guess for the encoded stream; only used to shape the
	// stub numbers, never surfaced as a real measurement.
	seconds := float64(session.Bytes) / 4000.0
	if seconds < 1 {
		seconds = 1
	}

	points := int(seconds)
	if points > 100 {
		points = 100
	}
	if points < 2 {
		points = 2
	}
	pitch := make([]float64, points)
	pace := make([]float64, points)
	for i := range pitch {
		pitch[i] = 180 + 20*float64(i%5)
		pace[i] = 120 + 6*float64(i%4)
	}

	return domain.AnalysisReport{
		Transcript: fmt.Sprintf("(stub transcript for session %s: %d chunks, %d bytes)",
			session.ID, session.Chunks, session.Bytes),
		VocalDelivery: domain.VocalDelivery{
			SpeakingRate:    128,
			PitchVariance:   24.5,
			LongPausesCount: session.Chunks / 10,
			PitchOverTime:   pitch,
			PaceOverTime:    pace,
		},
		Content: domain.ContentFeedback{
			FillerWordCounts: map[string]int{"um": session.Chunks % 3, "like": session.Chunks % 2},
			ClarityScore:     7,
			Suggestions: []string{
				"Pause instead of using filler words.",
				"Vary your pace to emphasize key points.",
				"Open with your main message.",
			},
			ImprovedSentence: "Today I want to show you one idea that will change how you practice.",
		},
	}, nil
}
