package core

import "fmt"

// Stage is the position of an ingestion session in its pipeline.
type Stage string

const (
	StageUploading    Stage = "uploading"
	StageParsing      Stage = "parsing"
	StageChunking     Stage = "chunking"
	StagePreviewReady Stage = "preview_ready"
	StageConfirming   Stage = "confirming"
	StagePersisting   Stage = "persisting"
	StageEmbedding    Stage = "embedding"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
	StageCancelled    Stage = "cancelled"
)

// stageTransitions lists the legal successors of every non-terminal stage.
// Failure is legal from any non-terminal stage and is added by CanTransition.
var stageTransitions = map[Stage][]Stage{
	StageUploading:    {StageParsing},
	StageParsing:      {StageChunking},
	StageChunking:     {StagePreviewReady, StagePersisting},
	StagePreviewReady: {StageConfirming, StageCancelled},
	StageConfirming:   {StagePersisting, StageCancelled},
	StagePersisting:   {StageEmbedding},
	StageEmbedding:    {StageCompleted},
}

// stageProgress is the advisory progress reported on entering a stage.
var stageProgress = map[Stage]int{
	StageUploading:    0,
	StageParsing:      10,
	StageChunking:     30,
	StagePreviewReady: 50,
	StageConfirming:   55,
	StagePersisting:   60,
	StageEmbedding:    75,
	StageCompleted:    100,
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	switch s {
	case StageUploading, StageParsing, StageChunking, StagePreviewReady, StageConfirming,
		StagePersisting, StageEmbedding, StageCompleted, StageFailed, StageCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the stage ends the session.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// HoldsPreview reports whether preview chunks may be attached in this stage.
func (s Stage) HoldsPreview() bool {
	return s == StagePreviewReady || s == StageConfirming
}

// CanTransition reports whether moving from s to next is legal.
func (s Stage) CanTransition(next Stage) bool {
	if s.IsTerminal() || !next.Valid() {
		return false
	}
	if next == StageFailed {
		return true
	}
	for _, allowed := range stageTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Progress is the advisory completion percentage for the stage.
func (s Stage) Progress() int {
	return stageProgress[s]
}

// Transition moves the session to next, validating against the transition
// table. The preview is dropped whenever the new stage cannot hold it.
func (s *IngestionSession) Transition(next Stage, now Clock) error {
	if !s.Stage.CanTransition(next) {
		return fmt.Errorf("%w: cannot move session %s from %s to %s", ErrInvalidState, s.ID, s.Stage, next)
	}
	ts := now.Now()
	s.Stage = next
	s.UpdatedAt = ts
	if next != StageFailed && next != StageCancelled {
		s.Progress = next.Progress()
	}
	if !next.HoldsPreview() {
		s.PreviewChunks = nil
	}
	switch next {
	case StagePreviewReady:
		s.PreviewedAt = ts
	case StageConfirming:
		s.ConfirmedAt = ts
	case StageCompleted, StageFailed, StageCancelled:
		s.CompletedAt = ts
	}
	return nil
}
