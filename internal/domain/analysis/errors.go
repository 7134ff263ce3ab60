package analysis

import (
	"errors"
	"fmt"

	"github.com/bryanwahyu/tradelane/internal/domain/trade"
)

// Stage names a step of the analysis pipeline.
type Stage string

const (
	StageClassification Stage = "classification"
	StageTariff         Stage = "tariff"
	StageRisk           Stage = "risk"
	StageVisualization  Stage = "visualization"
	StagePersistence    Stage = "persistence"
	StageReport         Stage = "report"
)

// StageError tags a pipeline failure with the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// AtStage wraps err with stage unless it is already tagged.
func AtStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage err was tagged with, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// ClassificationError wraps a classifier failure as an external stage error.
func ClassificationError(message string, err error) error {
	return trade.External(trade.CodeClassification, message, err)
}
