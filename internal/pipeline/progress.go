package pipeline

import (
	"github.com/kiranshivaraju/codereview/pkg/models"
)

var stagePercent = map[string]int{
	models.StagePending:     0,
	models.StageScreening:   10,
	models.StageDetection:   33,
	models.StageSuggestions: 66,
	models.StageAggregation: 90,
	models.StageCompleted:   100,
}

// Percent returns the progress checkpoint of stage. Unknown stages report 0.
func Percent(stage string) int {
	return stagePercent[stage]
}

// EstimateSeconds estimates the time left for an analysis of files files that
// has reached stage.
func EstimateSeconds(stage string, files int) int {
	switch stage {
	case models.StageCompleted, models.StageFailed:
		return 0
	}
	base := 5 + (files/10)*2
	switch p := Percent(stage); {
	case p < 33:
		return base + 60
	case p < 66:
		return base + 30
	default:
		return base + 15
	}
}
