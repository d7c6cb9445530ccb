package anomaly

// Model is the numeric contract of an outlier detector. Predict returns -1
// for an outlier and 1 for an inlier; DecisionFunction is negative for
// outliers and grows with normality.
type Model interface {
	Fit(X [][]float64) error
	Predict(x []float64) int
	DecisionFunction(x []float64) float64
}

// State of a Detector
type State int

const (
	Untrained State = iota
	Trained
)

func (s State) String() string {
	switch s {
	case Trained:
		return "TRAINED"
	default:
		return "UNTRAINED"
	}
}

// Artifact names
const (
	ArtifactModel  = "model"
	ArtifactScaler = "scaler"
)
