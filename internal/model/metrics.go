package model

// Metrics are the validation scores reported after each round.
// Precision, Recall and F1 are micro-averaged.
type Metrics struct {
	Support           int     `json:"support"`
	Accuracy          float64 `json:"accuracy"`
	MeanClassAccuracy float64 `json:"mean_class_accuracy"`
	Precision         float64 `json:"precision"`
	Recall            float64 `json:"recall"`
	F1                float64 `json:"f1"`
	Confusion         [][]int `json:"confusion"` // [true][predicted]
}

// Score computes metrics for aligned true and predicted labels.
// Labels outside [0, numClasses) are ignored.
func Score(truth, predicted []int, numClasses int) Metrics {
	m := Metrics{Confusion: make([][]int, numClasses)}
	for k := range m.Confusion {
		m.Confusion[k] = make([]int, numClasses)
	}
	for i := range truth {
		t, p := truth[i], predicted[i]
		if t < 0 || t >= numClasses || p < 0 || p >= numClasses {
			continue
		}
		m.Confusion[t][p]++
		m.Support++
	}
	if m.Support == 0 {
		return m
	}

	var correct, classes int
	var classAcc float64
	var fp, fn int
	for k := 0; k < numClasses; k++ {
		row := 0
		for j, n := range m.Confusion[k] {
			row += n
			if j != k {
				fn += n
				fp += m.Confusion[j][k]
			}
		}
		correct += m.Confusion[k][k]
		if row > 0 {
			classAcc += float64(m.Confusion[k][k]) / float64(row)
			classes++
		}
	}

	m.Accuracy = float64(correct) / float64(m.Support)
	m.MeanClassAccuracy = classAcc / float64(classes)
	if correct+fp > 0 {
		m.Precision = float64(correct) / float64(correct+fp)
	}
	if correct+fn > 0 {
		m.Recall = float64(correct) / float64(correct+fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}
