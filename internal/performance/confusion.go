package performance

import "tradelab/internal/model"

var classes = [...]model.Action{model.ActionBuy, model.ActionSell, model.ActionHold}

func classIndex(a model.Action) int {
	switch a {
	case model.ActionBuy:
		return 0
	case model.ActionSell:
		return 1
	default:
		return 2
	}
}

// Confusion is a 3×3 confusion matrix indexed [actual][predicted].
type Confusion struct {
	m     [3][3]int
	total int
}

// Add records one (actual, predicted) outcome.
func (c *Confusion) Add(actual, predicted model.Action) {
	c.m[classIndex(actual)][classIndex(predicted)]++
	c.total++
}

// Total returns the number of recorded outcomes.
func (c *Confusion) Total() int { return c.total }

// TP returns true positives for class a.
func (c *Confusion) TP(a model.Action) int {
	i := classIndex(a)
	return c.m[i][i]
}

// FP returns predictions of a whose actual class differs.
func (c *Confusion) FP(a model.Action) int {
	j := classIndex(a)
	n := 0
	for i := range c.m {
		if i != j {
			n += c.m[i][j]
		}
	}
	return n
}

// FN returns samples of class a predicted as something else.
func (c *Confusion) FN(a model.Action) int {
	i := classIndex(a)
	n := 0
	for j := range c.m[i] {
		if i != j {
			n += c.m[i][j]
		}
	}
	return n
}

// Accuracy is correct / total, 0 when empty.
func (c *Confusion) Accuracy() float64 {
	correct := 0
	for i := range c.m {
		correct += c.m[i][i]
	}
	return ratio(float64(correct), float64(c.total))
}

// Precision is tp/(tp+fp) for class a, 0 on a zero denominator.
func (c *Confusion) Precision(a model.Action) float64 {
	tp := c.TP(a)
	return ratio(float64(tp), float64(tp+c.FP(a)))
}

// Recall is tp/(tp+fn) for class a, 0 on a zero denominator.
func (c *Confusion) Recall(a model.Action) float64 {
	tp := c.TP(a)
	return ratio(float64(tp), float64(tp+c.FN(a)))
}

// F1 is the macro-averaged F1 over the three classes: for each class
// 2PR/(P+R) (0 when P+R is 0), then the mean.
func (c *Confusion) F1() float64 {
	var sum float64
	for _, a := range classes {
		p, r := c.Precision(a), c.Recall(a)
		sum += ratio(2*p*r, p+r)
	}
	return sum / float64(len(classes))
}

// PrecisionByClass returns per-class precision.
func (c *Confusion) PrecisionByClass() model.PerClass {
	return model.PerClass{
		Buy:  c.Precision(model.ActionBuy),
		Sell: c.Precision(model.ActionSell),
		Hold: c.Precision(model.ActionHold),
	}
}

// RecallByClass returns per-class recall.
func (c *Confusion) RecallByClass() model.PerClass {
	return model.PerClass{
		Buy:  c.Recall(model.ActionBuy),
		Sell: c.Recall(model.ActionSell),
		Hold: c.Recall(model.ActionHold),
	}
}
