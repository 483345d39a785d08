package catalog

import (
	"fmt"
	"math"

	"github.com/apkuzmin/nutro-bot/internal/model"
)

// Plausibility bounds for per-100g facts. Nothing edible clears 900
// kcal per 100 g (pure fat is ~884), and the macro sum gets a small
// tolerance over 100 g for labeling rounding.
const (
	MaxKcalPer100  = 900.0
	MaxMacroPer100 = 100.0
	MaxMacroSum    = 110.0
)

// CheckFacts reports why per-100g facts look implausible. Values that
// fail are still storable; maintenance tooling flags them as suspect.
func CheckFacts(f model.Facts) []string {
	var issues []string
	if f.Kcal < 0 || f.Kcal > MaxKcalPer100 {
		issues = append(issues, fmt.Sprintf("calories %.1f outside [0, %.0f]", f.Kcal, MaxKcalPer100))
	}
	for _, m := range []struct {
		name  string
		value float64
	}{
		{"protein", f.Protein},
		{"fat", f.Fat},
		{"carbs", f.Carbs},
	} {
		if m.value < 0 || m.value > MaxMacroPer100 {
			issues = append(issues, fmt.Sprintf("%s %.1fg outside [0, %.0f]", m.name, m.value, MaxMacroPer100))
		}
	}
	if sum := f.Protein + f.Fat + f.Carbs; sum > MaxMacroSum {
		issues = append(issues, fmt.Sprintf("macro sum %.1fg exceeds %.0fg per 100g", sum, MaxMacroSum))
	}
	// Atwater factors: 4 kcal/g protein and carbs, 9 kcal/g fat.
	derived := 4*f.Protein + 9*f.Fat + 4*f.Carbs
	if diff := math.Abs(derived - f.Kcal); diff > math.Max(20, 0.2*f.Kcal) {
		issues = append(issues, fmt.Sprintf("calories %.0f disagree with macros (%.0f derived)", f.Kcal, derived))
	}
	return issues
}
