// Package nutrition derives daily calorie and macro targets from a
// user's body metrics, activity level, and goal.
package nutrition

import (
	"fmt"

	"github.com/apkuzmin/nutro-bot/internal/model"
)

type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
)

type Activity string

const (
	Sedentary Activity = "sedentary"
	Light     Activity = "light"
	Moderate  Activity = "moderate"
	High      Activity = "high"
	VeryHigh  Activity = "very_high"
)

var activityFactor = map[Activity]float64{
	Sedentary: 1.2,
	Light:     1.375,
	Moderate:  1.55,
	High:      1.725,
	VeryHigh:  1.9,
}

type Goal string

const (
	LoseWeight Goal = "lose_weight"
	Maintain   Goal = "maintain"
	GainMass   Goal = "gain_mass"
)

// macroSplit is the protein/fat/carb calorie share per goal.
var macroSplit = map[Goal][3]float64{
	Maintain:   {0.3, 0.3, 0.4},
	LoseWeight: {0.4, 0.3, 0.3},
	GainMass:   {0.25, 0.25, 0.5},
}

// BMR is the basal metabolic rate by the revised Harris-Benedict
// equation, in kcal/day.
func BMR(g Gender, weightKg, heightCm float64, age int) float64 {
	if g == Male {
		return 88.362 + 13.397*weightKg + 4.799*heightCm - 5.677*float64(age)
	}
	return 447.593 + 9.247*weightKg + 3.098*heightCm - 4.330*float64(age)
}

// TDEE scales BMR by the activity coefficient.
func TDEE(bmr float64, a Activity) (float64, error) {
	factor, ok := activityFactor[a]
	if !ok {
		return 0, fmt.Errorf("unknown activity level %q", a)
	}
	return bmr * factor, nil
}

// AdjustCalories applies the goal's calorie surplus or deficit.
func AdjustCalories(tdee float64, g Goal) float64 {
	switch g {
	case LoseWeight:
		return tdee * 0.85
	case GainMass:
		return tdee * 1.15
	default:
		return tdee
	}
}

// Macros splits daily calories into gram targets. Protein and carbs
// carry 4 kcal/g, fat 9 kcal/g.
func Macros(calories float64, g Goal) (protein, fat, carbs float64, err error) {
	split, ok := macroSplit[g]
	if !ok {
		return 0, 0, 0, fmt.Errorf("unknown goal %q", g)
	}
	protein = calories * split[0] / 4
	fat = calories * split[1] / 9
	carbs = calories * split[2] / 4
	return protein, fat, carbs, nil
}

type Input struct {
	Gender   Gender
	Age      int
	WeightKg float64
	HeightCm float64
	Activity Activity
	Goal     Goal
}

// Targets computes the full daily targets for one user.
func Targets(in Input) (model.Targets, error) {
	tdee, err := TDEE(BMR(in.Gender, in.WeightKg, in.HeightCm, in.Age), in.Activity)
	if err != nil {
		return model.Targets{}, err
	}
	calories := AdjustCalories(tdee, in.Goal)
	protein, fat, carbs, err := Macros(calories, in.Goal)
	if err != nil {
		return model.Targets{}, err
	}
	return model.Targets{
		Calories: calories,
		Protein:  protein,
		Fat:      fat,
		Carbs:    carbs,
	}, nil
}
