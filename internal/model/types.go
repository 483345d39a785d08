package model

import "time"

// Facts holds nutrition values per 100 g of a product.
type Facts struct {
	Kcal    float64
	Protein float64
	Fat     float64
	Carbs   float64
}

// Contribution scales the per-100g facts to the given logged weight.
func (f Facts) Contribution(weightGrams float64) Totals {
	factor := weightGrams / 100.0
	return Totals{
		Calories: f.Kcal * factor,
		Protein:  f.Protein * factor,
		Fat:      f.Fat * factor,
		Carbs:    f.Carbs * factor,
	}
}

type Product struct {
	ID        int64
	Name      string
	Facts     Facts
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Targets are a user's daily intake goals.
type Targets struct {
	Calories float64
	Protein  float64
	Fat      float64
	Carbs    float64
}

type Profile struct {
	UserID     int64
	Gender     string
	Age        int
	WeightKg   float64
	HeightCm   float64
	Activity   string
	Goal       string
	Targets    Targets
	Language   string
	DayEndTime string
	Timezone   int
}

// Entry is one logged consumption event. Nutrient values are snapshotted
// from the facts current when the entry was created or last edited.
type Entry struct {
	ID       int64
	UserID   int64
	FoodName string
	Weight   float64
	Kcal     float64
	Protein  float64
	Fat      float64
	Carbs    float64
	Date     string
	Time     string
	EditCode string
}

// Contribution returns the entry's snapshotted nutrient values.
func (e Entry) Contribution() Totals {
	return Totals{Calories: e.Kcal, Protein: e.Protein, Fat: e.Fat, Carbs: e.Carbs}
}

// Totals is a running sum of nutrients for one user and logical day.
type Totals struct {
	Calories float64
	Protein  float64
	Fat      float64
	Carbs    float64
}

func (t Totals) Sub(o Totals) Totals {
	return Totals{
		Calories: t.Calories - o.Calories,
		Protein:  t.Protein - o.Protein,
		Fat:      t.Fat - o.Fat,
		Carbs:    t.Carbs - o.Carbs,
	}
}
