package feature

// #region field-names
// Wire and schema names of the six journey features.
const (
	FieldDistanceKM      = "distance_km"
	FieldWeather         = "weather"
	FieldDayOfWeek       = "day_of_week"
	FieldTimeOfDay       = "time_of_day"
	FieldTrainType       = "train_type"
	FieldRouteCongestion = "route_congestion"
)

// #endregion field-names

// #region record
// Record is a single journey observation. It is a plain value and is never
// mutated once built.
type Record struct {
	DistanceKM      float64
	Weather         string
	DayOfWeek       string
	TimeOfDay       string
	TrainType       string
	RouteCongestion string
}

// Categorical returns the value of a categorical field by name.
// ok is false when the record has no such categorical field.
func (r Record) Categorical(name string) (value string, ok bool) {
	switch name {
	case FieldWeather:
		return r.Weather, true
	case FieldDayOfWeek:
		return r.DayOfWeek, true
	case FieldTimeOfDay:
		return r.TimeOfDay, true
	case FieldTrainType:
		return r.TrainType, true
	case FieldRouteCongestion:
		return r.RouteCongestion, true
	}
	return "", false
}

// Numeric returns the value of a numeric field by name.
func (r Record) Numeric(name string) (value float64, ok bool) {
	if name == FieldDistanceKM {
		return r.DistanceKM, true
	}
	return 0, false
}

// #endregion record

// #region domains
// CategoricalFields lists the categorical fields in wire order.
func CategoricalFields() []string {
	return []string{FieldWeather, FieldDayOfWeek, FieldTimeOfDay, FieldTrainType, FieldRouteCongestion}
}

// NumericFields lists the numeric fields in wire order.
func NumericFields() []string {
	return []string{FieldDistanceKM}
}

// Domain returns the declared values of a categorical field, in the order a
// user would pick them. Returns nil for unknown fields.
func Domain(field string) []string {
	switch field {
	case FieldWeather:
		return []string{"Clear", "Rainy", "Foggy"}
	case FieldDayOfWeek:
		return []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}
	case FieldTimeOfDay:
		return []string{"Morning", "Afternoon", "Evening", "Night"}
	case FieldTrainType:
		return []string{"Express", "Superfast", "Local"}
	case FieldRouteCongestion:
		return []string{"Low", "Medium", "High"}
	}
	return nil
}

// InDomain reports whether value is one of the declared values of field.
func InDomain(field, value string) bool {
	for _, v := range Domain(field) {
		if v == value {
			return true
		}
	}
	return false
}

// #endregion domains
