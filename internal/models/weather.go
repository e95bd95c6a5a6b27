package models

// WeatherSnapshot is the subset of a current-weather response used to build a reply.
// Values are held only while a reply is formatted.
type WeatherSnapshot struct {
	City        string  `json:"city"`
	Temperature float64 `json:"temperature"`
	FeelsLike   float64 `json:"feelsLike"`
	PressureHPa float64 `json:"pressureHpa"`
	Condition   string  `json:"condition"`
	Description string  `json:"description"`
	Humidity    int     `json:"humidity"`
	WindSpeed   float64 `json:"windSpeed"`
}
