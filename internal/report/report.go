// Package report renders weather snapshots and lookup failures as chat replies.
package report

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kjstillabower/weather-bot/internal/models"
)

// hPaPerMmHg converts hectopascals to millimetres of mercury.
const hPaPerMmHg = 1.333

// Fixed reply texts.
const (
	TextCityNotFound = "Город не найден. Проверьте название."
	TextServerError  = "Ошибка на стороне сервера. Попробуйте позже."
	TextNetworkError = "Не удалось получить данные о погоде. Проверьте подключение к интернету."
	TextTimeout      = "Превышено время ожидания ответа от сервера."
	TextInvalidCity  = "Пожалуйста, введите корректное название города."
)

// FallbackPictogram is used for condition categories missing from the table.
const FallbackPictogram = "\U0001F52E"

var pictograms = map[string]string{
	"Clear":        "\u2600",
	"Clouds":       "\u2601",
	"Rain":         "\u2614",
	"Drizzle":      "\u2614",
	"Thunderstorm": "\u26A1",
	"Snow":         "\U0001F328",
	"Mist":         "\U0001F32B",
}

// Pictogram returns the glyph for an OpenWeather condition category.
func Pictogram(condition string) string {
	if p, ok := pictograms[condition]; ok {
		return p
	}
	return FallbackPictogram
}

// PressureMmHg converts hPa to mmHg, rounded to the nearest integer.
func PressureMmHg(hPa float64) int {
	return roundHalfEven(hPa / hPaPerMmHg)
}

// roundHalfEven rounds to the nearest integer, exact halves to the even neighbour.
func roundHalfEven(v float64) int {
	return int(math.RoundToEven(v))
}

// Format builds the multi-line weather reply for city.
func Format(city string, s models.WeatherSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Погода в городе %s:\n", Capitalize(city))
	fmt.Fprintf(&b, "Температура: %d°C\n", roundHalfEven(s.Temperature))
	fmt.Fprintf(&b, "Ощущается как: %d°C\n", roundHalfEven(s.FeelsLike))
	fmt.Fprintf(&b, "Давление: %d мм.рт.\n", PressureMmHg(s.PressureHPa))
	fmt.Fprintf(&b, "Описание: %s %s\n", s.Description, Pictogram(s.Condition))
	fmt.Fprintf(&b, "Влажность: %d%%\n", s.Humidity)
	fmt.Fprintf(&b, "Скорость ветра: %s м/с", strconv.FormatFloat(s.WindSpeed, 'f', -1, 64))
	return b.String()
}

// Capitalize upper-cases the first rune and lower-cases the rest.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
