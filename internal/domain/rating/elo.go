package rating

import (
	"math"
)

// EloCalculator - калькулятор рейтинга по системе ELO
type EloCalculator struct {
	kFactor int // K-фактор определяет скорость изменения рейтинга
}

// NewEloCalculator создаёт новый калькулятор ELO
func NewEloCalculator(kFactor int) *EloCalculator {
	return &EloCalculator{
		kFactor: kFactor,
	}
}

// NewDefaultEloCalculator создаёт калькулятор с дефолтным K-фактором
func NewDefaultEloCalculator() *EloCalculator {
	return NewEloCalculator(32)
}

// CalculateExpectedScore вычисляет ожидаемый результат для игрока A против B
// Возвращает значение от 0 до 1 (вероятность победы)
func (ec *EloCalculator) CalculateExpectedScore(ratingA, ratingB int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(ratingB-ratingA)/400.0))
}

// CalculateNewRating вычисляет новый рейтинг после матча
// score: 1.0 = победа, 0.5 = ничья, 0.0 = поражение
func (ec *EloCalculator) CalculateNewRating(currentRating, opponentRating int, score float64) int {
	expectedScore := ec.CalculateExpectedScore(currentRating, opponentRating)
	change := float64(ec.kFactor) * (score - expectedScore)
	newRating := float64(currentRating) + change

	return int(math.Round(newRating))
}

// CalculateRatingChange вычисляет изменение рейтинга
func (ec *EloCalculator) CalculateRatingChange(currentRating, opponentRating int, score float64) int {
	newRating := ec.CalculateNewRating(currentRating, opponentRating, score)
	return newRating - currentRating
}
