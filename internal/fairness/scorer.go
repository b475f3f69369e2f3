// Package fairness реализует ранжирование предложений Fair-Play.
//
// Рейтинг зависит только от репутации исполнителя и его «новизны», цена в него
// не входит: клиент видит цену рядом с местом в выдаче и решает сам.
package fairness

import (
	"cmp"
	"slices"
	"time"

	"github.com/mmeshcher/fairmatch/internal/model"
)

const (
	// NewProviderWindow задаёт срок с момента регистрации, в течение которого исполнитель считается новым.
	NewProviderWindow = 30 * 24 * time.Hour
	// NewProviderBoost задаёт надбавку к рейтингу нового исполнителя.
	NewProviderBoost = 20.0
)

// Scorer вычисляет рейтинг предложения по профилю исполнителя.
type Scorer struct {
	Window time.Duration
	Boost  float64
}

// NewScorer возвращает Scorer со стандартными параметрами.
func NewScorer() Scorer {
	return Scorer{Window: NewProviderWindow, Boost: NewProviderBoost}
}

// Score возвращает рейтинг исполнителя на момент now.
func (s Scorer) Score(p model.User, now time.Time) float64 {
	score := p.FairnessScore
	if now.Sub(p.CreatedAt) < s.Window {
		score += s.Boost
	}
	return score
}

// Rank сортирует предложения по убыванию рейтинга, при равенстве по возрастанию id.
// Все предложения оцениваются относительно одного и того же момента now.
func (s Scorer) Rank(bids []model.BidWithProvider, now time.Time) []model.RankedBid {
	ranked := make([]model.RankedBid, 0, len(bids))
	for _, b := range bids {
		ranked = append(ranked, model.RankedBid{
			Bid:   b.Bid,
			Score: s.Score(b.Provider, now),
		})
	}

	slices.SortFunc(ranked, func(a, b model.RankedBid) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	return ranked
}
