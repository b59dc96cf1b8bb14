package prices

import (
	"math"
	"time"

	"crop_price_api/internal/models"
)

type Direction string

const (
	DirectionUp       Direction = "up"
	DirectionDown     Direction = "down"
	DirectionNoChange Direction = "no_change"
)

// PriceChange is empty when either side of the comparison is missing or zero.
type PriceChange struct {
	Direction  Direction `json:"direction,omitempty"`
	Value      *float64  `json:"value,omitempty"`
	Percentage *float64  `json:"percentage,omitempty"`
}

type MarketPrice struct {
	Today     *float64    `json:"today,omitempty"`
	Yesterday *float64    `json:"yesterday,omitempty"`
	Change    PriceChange `json:"change"`
}

type PriceSet struct {
	Wholesale MarketPrice `json:"wholesale"`
	Retail    MarketPrice `json:"retail"`
}

type ContextInfo struct {
	ID    int64  `json:"id"`
	Value string `json:"value"`
}

type CardContext struct {
	Crop ContextInfo `json:"crop"`
	Unit string      `json:"unit"`
}

type PriceCard struct {
	Context CardContext `json:"context"`
	Price   PriceSet    `json:"price"`
}

type DailyPrice struct {
	Date           string   `json:"date"`
	WholesalePrice *float64 `json:"wholesale_price,omitempty"`
	RetailPrice    *float64 `json:"retail_price,omitempty"`
}

func NewPriceChange(today, yesterday *float64) PriceChange {
	if today == nil || yesterday == nil || *today == 0 || *yesterday == 0 {
		return PriceChange{}
	}

	value := *today - *yesterday
	percentage := math.Round(value / *yesterday * 100 * 100) / 100

	direction := DirectionNoChange
	switch {
	case value > 0:
		direction = DirectionUp
	case value < 0:
		direction = DirectionDown
	}

	return PriceChange{
		Direction:  direction,
		Value:      &value,
		Percentage: &percentage,
	}
}

func NewMarketPrice(today, yesterday *float64) MarketPrice {
	return MarketPrice{
		Today:     today,
		Yesterday: yesterday,
		Change:    NewPriceChange(today, yesterday),
	}
}

func NewPriceCard(row models.LatestPrice) PriceCard {
	return PriceCard{
		Context: CardContext{
			Crop: ContextInfo{ID: row.CropID, Value: row.Crop},
			Unit: row.Unit,
		},
		Price: PriceSet{
			Wholesale: NewMarketPrice(row.WholesalePriceToday, row.WholesalePriceYesterday),
			Retail:    NewMarketPrice(row.RetailPriceToday, row.RetailPriceYesterday),
		},
	}
}

func NewDailyPrice(row models.DailyPrice) DailyPrice {
	return DailyPrice{
		Date:           row.Date.Format(time.DateOnly),
		WholesalePrice: row.WholesalePrice,
		RetailPrice:    row.RetailPrice,
	}
}
