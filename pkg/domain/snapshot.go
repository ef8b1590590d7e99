package domain

// RevenueSnapshot aggregates finished-order revenue over rolling windows.
// Amounts are in the configured display currency.
type RevenueSnapshot struct {
	AsOf     string  `json:"as_of"`
	Currency string  `json:"currency"`
	Today    float64 `json:"today"`
	Last7d   float64 `json:"last_7d"`
	Last30d  float64 `json:"last_30d"`
	Last90d  float64 `json:"last_90d"`
}

// Order is a single masked order row for the recent-orders snapshot.
type Order struct {
	ID          string  `json:"id"`
	CreatedAt   string  `json:"created_at"`
	PayWay      string  `json:"pay_way"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
}

// RecentOrders is the recent-orders snapshot document.
type RecentOrders struct {
	AsOf   string  `json:"as_of"`
	Total  int     `json:"total"`
	Orders []Order `json:"orders"`
}
