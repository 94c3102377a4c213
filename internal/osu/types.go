package osu

// Profile is the subset of the osu! API v2 user object the bot renders.
type Profile struct {
	ID          int64       `json:"id"`
	Username    string      `json:"username"`
	AvatarURL   string      `json:"avatar_url"`
	CountryCode string      `json:"country_code"`
	Statistics  *Statistics `json:"statistics"`
}

type Statistics struct {
	PP          float64 `json:"pp"`
	GlobalRank  *int64  `json:"global_rank"` // null for inactive players
	CountryRank *int64  `json:"country_rank"`
	HitAccuracy float64 `json:"hit_accuracy"`
	PlayCount   int64   `json:"play_count"`
	Level       Level   `json:"level"`
}

type Level struct {
	Current  int `json:"current"`
	Progress int `json:"progress"`
}
