package domain

import "time"

// LeaderboardEntry is one ranked row of a snapshot.
type LeaderboardEntry struct {
	UserID            string            `json:"userId"`
	Username          string            `json:"username"`
	AvatarEmoji       string            `json:"avatarEmoji,omitempty"`
	Score             float64           `json:"score"`
	JoinOrder         int64             `json:"joinOrder"`
	ParticipationType ParticipationType `json:"participationType,omitempty"`
	Rank              int               `json:"rank"`
}

// Leaderboard is the broadcast form of a snapshot.
type Leaderboard struct {
	AccessCode string             `json:"accessCode"`
	Entries    []LeaderboardEntry `json:"entries"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// RankBefore orders by score descending, then by join order.
func RankBefore(a, b LeaderboardEntry) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.JoinOrder < b.JoinOrder
}
