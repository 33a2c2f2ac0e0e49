package domain

import (
	"time"

	"github.com/google/uuid"
)

// Difficulty is a problem/rating bucket.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
	// DifficultyAny only ever appears as a matchmaking/selection filter, never
	// stored on a Problem or a rating bucket.
	DifficultyAny Difficulty = "Any"
)

// GameMode controls whether ELO is applied on game completion.
type GameMode string

const (
	ModeCasual GameMode = "Casual"
	ModeRanked GameMode = "Ranked"
)

// RoomPhase is the room state machine position. Phases only move forward.
type RoomPhase string

const (
	PhaseWaiting   RoomPhase = "Waiting"
	PhaseCountdown RoomPhase = "Countdown"
	PhasePlaying   RoomPhase = "Playing"
	PhaseEnded     RoomPhase = "Ended"
)

const StartingRating = 1200

// User is an authenticated account. Immutable once created except DisplayName.
type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	DisplayName  string    `json:"display_name" db:"display_name"`
	Avatar       *string   `json:"avatar,omitempty" db:"avatar"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// DifficultyRating is one per-difficulty rating bucket within UserStats.
type DifficultyRating struct {
	Rating      int `json:"rating" db:"rating"`
	PeakRating  int `json:"peak_rating" db:"peak_rating"`
	RankedGames int `json:"ranked_games" db:"ranked_games"`
	RankedWins  int `json:"ranked_wins" db:"ranked_wins"`
}

// NewDifficultyRating returns a fresh bucket at the starting rating.
func NewDifficultyRating() DifficultyRating {
	return DifficultyRating{Rating: StartingRating, PeakRating: StartingRating}
}

// UserStats aggregates a user's lifetime performance, overall and per difficulty.
type UserStats struct {
	UserID          uuid.UUID                   `json:"user_id" db:"user_id"`
	GamesPlayed     int                          `json:"games_played" db:"games_played"`
	GamesWon        int                          `json:"games_won" db:"games_won"`
	GamesLost       int                          `json:"games_lost" db:"games_lost"`
	ProblemsSolved  int                          `json:"problems_solved" db:"problems_solved"`
	FastestSolveMs  *int64                       `json:"fastest_solve_ms,omitempty" db:"fastest_solve_ms"`
	CurrentStreak   int                          `json:"current_streak" db:"current_streak"`
	LongestStreak   int                          `json:"longest_streak" db:"longest_streak"`
	LastPlayedAt    *time.Time                   `json:"last_played_at,omitempty" db:"last_played_at"`
	Ratings         map[Difficulty]DifficultyRating `json:"ratings" db:"-"`
}

// NewUserStats returns zeroed stats with every difficulty bucket initialized.
func NewUserStats(userID uuid.UUID) *UserStats {
	return &UserStats{
		UserID: userID,
		Ratings: map[Difficulty]DifficultyRating{
			DifficultyEasy:   NewDifficultyRating(),
			DifficultyMedium: NewDifficultyRating(),
			DifficultyHard:   NewDifficultyRating(),
		},
	}
}

// TestCase is one hidden or example test. Matching is exact on trimmed stdout.
type TestCase struct {
	Input          string `json:"input" db:"input"`
	ExpectedOutput string `json:"expected_output" db:"expected_output"`
	Explanation    string `json:"explanation,omitempty" db:"explanation"`
}

// Problem is immutable once seeded. HiddenTests never leave the server.
type Problem struct {
	ID               uuid.UUID         `json:"id" db:"id"`
	Title            string            `json:"title" db:"title"`
	Description      string            `json:"description" db:"description"`
	Difficulty       Difficulty        `json:"difficulty" db:"difficulty"`
	Examples         []TestCase        `json:"examples" db:"-"`
	HiddenTests      []TestCase        `json:"-" db:"-"`
	StarterCode      map[string]string `json:"starter_code" db:"-"`
	Tags             []string          `json:"tags" db:"-"`
	TimeLimitMinutes *int              `json:"time_limit_minutes,omitempty" db:"time_limit_minutes"`
}

// Submission is the ephemeral request handed to the pipeline.
type Submission struct {
	Username    string
	RoomCode    string
	ProblemID   uuid.UUID
	Language    string
	Source      string
	ReceivedAt  time.Time
}

// TestResult is the outcome of one hidden test run inside a submission.
type TestResult struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
	TimeMs   int64  `json:"time_ms"`
	Error    string `json:"error,omitempty"`
}

// SubmissionResult is what the pipeline returns for one submission.
type SubmissionResult struct {
	Passed          bool         `json:"passed"`
	PassedTests     int          `json:"passed_tests"`
	TotalTests      int          `json:"total_tests"`
	TestResults     []TestResult `json:"test_results"`
	ExecutionTimeMs int64        `json:"execution_time_ms"`
}

// GameResult is one durable row per participant of a finished game.
type GameResult struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	RoomID       string     `json:"room_id" db:"room_id"`
	ProblemID    uuid.UUID  `json:"problem_id" db:"problem_id"`
	UserID       *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	Username     string     `json:"username" db:"username"`
	Placement    int        `json:"placement" db:"placement"`
	TotalPlayers int        `json:"total_players" db:"total_players"`
	SolveTimeMs  *int64     `json:"solve_time_ms,omitempty" db:"solve_time_ms"`
	PassedTests  int        `json:"passed_tests" db:"passed_tests"`
	TotalTests   int        `json:"total_tests" db:"total_tests"`
	Language     string     `json:"language" db:"language"`
	GameMode     GameMode   `json:"game_mode" db:"game_mode"`
	Difficulty   Difficulty `json:"difficulty" db:"difficulty"`
	RatingChange int        `json:"rating_change" db:"rating_change"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// MatchmakingEntry is one waiting player in the matchmaker queue.
type MatchmakingEntry struct {
	ConnectionID string
	Username     string
	Difficulty   Difficulty // may be DifficultyAny
	Mode         GameMode
	EnqueuedAt   time.Time
}

// MatchInfo is handed to a matched player via status().
type MatchInfo struct {
	RoomCode   string     `json:"room_code"`
	Opponent   string     `json:"opponent"`
	Difficulty Difficulty `json:"difficulty"`
	Mode       GameMode   `json:"mode"`
}

// PlayerStanding is one participant's final position inside a GameSummary.
type PlayerStanding struct {
	Username    string
	UserID      *uuid.UUID
	Placement   int // 1 = winner
	SolveTimeMs *int64
	PassedTests int
	TotalTests  int
	Language    string
}

// GameSummary is handed to the scoring pipeline when a room ends with a winner.
// Difficulty is always concrete here: rooms opened with DifficultyAny resolve
// it to the assigned problem's difficulty.
type GameSummary struct {
	RoomCode   string
	Problem    *Problem
	Mode       GameMode
	Difficulty Difficulty
	Standings  []PlayerStanding
}

// RefreshToken backs token rotation in the auth boundary.
type RefreshToken struct {
	TokenID   uuid.UUID  `json:"token_id" db:"token_id"`
	UserID    uuid.UUID  `json:"user_id" db:"user_id"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// LeaderboardEntry is one ranked row of a per-difficulty leaderboard.
type LeaderboardEntry struct {
	Rank        int       `json:"rank"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Rating      int       `json:"rating"`
}

// RatingChange is the per-player entry inside a game_over frame.
type RatingChange struct {
	OldRating int `json:"old_rating"`
	NewRating int `json:"new_rating"`
	Change    int `json:"change"`
}
