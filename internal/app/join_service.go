package app

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
	"mathquest-engine/internal/domain"
)

const (
	maxUsernameLen          = 64
	defaultSideEffectBudget = 2 * time.Second
)

var namePolicy = bluemonday.StrictPolicy()

// JoinRequest is a student's request to enter a game.
type JoinRequest struct {
	UserID      string `json:"userId"`
	AccessCode  string `json:"accessCode"`
	Username    string `json:"username"`
	AvatarEmoji string `json:"avatarEmoji,omitempty"`
}

// SideEffects is the best-effort outcome of a join. Errors here never fail the join.
type SideEffects struct {
	Bonus          float64             `json:"bonus"`
	BonusErr       error               `json:"-"`
	Leaderboard    *domain.Leaderboard `json:"leaderboard,omitempty"`
	LeaderboardErr error               `json:"-"`
}

// JoinOutcome is the primary result of a successful join.
type JoinOutcome struct {
	Game        domain.GameInstance    `json:"game"`
	Participant domain.GameParticipant `json:"participant"`
	Deferred    bool                   `json:"deferred"`
	// AlreadyJoined is set when the participant row existed before this call.
	AlreadyJoined bool        `json:"alreadyJoined"`
	Effects       SideEffects `json:"-"`
}

// JoinResult is the wire form of a join attempt.
type JoinResult struct {
	Success     bool                    `json:"success"`
	Error       string                  `json:"error,omitempty"`
	Participant *domain.GameParticipant `json:"participant,omitempty"`
	Deferred    bool                    `json:"deferred,omitempty"`
}

// NewJoinResult maps an outcome onto the wire form. Terminal errors keep their
// message; anything else becomes the generic join failure.
func NewJoinResult(outcome JoinOutcome, err error) JoinResult {
	if err != nil {
		msg := domain.MsgJoinFailed
		if domain.IsTerminal(err) {
			msg = err.Error()
		}
		return JoinResult{Success: false, Error: msg}
	}
	p := outcome.Participant
	return JoinResult{Success: true, Participant: &p, Deferred: outcome.Deferred}
}

// JoinService decides whether a user may (re)join a game and materialises the participant.
type JoinService struct {
	games       GameRepository
	tracker     *DeferredTracker
	ledger      *BonusLedger
	leaderboard *LeaderboardService
	clock       clockwork.Clock
	retry       RetryPolicy
	sideBudget  time.Duration
}

// JoinOptions configures the join service.
type JoinOptions struct {
	Retry RetryPolicy
	// SideEffectTimeout bounds the bonus and snapshot calls together.
	SideEffectTimeout time.Duration
}

func NewJoinService(games GameRepository, tracker *DeferredTracker, ledger *BonusLedger, leaderboard *LeaderboardService, clock clockwork.Clock, opts JoinOptions) *JoinService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	budget := opts.SideEffectTimeout
	if budget <= 0 {
		budget = defaultSideEffectBudget
	}
	return &JoinService{
		games:       games,
		tracker:     tracker,
		ledger:      ledger,
		leaderboard: leaderboard,
		clock:       clock,
		retry:       opts.Retry.normalized(),
		sideBudget:  budget,
	}
}

// Join validates the request against the game status and replay window, then
// upserts the participant row in one transactional write. Live joins also earn
// a join-order bonus and a leaderboard entry.
func (s *JoinService) Join(ctx context.Context, req JoinRequest) (JoinOutcome, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.AccessCode = strings.TrimSpace(req.AccessCode)
	if req.UserID == "" || req.AccessCode == "" {
		return JoinOutcome{}, domain.Validation("userId and accessCode are required")
	}

	game, err := retryValue(ctx, s.retry, func(ctx context.Context) (domain.GameInstance, error) {
		return s.games.FindGameInstance(ctx, req.AccessCode)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return JoinOutcome{}, domain.NotFound(domain.MsgGameNotFound)
	}
	if err != nil {
		return JoinOutcome{}, s.fail(req, err)
	}

	deferred := game.Status == domain.GameStatusCompleted
	if deferred && !game.ReplayOpen(s.clock.Now()) {
		return JoinOutcome{}, domain.ReplayWindow(domain.MsgReplayClosed)
	}

	user, err := retryValue(ctx, s.retry, func(ctx context.Context) (domain.User, error) {
		return s.games.UpsertUser(ctx, domain.User{
			ID:          req.UserID,
			Username:    cleanUsername(req.Username),
			AvatarEmoji: strings.TrimSpace(req.AvatarEmoji),
		})
	})
	if err != nil {
		return JoinOutcome{}, s.fail(req, err)
	}

	attempt := 0
	if deferred {
		attempt, err = s.deferredAttempt(ctx, game, user.ID)
		if err != nil {
			return JoinOutcome{}, s.fail(req, err)
		}
	}

	type upserted struct {
		participant domain.GameParticipant
		created     bool
	}
	res, err := retryValue(ctx, s.retry, func(ctx context.Context) (upserted, error) {
		p, created, err := s.games.UpsertParticipant(ctx, domain.GameParticipant{
			GameInstanceID: game.ID,
			UserID:         user.ID,
			Username:       user.Username,
			AvatarEmoji:    user.AvatarEmoji,
			AttemptCount:   attempt,
			Status:         domain.ParticipantActive,
		})
		return upserted{participant: p, created: created}, err
	})
	if err != nil {
		return JoinOutcome{}, s.fail(req, err)
	}

	outcome := JoinOutcome{
		Game:          game,
		Participant:   res.participant,
		Deferred:      deferred,
		AlreadyJoined: !res.created,
	}
	log.Info().
		Str("access_code", game.AccessCode).
		Str("user_id", user.ID).
		Int("attempt", attempt).
		Bool("deferred", deferred).
		Bool("already_joined", outcome.AlreadyJoined).
		Msg("participant joined")

	if !deferred {
		outcome.Effects = s.applySideEffects(ctx, game, outcome.Participant)
		outcome.Participant.LiveScore += outcome.Effects.Bonus
	}
	return outcome, nil
}

// deferredAttempt reuses the latest attempt while its replay is still active,
// otherwise opens the next one. Replays count from 1.
func (s *JoinService) deferredAttempt(ctx context.Context, game domain.GameInstance, userID string) (int, error) {
	type latest struct {
		attempt int
		found   bool
	}
	res, err := retryValue(ctx, s.retry, func(ctx context.Context) (latest, error) {
		a, ok, err := s.games.LatestAttempt(ctx, game.ID, userID)
		return latest{attempt: a, found: ok}, err
	})
	if err != nil {
		return 0, err
	}
	if res.found && res.attempt > 0 && s.tracker != nil && s.tracker.HasOngoingSession(ctx, game.AccessCode, userID, res.attempt) {
		return res.attempt, nil
	}
	return res.attempt + 1, nil
}

// applySideEffects awards the join-order bonus and adds the participant to the
// snapshot. It runs on its own deadline so a slow store cannot hold the join.
func (s *JoinService) applySideEffects(ctx context.Context, game domain.GameInstance, p domain.GameParticipant) SideEffects {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideBudget)
	defer cancel()

	var fx SideEffects
	logger := log.With().Str("access_code", game.AccessCode).Str("user_id", p.UserID).Logger()

	if s.ledger != nil {
		fx.Bonus, fx.BonusErr = s.ledger.TryAssign(ctx, game.AccessCode, p.UserID)
		if fx.BonusErr == nil && fx.Bonus > 0 {
			fx.BonusErr = s.retry.do(ctx, func(ctx context.Context) error {
				return s.games.AddLiveScore(ctx, p.ID, fx.Bonus)
			})
		}
		if fx.BonusErr != nil {
			logger.Error().Err(fx.BonusErr).Msg("join order bonus skipped")
			fx.Bonus = 0
		}
	}

	if s.leaderboard != nil {
		board, err := s.leaderboard.AddUser(ctx, game.AccessCode, domain.LeaderboardEntry{
			UserID:            p.UserID,
			Username:          p.Username,
			AvatarEmoji:       p.AvatarEmoji,
			Score:             p.LiveScore + fx.Bonus,
			ParticipationType: p.ParticipationType(),
		})
		if err != nil {
			logger.Error().Err(err).Msg("leaderboard snapshot update skipped")
			fx.LeaderboardErr = err
		} else {
			fx.Leaderboard = &board
		}
	}
	return fx
}

func (s *JoinService) fail(req JoinRequest, err error) error {
	if domain.IsTerminal(err) {
		return err
	}
	log.Error().Err(err).
		Str("access_code", req.AccessCode).
		Str("user_id", req.UserID).
		Msg("join failed")
	return err
}

// SanitizeUsername strips markup and trims a display name. Empty names fall
// back to guest-<first 8 chars of userID>.
func SanitizeUsername(name, userID string) string {
	if clean := cleanUsername(name); clean != "" {
		return clean
	}
	return domain.GuestName(userID)
}

// cleanUsername is SanitizeUsername without the guest fallback: an empty
// result tells the repository to keep the stored name.
func cleanUsername(name string) string {
	clean := html.UnescapeString(namePolicy.Sanitize(name))
	clean = strings.Map(func(r rune) rune {
		if r == '<' || r == '>' || r == 0 {
			return -1
		}
		return r
	}, clean)
	clean = strings.Join(strings.Fields(clean), " ")
	if utf8.RuneCountInString(clean) > maxUsernameLen {
		clean = string([]rune(clean)[:maxUsernameLen])
	}
	return clean
}
