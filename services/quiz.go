package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/soriano-club/clubapi/models"
)

// QuizQuestion is the client view of a question; it never carries the answer.
type QuizQuestion struct {
	ID         string     `json:"id"`
	Difficulty Difficulty `json:"difficulty"`
	Topic      string     `json:"topic"`
	Prompt     string     `json:"prompt"`
	Options    []string   `json:"options"`
	Points     int        `json:"points"`
}

// DailyQuiz is the user's question set for one day.
type DailyQuiz struct {
	Date      string         `json:"date"`
	Questions []QuizQuestion `json:"questions"`
	Completed bool           `json:"completed"`
	Result    *QuizResult    `json:"result,omitempty"`
}

// Answer is one submitted choice.
type Answer struct {
	QuestionID string `json:"question_id"`
	Option     int    `json:"option"`
}

// AnswerResult reports how one question was scored.
type AnswerResult struct {
	QuestionID  string `json:"question_id"`
	Selected    int    `json:"selected"`
	Correct     int    `json:"correct"`
	IsCorrect   bool   `json:"is_correct"`
	Points      int    `json:"points"`
	Explanation string `json:"explanation"`
}

// QuizResult is the outcome of a submission.
type QuizResult struct {
	Date         string          `json:"date"`
	Score        int             `json:"score"`
	MaxScore     int             `json:"max_score"`
	CorrectCount int             `json:"correct_count"`
	Total        int             `json:"total"`
	XPEarned     int64           `json:"xp_earned"`
	CoinsEarned  int64           `json:"coins_earned"`
	Breakdown    []AnswerResult  `json:"breakdown"`
	Unlocked     []UnlockedBadge `json:"unlocked_badges,omitempty"`
	Append       *AppendResult   `json:"-"`
}

// ScoreSheet is the pure scoring of a set of answers.
type ScoreSheet struct {
	Score        int
	MaxScore     int
	CorrectCount int
	Breakdown    []AnswerResult
}

// Quiz serves one deterministic question set per user per day and accepts one submission.
type Quiz struct {
	db     *gorm.DB
	ledger *Ledger
	pool   []Question
	byID   map[string]Question
	clock  Clock
	loc    *time.Location
	size   int
	bonus  int64
	log    *zap.SugaredLogger
}

// NewQuiz creates the quiz engine over the given question bank.
func NewQuiz(db *gorm.DB, ledger *Ledger, bank []Question, clock Clock, loc *time.Location, size int, perfectBonus int64, log *zap.SugaredLogger) *Quiz {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = SystemClock()
	}
	if loc == nil {
		loc = time.UTC
	}
	byID := make(map[string]Question, len(bank))
	for _, q := range bank {
		byID[q.ID] = q
	}
	return &Quiz{
		db:     db,
		ledger: ledger,
		pool:   bank,
		byID:   byID,
		clock:  clock,
		loc:    loc,
		size:   size,
		bonus:  perfectBonus,
		log:    log,
	}
}

// quizSeed derives the selection seed from the user and the day, so every
// fetch on the same day reproduces the same set.
func quizSeed(userID uint, date string) int64 {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("soriano-quiz|%d|%s", userID, date)))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// SelectQuestions picks size questions for (userID, date): at least one per
// difficulty, the rest from the whole pool, no duplicates. The result depends
// only on its inputs.
func SelectQuestions(bank []Question, userID uint, date string, size int) ([]Question, error) {
	if size < len(difficulties) {
		return nil, fmt.Errorf("quiz size %d cannot cover %d difficulties", size, len(difficulties))
	}

	pool := append([]Question(nil), bank...)
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })

	seen := make(map[string]bool, len(pool))
	byDiff := make(map[Difficulty][]Question)
	for _, q := range pool {
		if seen[q.ID] {
			return nil, fmt.Errorf("duplicate question id %q in bank", q.ID)
		}
		seen[q.ID] = true
		byDiff[q.Difficulty] = append(byDiff[q.Difficulty], q)
	}
	if len(pool) < size {
		return nil, fmt.Errorf("question bank has %d questions, need %d", len(pool), size)
	}

	rng := rand.New(rand.NewSource(quizSeed(userID, date)))
	chosen := make([]Question, 0, size)
	used := make(map[string]bool, size)
	for _, d := range difficulties {
		tier := byDiff[d]
		if len(tier) == 0 {
			return nil, fmt.Errorf("question bank has no %s questions", d)
		}
		q := tier[rng.Intn(len(tier))]
		chosen = append(chosen, q)
		used[q.ID] = true
	}

	rest := make([]Question, 0, len(pool))
	for _, q := range pool {
		if !used[q.ID] {
			rest = append(rest, q)
		}
	}
	rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	chosen = append(chosen, rest[:size-len(chosen)]...)
	rng.Shuffle(len(chosen), func(i, j int) { chosen[i], chosen[j] = chosen[j], chosen[i] })
	return chosen, nil
}

// ScoreAnswers validates the submission shape and scores it. Every question must
// be answered exactly once with an option in range.
func ScoreAnswers(questions []Question, answers []Answer) (*ScoreSheet, error) {
	if len(answers) != len(questions) {
		return nil, fmt.Errorf("%w: expected %d answers, got %d", ErrInvalidQuizAnswers, len(questions), len(answers))
	}
	picked := make(map[string]int, len(answers))
	for _, a := range answers {
		if _, dup := picked[a.QuestionID]; dup {
			return nil, fmt.Errorf("%w: question %q answered twice", ErrInvalidQuizAnswers, a.QuestionID)
		}
		picked[a.QuestionID] = a.Option
	}

	sheet := &ScoreSheet{Breakdown: make([]AnswerResult, 0, len(questions))}
	for _, q := range questions {
		opt, ok := picked[q.ID]
		if !ok {
			return nil, fmt.Errorf("%w: question %q not answered", ErrInvalidQuizAnswers, q.ID)
		}
		if opt < 0 || opt >= len(q.Options) {
			return nil, fmt.Errorf("%w: option %d out of range for %q", ErrInvalidQuizAnswers, opt, q.ID)
		}
		pts := q.Difficulty.Points()
		sheet.MaxScore += pts
		r := AnswerResult{
			QuestionID:  q.ID,
			Selected:    opt,
			Correct:     q.Answer,
			IsCorrect:   opt == q.Answer,
			Explanation: q.Explanation,
		}
		if r.IsCorrect {
			r.Points = pts
			sheet.Score += pts
			sheet.CorrectCount++
		}
		sheet.Breakdown = append(sheet.Breakdown, r)
	}
	return sheet, nil
}

// QuizRewards converts a score into XP and coins.
func QuizRewards(score, maxScore int, perfectBonus int64) (xp, coins int64) {
	if score <= 0 {
		return 0, 0
	}
	xp = int64(score)
	coins = int64(score / 2)
	if maxScore > 0 && score == maxScore {
		coins += perfectBonus
	}
	return xp, coins
}

func (q *Quiz) today() string {
	return dayOf(q.clock.Now(), q.loc)
}

// ensureAttempt returns the attempt for (userID, date), creating it with a
// fresh question set on first use. The unique index decides concurrent creators.
func (q *Quiz) ensureAttempt(db *gorm.DB, userID uint, date string) (*models.QuizAttempt, error) {
	var att models.QuizAttempt
	err := db.Where("user_id = ? AND quiz_date = ?", userID, date).First(&att).Error
	if err == nil {
		return &att, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, mapStoreError("quiz.load_attempt", err)
	}

	qs, err := SelectQuestions(q.pool, userID, date, q.size)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(qs))
	maxScore := 0
	for i, question := range qs {
		ids[i] = question.ID
		maxScore += question.Difficulty.Points()
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}
	att = models.QuizAttempt{
		UserID:      userID,
		QuizDate:    date,
		QuestionIDs: datatypes.JSON(raw),
		MaxScore:    maxScore,
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&att).Error; err != nil {
		return nil, mapStoreError("quiz.create_attempt", err)
	}
	var stored models.QuizAttempt
	if err := db.Where("user_id = ? AND quiz_date = ?", userID, date).First(&stored).Error; err != nil {
		return nil, mapStoreError("quiz.reload_attempt", err)
	}
	return &stored, nil
}

func (q *Quiz) questionsOf(att *models.QuizAttempt) ([]Question, error) {
	var ids []string
	if err := json.Unmarshal(att.QuestionIDs, &ids); err != nil {
		return nil, fmt.Errorf("decode question ids: %w", err)
	}
	out := make([]Question, 0, len(ids))
	for _, id := range ids {
		question, ok := q.byID[id]
		if !ok {
			return nil, fmt.Errorf("question %q is no longer in the bank", id)
		}
		out = append(out, question)
	}
	return out, nil
}

// DailyQuiz returns today's set for userID. Once submitted, the stored result
// (including correct answers) is attached.
func (q *Quiz) DailyQuiz(ctx context.Context, userID uint) (*DailyQuiz, error) {
	date := q.today()
	att, err := q.ensureAttempt(q.db.WithContext(ctx), userID, date)
	if err != nil {
		return nil, err
	}
	qs, err := q.questionsOf(att)
	if err != nil {
		return nil, err
	}

	view := &DailyQuiz{Date: date, Questions: make([]QuizQuestion, 0, len(qs))}
	for _, question := range qs {
		view.Questions = append(view.Questions, QuizQuestion{
			ID:         question.ID,
			Difficulty: question.Difficulty,
			Topic:      question.Topic,
			Prompt:     question.Prompt,
			Options:    question.Options,
			Points:     question.Difficulty.Points(),
		})
	}

	if att.CompletedAt != nil {
		view.Completed = true
		res := &QuizResult{
			Date:         date,
			Score:        att.Score,
			MaxScore:     att.MaxScore,
			CorrectCount: att.CorrectCount,
			Total:        len(qs),
			XPEarned:     att.XPEarned,
			CoinsEarned:  att.CoinsEarned,
		}
		var answers []Answer
		if err := json.Unmarshal(att.Answers, &answers); err == nil {
			if sheet, err := ScoreAnswers(qs, answers); err == nil {
				res.Breakdown = sheet.Breakdown
			}
		}
		view.Result = res
	}
	return view, nil
}

// SubmitQuiz scores today's answers once. Later submissions fail with
// ErrQuizAlreadyCompleted and leave the ledger untouched.
func (q *Quiz) SubmitQuiz(ctx context.Context, userID uint, answers []Answer) (*QuizResult, error) {
	if len(answers) == 0 {
		return nil, fmt.Errorf("%w: no answers", ErrInvalidQuizAnswers)
	}
	date := q.today()

	var result *QuizResult
	err := q.ledger.inTx(ctx, userID, func(tx *gorm.DB) error {
		att, err := q.ensureAttempt(tx, userID, date)
		if err != nil {
			return err
		}
		if att.CompletedAt != nil {
			return ErrQuizAlreadyCompleted
		}
		qs, err := q.questionsOf(att)
		if err != nil {
			return err
		}
		sheet, err := ScoreAnswers(qs, answers)
		if err != nil {
			return err
		}
		xp, coins := QuizRewards(sheet.Score, sheet.MaxScore, q.bonus)

		raw, err := json.Marshal(answers)
		if err != nil {
			return err
		}
		upd := tx.Model(&models.QuizAttempt{}).
			Where("id = ? AND completed_at IS NULL", att.ID).
			Updates(map[string]interface{}{
				"answers":       datatypes.JSON(raw),
				"score":         sheet.Score,
				"max_score":     sheet.MaxScore,
				"correct_count": sheet.CorrectCount,
				"xp_earned":     xp,
				"coins_earned":  coins,
				"completed_at":  q.clock.Now(),
			})
		if upd.Error != nil {
			return mapStoreError("quiz.complete", upd.Error)
		}
		if upd.RowsAffected == 0 {
			return ErrQuizAlreadyCompleted
		}

		app, err := q.ledger.appendInTx(tx, userID, entryRequest{
			action:      models.ActionQuizReward,
			delta:       coins,
			description: fmt.Sprintf("Daily quiz %s: %d/%d correct", date, sheet.CorrectCount, len(qs)),
			key:         "quiz:" + date,
			counters: map[string]interface{}{
				"quizzes_completed": gorm.Expr("quizzes_completed + 1"),
				"xp":                gorm.Expr("xp + ?", xp),
			},
		})
		if errors.Is(err, ErrDuplicateEntry) {
			return ErrQuizAlreadyCompleted
		}
		if err != nil {
			return err
		}

		result = &QuizResult{
			Date:         date,
			Score:        sheet.Score,
			MaxScore:     sheet.MaxScore,
			CorrectCount: sheet.CorrectCount,
			Total:        len(qs),
			XPEarned:     xp,
			CoinsEarned:  coins,
			Breakdown:    sheet.Breakdown,
			Append:       app,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	q.log.Infow("quiz submitted",
		"user_id", userID,
		"date", date,
		"score", result.Score,
		"coins", result.CoinsEarned,
	)
	return result, nil
}
