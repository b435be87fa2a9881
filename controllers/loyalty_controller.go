package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/soriano-club/clubapi/middleware"
	"github.com/soriano-club/clubapi/models"
	"github.com/soriano-club/clubapi/services"
	"github.com/soriano-club/clubapi/utils"
)

// LoyaltyController exposes the loyalty engine to club members.
type LoyaltyController struct {
	engine *services.Engine
	log    *zap.SugaredLogger
}

// NewLoyaltyController creates a new controller instance.
func NewLoyaltyController(engine *services.Engine, log *zap.SugaredLogger) *LoyaltyController {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LoyaltyController{engine: engine, log: log}
}

type submitQuizRequest struct {
	Answers []services.Answer `json:"answers" binding:"required,min=1"`
}

type earnRequest struct {
	UserID      uint   `json:"user_id" binding:"required"`
	Action      string `json:"action" binding:"required"`
	Amount      int64  `json:"amount"`
	Description string `json:"description" binding:"max=1024"`
}

// Summary returns balance, tier progress, streak and badge count.
func (c *LoyaltyController) Summary(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	summary, err := c.engine.AccountSummary(ctx.Request.Context(), userID)
	if err != nil {
		c.fail(ctx, err, "load summary")
		return
	}
	utils.Success(ctx, summary)
}

// Ledger lists the caller's ledger entries, newest first.
func (c *LoyaltyController) Ledger(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	page, size := pageParams(ctx)
	entries, total, err := c.engine.History(ctx.Request.Context(), userID, page, size)
	if err != nil {
		c.fail(ctx, err, "load ledger")
		return
	}
	utils.Paged(ctx, entries, total, page, size)
}

// CheckIn records today's visit for the streak.
func (c *LoyaltyController) CheckIn(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	res, err := c.engine.CheckIn(ctx.Request.Context(), userID)
	if err != nil {
		c.fail(ctx, err, "check in")
		return
	}
	utils.Success(ctx, res)
}

// DailyQuiz returns today's questions without their answers.
func (c *LoyaltyController) DailyQuiz(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	quiz, err := c.engine.DailyQuiz(ctx.Request.Context(), userID)
	if err != nil {
		c.fail(ctx, err, "load quiz")
		return
	}
	utils.Success(ctx, quiz)
}

// SubmitQuiz scores today's answers once.
func (c *LoyaltyController) SubmitQuiz(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	var req submitQuizRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request body")
		return
	}
	res, err := c.engine.SubmitQuiz(ctx.Request.Context(), userID, req.Answers)
	if err != nil {
		c.fail(ctx, err, "submit quiz")
		return
	}
	utils.Success(ctx, res)
}

// Badges lists the catalog with the caller's unlock state.
func (c *LoyaltyController) Badges(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	badges, err := c.engine.ListBadges(ctx.Request.Context(), userID)
	if err != nil {
		c.fail(ctx, err, "load badges")
		return
	}
	utils.Success(ctx, badges)
}

// Rewards lists the active reward catalog.
func (c *LoyaltyController) Rewards(ctx *gin.Context) {
	rewards, err := c.engine.ListRewards(ctx.Request.Context())
	if err != nil {
		c.fail(ctx, err, "load rewards")
		return
	}
	utils.Success(ctx, rewards)
}

// Redeem spends coins on the reward in the path.
func (c *LoyaltyController) Redeem(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	rewardID, ok := uintParam(ctx, "id")
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40002, "invalid reward id")
		return
	}
	res, err := c.engine.Redeem(ctx.Request.Context(), userID, rewardID)
	if err != nil {
		c.fail(ctx, err, "redeem")
		return
	}
	utils.Success(ctx, res)
}

// Redemptions lists the caller's redemption history.
func (c *LoyaltyController) Redemptions(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	page, size := pageParams(ctx)
	records, total, err := c.engine.ListRedemptions(ctx.Request.Context(), userID, page, size)
	if err != nil {
		c.fail(ctx, err, "load redemptions")
		return
	}
	utils.Paged(ctx, records, total, page, size)
}

// Earn credits points for an action reported by another club service.
func (c *LoyaltyController) Earn(ctx *gin.Context) {
	var req earnRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request body")
		return
	}
	res, err := c.engine.Earn(ctx.Request.Context(), req.UserID, models.ActionType(req.Action), req.Amount, req.Description)
	if err != nil {
		c.fail(ctx, err, "earn")
		return
	}
	utils.Success(ctx, res)
}

// Reconcile compares a member's materialized balance with the ledger sum.
func (c *LoyaltyController) Reconcile(ctx *gin.Context) {
	userID, ok := uintParam(ctx, "userId")
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40003, "invalid user id")
		return
	}
	rec, err := c.engine.Reconcile(ctx.Request.Context(), userID)
	if errors.Is(err, services.ErrLedgerMismatch) {
		utils.Respond(ctx, http.StatusConflict, 40933, "ledger mismatch", rec)
		return
	}
	if err != nil {
		c.fail(ctx, err, "reconcile")
		return
	}
	utils.Success(ctx, rec)
}

type errorMapping struct {
	err     error
	status  int
	code    int
	message string
}

var errorMappings = []errorMapping{
	{services.ErrInsufficientBalance, http.StatusPaymentRequired, 40230, "not enough coins"},
	{services.ErrRewardNotFound, http.StatusNotFound, 40430, "reward not found"},
	{services.ErrRewardOutOfStock, http.StatusConflict, 40931, "reward out of stock"},
	{services.ErrQuizAlreadyCompleted, http.StatusConflict, 40930, "already played today"},
	{services.ErrInvalidQuizAnswers, http.StatusBadRequest, 40030, "invalid quiz answers"},
	{services.ErrInvalidAmount, http.StatusBadRequest, 40031, "invalid amount"},
	{services.ErrUnknownAction, http.StatusBadRequest, 40032, "unknown action type"},
	{services.ErrDuplicateEntry, http.StatusConflict, 40934, "already recorded"},
	{services.ErrConcurrentModification, http.StatusConflict, 40932, "busy, please retry"},
}

// fail maps domain errors to the response envelope. Anything unmapped is
// logged and reported as a 500 without its detail.
func (c *LoyaltyController) fail(ctx *gin.Context, err error, op string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			utils.Error(ctx, m.status, m.code, m.message)
			return
		}
	}
	c.log.Errorw(op+" failed", "error", err, "request_id", ctx.GetString("request_id"))
	utils.Error(ctx, http.StatusInternalServerError, 50030, "failed to "+op)
}

func getUserID(ctx *gin.Context) (uint, bool) {
	value, exists := ctx.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}
	uid, ok := value.(uint)
	return uid, ok && uid != 0
}

func uintParam(ctx *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(ctx.Param(name), 10, 32)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

func pageParams(ctx *gin.Context) (int, int) {
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(ctx.DefaultQuery("page_size", "20"))
	return services.NormalizePage(page, size)
}
