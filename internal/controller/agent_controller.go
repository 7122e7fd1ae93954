package controller

import (
	"fmt"
	"k12_agent_backend/internal/model"
	"k12_agent_backend/internal/service"
	"k12_agent_backend/internal/util"
	"strconv"

	"github.com/gin-gonic/gin"
)

const maxBulkActions = 100

// AgentController AI Agent 相关接口
type AgentController struct {
	Engine *service.CoordinationEngine
	Hub    *service.NotificationHub
}

// BulkActionRequest 批量行为请求
type BulkActionRequest struct {
	Items []service.BulkAction `json:"items" binding:"required,min=1,dive"`
}

func NewAgentController(engine *service.CoordinationEngine, hub *service.NotificationHub) *AgentController {
	return &AgentController{Engine: engine, Hub: hub}
}

// Initialize godoc
// @Summary 初始化 Agent
// @Description 为当前用户创建并启动 AI Agent，已存在时返回当前会话
// @Tags Agent
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=service.AgentSessionSummary}
// @Failure 422 {object} util.Response "角色没有对应的 Agent"
// @Router /agent/initialize [post]
func (ctrl *AgentController) Initialize(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	summary, err := ctrl.Engine.Initialize(c.Request.Context(), claims.UserID)
	if err != nil {
		util.AgentError(c, err)
		return
	}
	util.Success(c, summary)
}

// Action godoc
// @Summary 提交用户行为
// @Description 由用户的 Agent 处理行为，处理失败时 data.type 为 error
// @Tags Agent
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body model.AgentAction true "用户行为"
// @Success 200 {object} util.Response{data=model.AgentResponse}
// @Router /agent/action [post]
func (ctrl *AgentController) Action(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}
	var action model.AgentAction
	if err := c.ShouldBindJSON(&action); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	util.Success(c, ctrl.Engine.Dispatch(c.Request.Context(), claims.UserID, action))
}

// Status godoc
// @Summary Agent 状态
// @Tags Agent
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=service.AgentSessionSummary}
// @Failure 404 {object} util.Response "Agent 不存在"
// @Router /agent/status [get]
func (ctrl *AgentController) Status(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	summary, err := ctrl.Engine.GetStatus(claims.UserID)
	if err != nil {
		util.AgentError(c, err)
		return
	}
	util.Success(c, summary)
}

// Shutdown godoc
// @Summary 关闭 Agent
// @Tags Agent
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response "Agent 不存在"
// @Router /agent/shutdown [post]
func (ctrl *AgentController) Shutdown(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	err := ctrl.Engine.Shutdown(c.Request.Context(), claims.UserID)
	if err != nil {
		util.AgentError(c, err)
		return
	}
	util.Success(c, gin.H{"userId": claims.UserID, "state": service.StateShutdown.String()})
}

// Recommendations godoc
// @Summary 学习推荐
// @Description 默认为当前用户生成推荐，ai=true 时使用大模型生成（失败自动回退）
// @Tags Agent
// @Produce json
// @Security ApiKeyAuth
// @Param student_id query int false "学生ID"
// @Param context_type query string false "学习场景"
// @Param ai query bool false "是否使用大模型"
// @Success 200 {object} util.Response{data=util.ListResponse}
// @Router /agent/recommendations [get]
func (ctrl *AgentController) Recommendations(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	studentID := claims.UserID
	if raw := c.Query("student_id"); raw != "" {
		studentID = util.MustParseUint(raw)
		if studentID == 0 {
			util.BadRequest(c, fmt.Sprintf("invalid student_id: %s", raw))
			return
		}
	}
	aiPowered, _ := strconv.ParseBool(c.DefaultQuery("ai", "false"))

	rc := &service.RecommendationContext{Note: c.Query("note")}
	if ct := c.Query("context_type"); ct != "" {
		rc.ContextType = model.ParseContextType(ct)
	}

	recs, err := ctrl.Engine.Recommendations(c.Request.Context(), studentID, rc, aiPowered)
	if err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Success(c, util.ListResponse{List: recs, Total: len(recs)})
}

// Bulk godoc
// @Summary 批量提交行为
// @Tags Agent
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body BulkActionRequest true "批量行为"
// @Success 200 {object} util.Response{data=util.ListResponse}
// @Router /agent/bulk [post]
func (ctrl *AgentController) Bulk(c *gin.Context) {
	var req BulkActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}
	if len(req.Items) > maxBulkActions {
		util.RequestTooLarge(c, fmt.Sprintf("at most %d actions per request", maxBulkActions))
		return
	}

	results := ctrl.Engine.BulkDispatch(c.Request.Context(), req.Items)
	util.Success(c, util.ListResponse{List: results, Total: len(results)})
}

// HandleWS godoc
// @Summary 通知 WebSocket
// @Description 建立 WebSocket 连接以接收跨角色通知
// @Tags Agent
// @Security ApiKeyAuth
// @Param token query string true "JWT Token"
// @Success 101 {string} string "Switching Protocols"
// @Router /agent/notifications/ws [get]
func (ctrl *AgentController) HandleWS(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}
	ctrl.Hub.ServeWs(c.Writer, c.Request, claims.UserID)
}
