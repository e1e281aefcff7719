package secrets

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PMK765/WebPartyGames/engine/deduction"
	"github.com/PMK765/WebPartyGames/internal/auth"
)

// RPC names, mounted as POST /rpc/<name>.
const (
	RPCJoinRoom          = "join_room"
	RPCUpdatePublicState = "update_public_state"
	RPCDealRoles         = "deal_roles"
	RPCCastVote          = "cast_vote"
	RPCFinalizeVote      = "finalize_vote"
	RPCSubmitMissionCard = "submit_mission_card"
	RPCFinalizeMission   = "finalize_mission"
	RPCMyRole            = "my_role"
	RPCGetMySpies        = "get_my_spies"
	RPCRevealRoles       = "reveal_roles"
	RPCLeaveRoom         = "leave_room"
)

// Request bodies. The caller is always the token's subject.
type (
	roomRequest struct {
		RoomID string `json:"room_id"`
	}
	joinRoomRequest struct {
		RoomID  string `json:"room_id"`
		Name    string `json:"name"`
		Credits int64  `json:"credits"`
	}
	updateStateRequest struct {
		RoomID string          `json:"room_id"`
		State  json.RawMessage `json:"state"`
	}
	dealRolesRequest struct {
		RoomID    string   `json:"room_id"`
		PlayerIDs []string `json:"player_ids"`
	}
	castVoteRequest struct {
		RoomID   string `json:"room_id"`
		Mission  int    `json:"mission"`
		Proposal int    `json:"proposal"`
		Approve  bool   `json:"approve"`
	}
	finalizeVoteRequest struct {
		RoomID   string `json:"room_id"`
		Mission  int    `json:"mission"`
		Proposal int    `json:"proposal"`
	}
	submitCardRequest struct {
		RoomID  string                `json:"room_id"`
		Mission int                   `json:"mission"`
		Card    deduction.MissionCard `json:"card"`
	}
	finalizeMissionRequest struct {
		RoomID  string `json:"room_id"`
		Mission int    `json:"mission"`
	}
)

// Response bodies that are not already exported types.
type (
	okResponse struct {
		OK bool `json:"ok"`
	}
	failCountResponse struct {
		FailCount int `json:"fail_count"`
	}
	roleResponse struct {
		Role deduction.Role `json:"role"`
	}
	spiesResponse struct {
		Spies []string `json:"spies"`
	}
	rolesResponse struct {
		Roles map[string]deduction.Role `json:"roles"`
	}
	hostResponse struct {
		HostID string `json:"host_id"`
	}
	errorResponse struct {
		Error     string `json:"error"`
		Code      string `json:"code"`
		Have      int    `json:"have,omitempty"`
		Want      int    `json:"want,omitempty"`
		Retryable bool   `json:"retryable,omitempty"`
	}
)

// Error codes carried in errorResponse.Code.
var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{ErrForbidden, "forbidden", http.StatusForbidden},
	{ErrNotHost, "not_host", http.StatusForbidden},
	{ErrNotMember, "not_member", http.StatusForbidden},
	{ErrNoRole, "no_role", http.StatusForbidden},
	{ErrNotFound, "not_found", http.StatusNotFound},
	{ErrWrongPhase, "wrong_phase", http.StatusConflict},
	{ErrBadRequest, "bad_request", http.StatusBadRequest},
}

const codeQuorum = "quorum"

// Register mounts the RPC endpoint behind token verification.
func (s *Service) Register(r gin.IRoutes, v *auth.Verifier) {
	r.POST("/rpc/:name", auth.Middleware(v), s.handleRPC)
}

type rpcHandler func(s *Service, c *gin.Context, caller auth.Identity) (any, error)

var rpcHandlers = map[string]rpcHandler{
	RPCJoinRoom: func(s *Service, c *gin.Context, caller auth.Identity) (any, error) {
		var req joinRoomRequest
		if err := bind(c, &req); err != nil {
			return nil, err
		}
		return s.JoinRoom(c.Request.Context(), caller, req.RoomID, req.Name, req.Credits)
	},
	RPCUpdatePublicState: func(s *Service, c *gin.Context, caller auth.Identity) (any, error) {
		var req updateStateRequest
		if err := bind(c, &req); err != nil {
			return nil, err
		}
		return okResponse{true}, s.UpdatePublicState(c.Request.Context(), caller, req.RoomID, req.State)
	},
	RPCDealRoles: func(s *Service, c *gin.Context, caller auth.Identity) (any, error) {
		var req dealRolesRequest
		if err := bind(c, &req); err != nil {
			return nil, err
		}
		return okResponse{true}, s.DealRoles(c.Request.Context(), caller, req.RoomID, req.PlayerIDs)
	},
	RPCCastVote: func(s *Service, c *gin.Context, caller auth.Identity) (any, error) {
		var req castVoteRequest
		if err := bind(c, &req); err != nil {
			return nil, err
		}
		return okResponse{true}, s.CastVote(c.Request.Context(), caller, req.RoomID, req.Mission, req.Proposal, req.Approve)
	},
	RPCFinalizeVote: func(s *Service, c *gin.Context, caller auth.Identity) (any, error) {
		var req finalizeVoteRequest
		if err := bind(c, &req); err != nil {
			return nil, err
		}
		return s.FinalizeVote(c.Request.Context(), caller, req.RoomID, req.Mission, req.Proposal)
	},
	RPCSubmitMissionCard: func(s *Service, c *gin.Context, caller auth.Identity) (any, error) {
		var req submitCardRequest
		if err := bind(c, &req); err != nil {
			return nil, err
		}
		return okResponse{true}, s.SubmitMissionCard(c.Request.Context(), caller, req.RoomID, req.Mission, req.Card)
	},
	RPCFinalizeMission: func(s *Service, c *gin.Context, caller auth.Identity) (any, error) {
		var req finalizeMissionRequest
		if err := bind(c, &req); err != nil {
			return nil, err
		}
		fails, err := s.FinalizeMission(c.Request.Context(), caller, req.RoomID, req.Mission)
		return failCountResponse{fails}, err
	},
	RPCMyRole: func(s *Service, c *gin.Context, caller auth.Identity) (any, error) {
		var req roomRequest
		if err := bind(c, &req); err != nil {
			return nil, err
		}
		role, err := s.MyRole(c.Request.Context(), caller, req.RoomID)
		return roleResponse{role}, err
	},
	RPCGetMySpies: func(s *Service, c *gin.Context, caller auth.Identity) (any, error) {
		var req roomRequest
		if err := bind(c, &req); err != nil {
			return nil, err
		}
		spies, err := s.GetMySpies(c.Request.Context(), caller, req.RoomID)
		return spiesResponse{spies}, err
	},
	RPCRevealRoles: func(s *Service, c *gin.Context, caller auth.Identity) (any, error) {
		var req roomRequest
		if err := bind(c, &req); err != nil {
			return nil, err
		}
		roles, err := s.RevealRoles(c.Request.Context(), caller, req.RoomID)
		return rolesResponse{roles}, err
	},
	RPCLeaveRoom: func(s *Service, c *gin.Context, caller auth.Identity) (any, error) {
		var req roomRequest
		if err := bind(c, &req); err != nil {
			return nil, err
		}
		host, err := s.LeaveRoom(c.Request.Context(), caller, req.RoomID)
		return hostResponse{host}, err
	},
}

func bind(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return badRequest("decode body: %v", err)
	}
	return nil
}

func (s *Service) handleRPC(c *gin.Context) {
	name := c.Param("name")
	h, ok := rpcHandlers[name]
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "unknown rpc " + name, Code: "not_found"})
		return
	}
	caller, _ := auth.FromContext(c)
	resp, err := h(s, c, caller)
	if err != nil {
		s.writeError(c, name, caller, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Service) writeError(c *gin.Context, name string, caller auth.Identity, err error) {
	var q *QuorumError
	if errors.As(err, &q) {
		c.JSON(http.StatusConflict, errorResponse{Error: q.Error(), Code: codeQuorum, Have: q.Have, Want: q.Want, Retryable: true})
		return
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			c.JSON(ec.status, errorResponse{Error: err.Error(), Code: ec.code})
			return
		}
	}
	s.log.WithError(err).WithField("rpc", name).WithField("user", caller.ID).Error("rpc failed")
	c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"})
}
