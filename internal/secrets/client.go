package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PMK765/WebPartyGames/engine/deduction"
)

// Client calls the RPC endpoint of a relayd over HTTP as the holder of token.
type Client struct {
	base  string
	token string
	hc    *http.Client
}

// NewClient talks to baseURL (e.g. http://localhost:8080). A nil hc uses a
// client with a 10 second timeout.
func NewClient(baseURL, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), token: token, hc: hc}
}

var _ API = (*Client)(nil)

func (c *Client) call(ctx context.Context, name string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("secrets: encode %s: %w", name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/rpc/"+name, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("secrets: %s: %w", name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	res, err := c.hc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("secrets: %s: %w", name, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		var e errorResponse
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return fmt.Errorf("secrets: %s: status %d", name, res.StatusCode)
		}
		return decodeError(name, res.StatusCode, e)
	}
	if resp == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(resp); err != nil {
		return fmt.Errorf("secrets: decode %s response: %w", name, err)
	}
	return nil
}

// decodeError maps an error body back onto the package's error values.
func decodeError(name string, status int, e errorResponse) error {
	if e.Code == codeQuorum {
		return &QuorumError{Have: e.Have, Want: e.Want}
	}
	for _, ec := range errorCodes {
		if ec.code == e.Code {
			return fmt.Errorf("%w (%s)", ec.err, name)
		}
	}
	if status == http.StatusUnauthorized {
		return fmt.Errorf("secrets: %s: unauthenticated", name)
	}
	return fmt.Errorf("secrets: %s: status %d: %s", name, status, e.Error)
}

func (c *Client) JoinRoom(ctx context.Context, roomID, name string, credits int64) (JoinResult, error) {
	var resp JoinResult
	err := c.call(ctx, RPCJoinRoom, joinRoomRequest{RoomID: roomID, Name: name, Credits: credits}, &resp)
	return resp, err
}

func (c *Client) UpdatePublicState(ctx context.Context, roomID string, state json.RawMessage) error {
	return c.call(ctx, RPCUpdatePublicState, updateStateRequest{RoomID: roomID, State: state}, nil)
}

func (c *Client) DealRoles(ctx context.Context, roomID string, playerIDs []string) error {
	return c.call(ctx, RPCDealRoles, dealRolesRequest{RoomID: roomID, PlayerIDs: playerIDs}, nil)
}

func (c *Client) CastVote(ctx context.Context, roomID string, mission, proposal int, approve bool) error {
	return c.call(ctx, RPCCastVote, castVoteRequest{RoomID: roomID, Mission: mission, Proposal: proposal, Approve: approve}, nil)
}

func (c *Client) FinalizeVote(ctx context.Context, roomID string, mission, proposal int) (VoteTally, error) {
	var resp VoteTally
	err := c.call(ctx, RPCFinalizeVote, finalizeVoteRequest{RoomID: roomID, Mission: mission, Proposal: proposal}, &resp)
	return resp, err
}

func (c *Client) SubmitMissionCard(ctx context.Context, roomID string, mission int, card deduction.MissionCard) error {
	return c.call(ctx, RPCSubmitMissionCard, submitCardRequest{RoomID: roomID, Mission: mission, Card: card}, nil)
}

func (c *Client) FinalizeMission(ctx context.Context, roomID string, mission int) (int, error) {
	var resp failCountResponse
	err := c.call(ctx, RPCFinalizeMission, finalizeMissionRequest{RoomID: roomID, Mission: mission}, &resp)
	return resp.FailCount, err
}

func (c *Client) MyRole(ctx context.Context, roomID string) (deduction.Role, error) {
	var resp roleResponse
	err := c.call(ctx, RPCMyRole, roomRequest{RoomID: roomID}, &resp)
	return resp.Role, err
}

func (c *Client) GetMySpies(ctx context.Context, roomID string) ([]string, error) {
	var resp spiesResponse
	err := c.call(ctx, RPCGetMySpies, roomRequest{RoomID: roomID}, &resp)
	return resp.Spies, err
}

func (c *Client) RevealRoles(ctx context.Context, roomID string) (map[string]deduction.Role, error) {
	var resp rolesResponse
	err := c.call(ctx, RPCRevealRoles, roomRequest{RoomID: roomID}, &resp)
	return resp.Roles, err
}

func (c *Client) LeaveRoom(ctx context.Context, roomID string) (string, error) {
	var resp hostResponse
	err := c.call(ctx, RPCLeaveRoom, roomRequest{RoomID: roomID}, &resp)
	return resp.HostID, err
}
