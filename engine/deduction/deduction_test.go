package deduction

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/PMK765/WebPartyGames/engine"
)

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("p%d", i)
	}
	return out
}

// lobby returns a lobby of n players p0..p(n-1) hosted by p0.
func lobby(n int) *State {
	m := Machine{}
	s := m.Init("room-x", engine.Player{ID: "p0", DisplayName: "P0"})
	for _, id := range ids(n)[1:] {
		s = m.Reduce(s, m.JoinEvent(engine.Player{ID: id, DisplayName: strings.ToUpper(id)}))
	}
	return s
}

// proposing returns a table of n players that has passed role reveal.
func proposing(t *testing.T, n int) *State {
	t.Helper()
	s := Reduce(lobby(n), Event{Type: EventStart, Actor: "p0"})
	if s.Phase != PhaseRoleReveal {
		t.Fatalf("Phase after start = %s, want roleReveal", s.Phase)
	}
	for _, id := range s.Active {
		s = Reduce(s, Event{Type: EventAcknowledge, Actor: id})
	}
	if s.Phase != PhaseProposing {
		t.Fatalf("Phase after acks = %s, want proposing", s.Phase)
	}
	return s
}

func propose(t *testing.T, s *State) *State {
	t.Helper()
	next := Reduce(s, Event{Type: EventPropose, Actor: s.Leader, Team: s.Active[:s.TeamSize()]})
	if next.Phase != PhaseVoting {
		t.Fatalf("Phase after propose = %s, want voting", next.Phase)
	}
	return next
}

func vote(s *State, approve int) *State {
	for _, id := range s.Active {
		s = Reduce(s, Event{Type: EventVoteCast, Actor: id})
	}
	return Reduce(s, Event{
		Type:     EventVoteResult,
		Actor:    s.HostID,
		Mission:  s.Mission,
		Proposal: s.Proposal,
		Approve:  approve,
		Reject:   len(s.Active) - approve,
	})
}

func runMission(t *testing.T, s *State, fails int) *State {
	t.Helper()
	s = vote(propose(t, s), len(s.Active))
	if s.Phase != PhaseMission {
		t.Fatalf("Phase after unanimous approve = %s, want mission", s.Phase)
	}
	for _, id := range s.Team {
		s = Reduce(s, Event{Type: EventCardSubmitted, Actor: id})
	}
	if !s.Submitted.All() {
		t.Fatalf("Submitted = %d/%d", s.Submitted.Count(), s.Submitted.Len())
	}
	return Reduce(s, Event{Type: EventMissionResult, Actor: s.HostID, Mission: s.Mission, Fails: fails})
}

func TestAssignRolesDistribution(t *testing.T) {
	want := map[int]int{5: 2, 6: 2, 7: 3, 8: 3, 9: 3, 10: 4}
	for n := MinPlayers; n <= MaxPlayers; n++ {
		roles, err := AssignRoles("room-x:1", ids(n))
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if len(roles) != n {
			t.Fatalf("n=%d: %d roles assigned", n, len(roles))
		}
		spies := 0
		for _, r := range roles {
			if r == RoleSpy {
				spies++
			}
		}
		if spies != want[n] || SpyCount(n) != want[n] {
			t.Errorf("n=%d: spies = %d, SpyCount = %d, want %d", n, spies, SpyCount(n), want[n])
		}

		again, _ := AssignRoles("room-x:1", ids(n))
		if !reflect.DeepEqual(roles, again) {
			t.Errorf("n=%d: same seed produced different roles", n)
		}
	}
}

func TestAssignRolesSeedSensitivity(t *testing.T) {
	base, err := AssignRoles("room-x:1", ids(10))
	if err != nil {
		t.Fatal(err)
	}
	differ := 0
	for i := 2; i < 22; i++ {
		other, _ := AssignRoles(fmt.Sprintf("room-x:%d", i), ids(10))
		if !reflect.DeepEqual(base, other) {
			differ++
		}
	}
	// C(10,4) = 210 possible spy sets; a handful of collisions is tolerable.
	if differ < 15 {
		t.Errorf("only %d of 20 seeds changed the assignment", differ)
	}
}

func TestAssignRolesRejectsBadInput(t *testing.T) {
	for _, n := range []int{0, 4, 11} {
		if _, err := AssignRoles("s", ids(n)); err == nil {
			t.Errorf("n=%d accepted", n)
		}
	}
	dup := append(ids(4), "p0")
	if _, err := AssignRoles("s", dup); err == nil {
		t.Error("duplicate ids accepted")
	}
}

func TestRoleSeed(t *testing.T) {
	if RoleSeed("", "r", 1) == RoleSeed("salt", "r", 1) {
		t.Error("salt did not change the seed")
	}
	if RoleSeed("salt", "r", 1) == RoleSeed("salt", "r", 2) {
		t.Error("deal number did not change the seed")
	}
}

func TestTeamSizes(t *testing.T) {
	tests := []struct {
		n    int
		want [Missions]int
	}{
		{5, [Missions]int{2, 3, 2, 3, 3}},
		{6, [Missions]int{2, 3, 4, 3, 4}},
		{7, [Missions]int{2, 3, 3, 4, 4}},
		{8, [Missions]int{3, 4, 4, 5, 5}},
		{9, [Missions]int{3, 4, 4, 5, 5}},
		{10, [Missions]int{3, 4, 4, 5, 5}},
	}
	for _, tt := range tests {
		for m := 1; m <= Missions; m++ {
			if got := TeamSize(tt.n, m); got != tt.want[m-1] {
				t.Errorf("TeamSize(%d, %d) = %d, want %d", tt.n, m, got, tt.want[m-1])
			}
		}
	}
	if TeamSize(4, 1) != 0 || TeamSize(5, 6) != 0 {
		t.Error("out-of-range TeamSize should be 0")
	}
}

func TestStartSeatsFirstTen(t *testing.T) {
	s := Reduce(lobby(12), Event{Type: EventStart, Actor: "p0"})
	if len(s.Active) != MaxPlayers {
		t.Fatalf("Active = %d, want %d", len(s.Active), MaxPlayers)
	}
	spectators := s.Spectators()
	if len(spectators) != 2 || spectators[0].ID != "p10" || spectators[1].ID != "p11" {
		t.Fatalf("Spectators = %v", spectators)
	}
	if next := Reduce(s, Event{Type: EventAcknowledge, Actor: "p11"}); next != s {
		t.Error("spectator acknowledge changed state")
	}
}

func TestStartNeedsFivePlayers(t *testing.T) {
	s := lobby(4)
	if next := Reduce(s, Event{Type: EventStart, Actor: "p0"}); next != s {
		t.Fatal("start with 4 players changed state")
	}
	s = lobby(5)
	if next := Reduce(s, Event{Type: EventStart, Actor: "p1"}); next != s {
		t.Fatal("non-host start changed state")
	}
}

func TestDuplicateAcknowledgeIsNoop(t *testing.T) {
	s := Reduce(lobby(5), Event{Type: EventStart, Actor: "p0"})
	s = Reduce(s, Event{Type: EventAcknowledge, Actor: "p3"})
	if next := Reduce(s, Event{Type: EventAcknowledge, Actor: "p3"}); next != s {
		t.Fatal("second acknowledge changed state")
	}
	if s.Phase != PhaseRoleReveal || s.Acks.Count() != 1 {
		t.Errorf("Phase=%s Acks=%d", s.Phase, s.Acks.Count())
	}
}

func TestProposeValidation(t *testing.T) {
	s := proposing(t, 5)
	if s.Leader != "p0" || s.TeamSize() != 2 {
		t.Fatalf("Leader=%q TeamSize=%d", s.Leader, s.TeamSize())
	}
	bad := []Event{
		{Type: EventPropose, Actor: "p1", Team: []string{"p0", "p1"}},
		{Type: EventPropose, Actor: "p0", Team: []string{"p0"}},
		{Type: EventPropose, Actor: "p0", Team: []string{"p1", "p1"}},
		{Type: EventPropose, Actor: "p0", Team: []string{"p1", "ghost"}},
	}
	for i, ev := range bad {
		if next := Reduce(s, ev); next != s {
			t.Errorf("bad proposal %d changed state", i)
		}
	}
	next := Reduce(s, Event{Type: EventPropose, Actor: "p0", Team: []string{"p3", "p1"}})
	if next.Phase != PhaseVoting || !reflect.DeepEqual(next.Team, []string{"p3", "p1"}) {
		t.Fatalf("Phase=%s Team=%v", next.Phase, next.Team)
	}
}

func TestVoteThreshold(t *testing.T) {
	six := vote(propose(t, proposing(t, 6)), 3)
	if six.Phase != PhaseProposing || six.LastVote == nil || six.LastVote.Approved {
		t.Fatalf("n=6 3/3: Phase=%s LastVote=%+v, want rejection", six.Phase, six.LastVote)
	}
	if six.Proposal != 2 || six.Leader != "p1" || six.Team != nil {
		t.Errorf("n=6 after rejection: Proposal=%d Leader=%q Team=%v", six.Proposal, six.Leader, six.Team)
	}

	seven := vote(propose(t, proposing(t, 7)), 4)
	if seven.Phase != PhaseMission || !seven.LastVote.Approved {
		t.Fatalf("n=7 4/3: Phase=%s, want mission", seven.Phase)
	}
	if seven.Submitted.Len() != 2 {
		t.Errorf("Submitted.Len = %d, want team size 2", seven.Submitted.Len())
	}
}

func TestVoteResultValidation(t *testing.T) {
	s := propose(t, proposing(t, 5))
	good := Event{Type: EventVoteResult, Actor: "p0", Mission: 1, Proposal: 1, Approve: 3, Reject: 2}

	for name, mutate := range map[string]func(*Event){
		"not host":       func(e *Event) { e.Actor = "p1" },
		"stale proposal": func(e *Event) { e.Proposal = 2 },
		"short count":    func(e *Event) { e.Reject = 1 },
		"map mismatch": func(e *Event) {
			e.Votes = map[string]bool{"p0": true, "p1": true, "p2": false, "p3": false, "p4": false}
		},
	} {
		ev := good
		mutate(&ev)
		if next := Reduce(s, ev); next != s {
			t.Errorf("%s: vote result applied", name)
		}
	}

	ev := good
	ev.Votes = map[string]bool{"p0": true, "p1": true, "p2": true, "p3": false, "p4": false}
	next := Reduce(s, ev)
	if next.Phase != PhaseMission || len(next.LastVote.Votes) != 5 || !next.Votes.All() {
		t.Fatalf("Phase=%s LastVote=%+v", next.Phase, next.LastVote)
	}
	if again := Reduce(next, ev); again != next {
		t.Error("replayed vote result changed state")
	}
}

func TestProposalDeadlock(t *testing.T) {
	s := proposing(t, 5)
	leaders := []string{s.Leader}
	for i := 1; i < MaxProposals; i++ {
		s = vote(propose(t, s), 0)
		if s.Phase != PhaseProposing || s.Proposal != i+1 {
			t.Fatalf("rejection %d: Phase=%s Proposal=%d", i, s.Phase, s.Proposal)
		}
		leaders = append(leaders, s.Leader)
	}
	if want := []string{"p0", "p1", "p2", "p3", "p4"}; !reflect.DeepEqual(leaders, want) {
		t.Errorf("leaders = %v, want %v", leaders, want)
	}

	s = vote(propose(t, s), 2)
	if s.Phase != PhaseFinished || s.Winner != RoleSpy || s.FinishReason != ReasonDeadlock {
		t.Fatalf("Phase=%s Winner=%q Reason=%q, want spy deadlock win", s.Phase, s.Winner, s.FinishReason)
	}
	if s.Mission != 1 {
		t.Errorf("Mission = %d, want 1", s.Mission)
	}
}

func TestResistanceWinsThreeMissions(t *testing.T) {
	s := proposing(t, 5)
	for m := 1; m <= WinsNeeded; m++ {
		s = runMission(t, s, 0)
		if s.Phase != PhaseMissionResult || s.ResistanceWins != m {
			t.Fatalf("mission %d: Phase=%s ResistanceWins=%d", m, s.Phase, s.ResistanceWins)
		}
		if m < WinsNeeded {
			leader := s.Leader
			s = Reduce(s, Event{Type: EventAdvance, Actor: s.HostID})
			if s.Phase != PhaseProposing || s.Mission != m+1 || s.Proposal != 1 || s.Leader == leader {
				t.Fatalf("advance %d: Phase=%s Mission=%d Leader=%q", m, s.Phase, s.Mission, s.Leader)
			}
		}
	}
	if s.Winner != RoleResistance {
		t.Fatalf("Winner = %q after three successes", s.Winner)
	}
	if next := Reduce(s, Event{Type: EventAdvance, Actor: "p2"}); next != s {
		t.Fatal("advance by non-host changed state")
	}
	s = Reduce(s, Event{Type: EventAdvance, Actor: s.HostID})
	if s.Phase != PhaseFinished || s.FinishReason != ReasonMissions || len(s.Results) != 3 {
		t.Fatalf("Phase=%s Reason=%q Results=%d", s.Phase, s.FinishReason, len(s.Results))
	}
}

func TestSingleFailFailsMission(t *testing.T) {
	s := proposing(t, 7)
	for m := 1; m <= WinsNeeded; m++ {
		s = runMission(t, s, 1)
		if !s.Results[m-1].Failed {
			t.Fatalf("mission %d with one fail succeeded", m)
		}
		s = Reduce(s, Event{Type: EventAdvance, Actor: s.HostID})
	}
	if s.Phase != PhaseFinished || s.Winner != RoleSpy || s.SpyWins != 3 {
		t.Fatalf("Phase=%s Winner=%q SpyWins=%d", s.Phase, s.Winner, s.SpyWins)
	}
}

func TestMissionResultValidation(t *testing.T) {
	s := vote(propose(t, proposing(t, 5)), 5)
	if next := Reduce(s, Event{Type: EventMissionResult, Actor: "p0", Mission: 1, Fails: 3}); next != s {
		t.Error("more fails than team members applied")
	}
	if next := Reduce(s, Event{Type: EventMissionResult, Actor: "p0", Mission: 2}); next != s {
		t.Error("result for the wrong mission applied")
	}
	if next := Reduce(s, Event{Type: EventCardSubmitted, Actor: "p4"}); next != s {
		t.Error("card from a player off the team recorded")
	}
}

func TestActiveLeaveAbandons(t *testing.T) {
	s := proposing(t, 6)
	spectator := Reduce(s, Event{Type: EventJoin, Actor: "late", Player: engine.Player{ID: "late"}})
	if spectator.Phase != PhaseProposing || spectator.IsActive("late") {
		t.Fatalf("late joiner seated: Active=%v", spectator.Active)
	}
	if next := Reduce(spectator, Event{Type: EventLeave, Actor: "late"}); next.Phase != PhaseProposing {
		t.Errorf("spectator leaving ended the game")
	}

	next := Reduce(s, Event{Type: EventLeave, Actor: "p0"})
	if next.Phase != PhaseFinished || next.FinishReason != ReasonAbandoned || next.Winner != "" {
		t.Fatalf("Phase=%s Reason=%q Winner=%q", next.Phase, next.FinishReason, next.Winner)
	}
	if next.HostID != "p1" {
		t.Errorf("HostID = %q, want p1", next.HostID)
	}
}

func TestRestartKeepsRoster(t *testing.T) {
	s := vote(propose(t, proposing(t, 5)), 0)
	lobby := Reduce(s, Event{Type: EventRestart, Actor: "p0"})
	if lobby.Phase != PhaseLobby || lobby.Active != nil || lobby.LastVote != nil || lobby.Mission != 0 {
		t.Fatalf("restart kept round state: %+v", lobby)
	}
	if len(lobby.Players) != 5 || lobby.Game != 1 {
		t.Errorf("Players=%d Game=%d", len(lobby.Players), lobby.Game)
	}
	if again := Reduce(lobby, Event{Type: EventStart, Actor: "p0"}); again.Game != 2 {
		t.Errorf("Game after second start = %d, want 2", again.Game)
	}
}

func TestPublicStateHasNoRoles(t *testing.T) {
	s := runMission(t, proposing(t, 5), 0)
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	for _, leak := range []string{`"role"`, `"spy"`, `"fail"`} {
		if strings.Contains(string(data), leak) {
			t.Errorf("public state contains %s: %s", leak, data)
		}
	}
	var back State
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Phase != s.Phase || back.Leader != s.Leader || !reflect.DeepEqual(back.Results, s.Results) {
		t.Errorf("round trip lost fields: %+v", back)
	}
}

func TestDecodeIntent(t *testing.T) {
	m := Machine{}
	ev, err := m.DecodeIntent("p0", "propose", []byte(`{"team":["p1","p2"]}`))
	if err != nil || ev.Type != EventPropose || !reflect.DeepEqual(ev.Team, []string{"p1", "p2"}) {
		t.Fatalf("propose = %+v, %v", ev, err)
	}
	ev, err = m.DecodeIntent("p0", "vote-result", []byte(`{"mission":2,"proposal":3,"approve":4,"reject":1}`))
	if err != nil || ev.Mission != 2 || ev.Proposal != 3 || ev.Approve != 4 || ev.Reject != 1 {
		t.Fatalf("vote-result = %+v, %v", ev, err)
	}
	if _, err := m.DecodeIntent("p0", "flip-ready", nil); err == nil {
		t.Error("battle intent decoded by deduction machine")
	}
}
