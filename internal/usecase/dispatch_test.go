package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/fleet-dispatch/internal/adapter/repository/memory"
	"github.com/V4T54L/fleet-dispatch/internal/domain"
	"github.com/V4T54L/fleet-dispatch/internal/domain/mocks"
)

type dispatchFixture struct {
	dispatch *DispatchUseCase
	operator *OperatorUseCase
	players  *memory.PlayerRepository
	commands *memory.CommandRepository
	activity *mocks.MockActivityPublisher
	tenant   *domain.Tenant
	clock    interface{ Advance(time.Duration) }
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	clk := newTestClock()
	tenants := mocks.NewMockTenantRepository(testTenant("place-1", "key-1"), testTenant("place-2", "key-2"))
	players := memory.NewPlayerRepository()
	commands := memory.NewCommandRepository()
	activity := &mocks.MockActivityPublisher{}

	return &dispatchFixture{
		dispatch: NewDispatchUseCase(players, commands, activity, clk, discardLogger(), nil, 0),
		operator: NewOperatorUseCase(tenants, commands, players, activity, clk, discardLogger(), nil),
		players:  players,
		commands: commands,
		activity: activity,
		tenant:   testTenant("place-1", "key-1"),
		clock:    clk,
	}
}

func TestDispatch_KickRoundTrip(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	cmd, err := f.operator.Enqueue(ctx, "place-1", EnqueueRequest{
		ServerID:       strPtr("srv-a"),
		Type:           "kick",
		TargetUsername: strPtr("griefer"),
		Payload:        domain.Payload{"reason": "spam"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CommandKick, cmd.Type)
	assert.Equal(t, domain.StatusPending, cmd.Status)

	assert.Empty(t, f.dispatch.Poll(ctx, f.tenant, "srv-b"), "other instance must not see a scoped command")

	got := f.dispatch.Poll(ctx, f.tenant, "srv-a")
	require.Len(t, got, 1)
	assert.Equal(t, cmd.ID, got[0].ID)
	assert.Equal(t, domain.StatusSent, got[0].Status)
	assert.Empty(t, f.dispatch.Poll(ctx, f.tenant, "srv-a"), "SENT commands are not redelivered")

	require.NoError(t, f.dispatch.Ack(ctx, f.tenant, "srv-a", cmd.ID, domain.StatusSuccess, strPtr("kicked")))
	require.NoError(t, f.dispatch.Ack(ctx, f.tenant, "srv-a", cmd.ID, domain.StatusFailed, nil), "repeat ack is a no-op")

	hist, err := f.operator.History(ctx, "place-1", domain.CommandFilter{})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.StatusSuccess, hist[0].Status)
	require.NotNil(t, hist[0].ResultMessage)
	assert.Equal(t, "kicked", *hist[0].ResultMessage)

	assert.Equal(t, []domain.ActivityType{
		domain.ActivityCommandEnqueued,
		domain.ActivityCommandClaimed,
		domain.ActivityCommandAcked,
	}, f.activity.Types())
}

func TestDispatch_BroadcastReachesAnyInstance(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	_, err := f.operator.Enqueue(ctx, "place-1", EnqueueRequest{Type: domain.CommandShutdown})
	require.NoError(t, err)

	assert.Len(t, f.dispatch.Poll(ctx, f.tenant, "srv-z"), 1)
	assert.Empty(t, f.dispatch.Poll(ctx, f.tenant, "srv-a"), "a broadcast command is delivered once")
}

func TestDispatch_PollIsTenantScoped(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	_, err := f.operator.Enqueue(ctx, "place-2", EnqueueRequest{Type: domain.CommandShutdown})
	require.NoError(t, err)

	assert.Empty(t, f.dispatch.Poll(ctx, f.tenant, ""))
}

func TestDispatch_PollBatchIsBounded(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	for i := 0; i < domain.DefaultClaimBatchSize+5; i++ {
		_, err := f.operator.Enqueue(ctx, "place-1", EnqueueRequest{Type: domain.CommandShutdown})
		require.NoError(t, err)
		f.clock.Advance(time.Millisecond)
	}

	assert.Len(t, f.dispatch.Poll(ctx, f.tenant, "srv-a"), domain.DefaultClaimBatchSize)
	assert.Len(t, f.dispatch.Poll(ctx, f.tenant, "srv-a"), 5)
}

func TestDispatch_ReportLastWriterWins(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	res, err := f.dispatch.Report(ctx, f.tenant, "srv-a", []domain.PlayerFact{{PlayerID: "42", Username: "bob", Ping: 42}})
	require.NoError(t, err)
	assert.Equal(t, ReportResult{Received: 1, Synced: 1}, res)

	f.clock.Advance(time.Second)
	_, err = f.dispatch.Report(ctx, f.tenant, "srv-b", []domain.PlayerFact{{PlayerID: "42", Username: "bob", Ping: 10}})
	require.NoError(t, err)

	players, err := f.operator.Players(ctx, "place-1", domain.PlayerFilter{})
	require.NoError(t, err)
	require.Len(t, players, 1)
	assert.Equal(t, 10, players[0].Ping)
	assert.Equal(t, "srv-b", players[0].ServerID)
	assert.True(t, players[0].LastSeen.After(players[0].FirstSeen))
}

func TestDispatch_ReportPartialFailure(t *testing.T) {
	players := &mocks.MockPlayerRepository{FailFor: map[string]error{"2": errors.New("write timeout")}}
	uc := NewDispatchUseCase(players, &mocks.MockCommandRepository{}, nil, newTestClock(), discardLogger(), nil, 0)

	res, err := uc.Report(context.Background(), testTenant("place-1", "k"), "srv-a", []domain.PlayerFact{
		{PlayerID: "1"}, {PlayerID: "2"}, {PlayerID: "3"},
	})
	require.NoError(t, err)
	assert.Equal(t, ReportResult{Received: 3, Synced: 2}, res)
}

func TestDispatch_ReportTotalStoreFailure(t *testing.T) {
	storeErr := errors.New("store unavailable")
	players := &mocks.MockPlayerRepository{UpsertErr: storeErr}
	uc := NewDispatchUseCase(players, &mocks.MockCommandRepository{}, nil, newTestClock(), discardLogger(), nil, 0)

	res, err := uc.Report(context.Background(), testTenant("place-1", "k"), "srv-a", []domain.PlayerFact{{PlayerID: "1"}, {PlayerID: "2"}})
	assert.ErrorIs(t, err, storeErr)
	assert.Equal(t, 0, res.Synced)
}

func TestDispatch_ReportEmpty(t *testing.T) {
	f := newDispatchFixture(t)
	res, err := f.dispatch.Report(context.Background(), f.tenant, "srv-a", nil)
	require.NoError(t, err)
	assert.Equal(t, ReportResult{}, res)
}

func TestDispatch_ReportDoesNotClearFlags(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	_, err := f.dispatch.Report(ctx, f.tenant, "srv-a", []domain.PlayerFact{{PlayerID: "7", Username: "eve"}})
	require.NoError(t, err)
	require.NoError(t, f.operator.SetPlayerFlag(ctx, "place-1", "7", domain.FlagSuspicious, true))

	_, err = f.dispatch.Report(ctx, f.tenant, "srv-a", []domain.PlayerFact{{PlayerID: "7", Username: "eve2"}})
	require.NoError(t, err)

	players, err := f.operator.Players(ctx, "place-1", domain.PlayerFilter{Flag: domain.FlagSuspicious})
	require.NoError(t, err)
	require.Len(t, players, 1)
	assert.Equal(t, "eve2", players[0].Username)
}

func TestDispatch_PollStoreErrorYieldsEmptyBatch(t *testing.T) {
	commands := &mocks.MockCommandRepository{ClaimErr: errors.New("deadlock detected")}
	uc := NewDispatchUseCase(&mocks.MockPlayerRepository{}, commands, nil, newTestClock(), discardLogger(), nil, 7)

	got := uc.Poll(context.Background(), testTenant("place-1", "k"), "srv-a")
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, []int{7}, commands.ClaimLimits)
}

func TestDispatch_AckUnknownCommandIsBenign(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.dispatch.Ack(ctx, f.tenant, "srv-a", "c0ffee00-0000-0000-0000-000000000000", domain.StatusSuccess, nil))
	assert.Empty(t, f.activity.Events())
}

func TestDispatch_AckForeignCommandLeavesItUntouched(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	cmd, err := f.operator.Enqueue(ctx, "place-2", EnqueueRequest{Type: domain.CommandShutdown})
	require.NoError(t, err)

	require.NoError(t, f.dispatch.Ack(ctx, f.tenant, "srv-a", cmd.ID, domain.StatusSuccess, nil))

	hist, err := f.operator.History(ctx, "place-2", domain.CommandFilter{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, hist[0].Status)
}

func TestDispatch_AckValidation(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	err := f.dispatch.Ack(ctx, f.tenant, "srv-a", "", domain.StatusSuccess, nil)
	assert.True(t, domain.IsValidationError(err), "empty id: %v", err)

	err = f.dispatch.Ack(ctx, f.tenant, "srv-a", "some-id", domain.StatusSent, nil)
	assert.True(t, domain.IsValidationError(err), "non-outcome status: %v", err)
}

func TestDispatch_AckStoreErrorPropagates(t *testing.T) {
	storeErr := errors.New("connection reset")
	commands := &mocks.MockCommandRepository{AckErr: storeErr}
	uc := NewDispatchUseCase(&mocks.MockPlayerRepository{}, commands, nil, newTestClock(), discardLogger(), nil, 0)

	err := uc.Ack(context.Background(), testTenant("place-1", "k"), "srv-a", "id", domain.StatusFailed, nil)
	assert.ErrorIs(t, err, storeErr)
}
