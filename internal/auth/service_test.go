package auth_test

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/bunnychat/internal/api"
	"github.com/matheus3301/bunnychat/internal/api/apitest"
	"github.com/matheus3301/bunnychat/internal/auth"
	"github.com/matheus3301/bunnychat/internal/bus"
	"github.com/matheus3301/bunnychat/internal/session"
	"github.com/matheus3301/bunnychat/internal/status"
	"github.com/matheus3301/bunnychat/internal/store"
)

type fixture struct {
	srv     *apitest.Server
	db      *store.DB
	store   *session.Store
	bus     *bus.Bus
	machine *status.Machine
	svc     *auth.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := apitest.New()
	t.Cleanup(srv.Close)
	client, err := api.New(srv.URL)
	require.NoError(t, err)

	db, _, err := store.OpenMigrated(filepath.Join(t.TempDir(), "bunnychat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	m := status.NewMachine(b)
	st := session.NewStore(db)
	return &fixture{
		srv:     srv,
		db:      db,
		store:   st,
		bus:     b,
		machine: m,
		svc:     auth.NewService(client, st, m, nil),
	}
}

func TestRestoreSignedOut(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Restore(context.Background()))
	assert.Equal(t, status.SignedOut, f.svc.State())

	_, err := f.svc.CurrentUser(context.Background())
	assert.ErrorIs(t, err, auth.ErrSignedOut)
}

func TestRestoreSignedIn(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Save(context.Background(), api.User{ID: 3, FirstName: "Ann"}))

	require.NoError(t, f.svc.Restore(context.Background()))
	assert.Equal(t, status.SignedIn, f.svc.State())

	u, err := f.svc.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), u.ID)
}

func TestSignInStoresUser(t *testing.T) {
	f := newFixture(t)
	alice := f.srv.AddUser("Alice", "Smith", "0711111111", "secret")
	require.NoError(t, f.svc.Restore(context.Background()))

	events, unsub := f.bus.Subscribe("session.", 8)
	defer unsub()

	u, err := f.svc.SignIn(context.Background(), "0711111111", "secret")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, u.ID)
	assert.Equal(t, status.SignedIn, f.svc.State())

	stored, ok, err := f.store.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alice, stored)

	first := (<-events).Payload.(status.StatusChange)
	second := (<-events).Payload.(status.StatusChange)
	assert.Equal(t, status.StatusChange{From: status.SignedOut, To: status.SigningIn}, first)
	assert.Equal(t, status.StatusChange{From: status.SigningIn, To: status.SignedIn}, second)
}

func TestSignInRestoresFirst(t *testing.T) {
	f := newFixture(t)
	f.srv.AddUser("Alice", "Smith", "0711111111", "secret")

	_, err := f.svc.SignIn(context.Background(), "0711111111", "secret")
	require.NoError(t, err)
	assert.Equal(t, status.SignedIn, f.svc.State())
}

func TestSignInDiscardsUnreadableUser(t *testing.T) {
	f := newFixture(t)
	alice := f.srv.AddUser("Alice", "Smith", "0711111111", "secret")
	ctx := context.Background()
	require.NoError(t, f.db.PutValue(ctx, session.UserKey, "{not json"))

	require.Error(t, f.svc.Restore(ctx))
	assert.Equal(t, status.Error, f.svc.State())

	u, err := f.svc.SignIn(ctx, "0711111111", "secret")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, u.ID)
	assert.Equal(t, status.SignedIn, f.svc.State())

	stored, err := f.svc.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, alice, stored)
}

func TestSignInRejected(t *testing.T) {
	f := newFixture(t)
	f.srv.AddUser("Alice", "Smith", "0711111111", "secret")
	require.NoError(t, f.svc.Restore(context.Background()))

	_, err := f.svc.SignIn(context.Background(), "0711111111", "wrong")
	var rej *auth.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "Invalid credentials", rej.Message)
	assert.Equal(t, status.SignedOut, f.svc.State())

	_, ok, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignInNetworkFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Restore(context.Background()))
	f.srv.Fail(api.PathSignIn, http.StatusInternalServerError)

	_, err := f.svc.SignIn(context.Background(), "0711111111", "pw")
	var se *api.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, status.SignedOut, f.svc.State())
}

func TestSignInReplacesCurrentUser(t *testing.T) {
	f := newFixture(t)
	f.srv.AddUser("Alice", "Smith", "0711111111", "a")
	bob := f.srv.AddUser("Bob", "Jones", "0722222222", "b")
	ctx := context.Background()

	_, err := f.svc.SignIn(ctx, "0711111111", "a")
	require.NoError(t, err)
	_, err = f.svc.SignIn(ctx, "0722222222", "b")
	require.NoError(t, err)

	u, err := f.svc.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, u.ID)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	f.srv.AddUser("Alice", "Smith", "0711111111", "secret")
	ctx := context.Background()
	_, err := f.svc.SignIn(ctx, "0711111111", "secret")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx))
	assert.Equal(t, status.SignedOut, f.svc.State())
	_, err = f.svc.CurrentUser(ctx)
	assert.True(t, errors.Is(err, auth.ErrSignedOut))

	require.NoError(t, f.svc.Logout(ctx))
}

func TestSignUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := api.SignUpRequest{Mobile: "0755555555", FirstName: "Eve", LastName: "Stone", Password: "pw"}

	msg, err := f.svc.SignUp(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Registration complete", msg)

	_, err = f.svc.SignUp(ctx, req)
	var rej *auth.RejectedError
	require.ErrorAs(t, err, &rej)

	_, err = f.svc.SignIn(ctx, "0755555555", "pw")
	require.NoError(t, err)
}
