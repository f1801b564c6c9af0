package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/pelusa-v/groupchat/internal/chat"
	"github.com/pelusa-v/groupchat/internal/imagehost"
	"github.com/pelusa-v/groupchat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUploader struct {
	configured bool
	err        error
	calls      int
}

func (u *stubUploader) Configured() bool { return u.configured }

func (u *stubUploader) Upload(_ context.Context, files []imagehost.File) ([]imagehost.Result, error) {
	u.calls++
	if u.err != nil {
		return nil, u.err
	}
	out := make([]imagehost.Result, len(files))
	for i, f := range files {
		out[i] = imagehost.Result{SecureURL: "https://res.test/" + f.Name}
	}
	return out, nil
}

func newService(t *testing.T, up *stubUploader) *Service {
	t.Helper()
	db, err := store.Open("/id", store.WithFS(vfs.NewMem()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	svc := NewService(NewStore(db.LocalStorage("device-1")), up)
	svc.newID = func() string { return "auth-1" }
	return svc
}

func TestCreateProfile(t *testing.T) {
	up := &stubUploader{configured: true}
	svc := newService(t, up)

	got, err := svc.Store().Get()
	require.NoError(t, err)
	assert.Nil(t, got)

	id, err := svc.CreateProfile(context.Background(), "  ana ", &imagehost.File{Name: "me.png", Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, chat.Identity{AuthID: "auth-1", Username: "ana", Avatar: "https://res.test/me.png"}, *id)

	stored, err := svc.Store().Get()
	require.NoError(t, err)
	assert.Equal(t, id, stored)
	ok, err := svc.Store().Exists()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateProfile_Validation(t *testing.T) {
	svc := newService(t, &stubUploader{configured: true})
	_, err := svc.CreateProfile(context.Background(), " ", &imagehost.File{Name: "a", Data: []byte("x")})
	assert.ErrorIs(t, err, chat.ErrNoIdentity)

	_, err = svc.CreateProfile(context.Background(), "ana", nil)
	assert.ErrorIs(t, err, chat.ErrNoIdentity)

	svc = newService(t, &stubUploader{})
	_, err = svc.CreateProfile(context.Background(), "ana", &imagehost.File{Name: "a", Data: []byte("x")})
	assert.ErrorIs(t, err, chat.ErrUploaderConfig)
}

func TestCreateProfile_UploadFailureStoresNothing(t *testing.T) {
	up := &stubUploader{configured: true, err: &chat.UploadError{Err: errors.New("boom")}}
	svc := newService(t, up)
	_, err := svc.CreateProfile(context.Background(), "ana", &imagehost.File{Name: "a", Data: []byte("x")})
	var upErr *chat.UploadError
	assert.True(t, errors.As(err, &upErr))
	ok, err := svc.Store().Exists()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateProfile_KeepsAuthID(t *testing.T) {
	up := &stubUploader{configured: true}
	svc := newService(t, up)
	ctx := context.Background()

	_, err := svc.UpdateProfile(ctx, "ana", nil)
	assert.ErrorIs(t, err, chat.ErrNoIdentity)

	_, err = svc.CreateProfile(ctx, "ana", &imagehost.File{Name: "me.png", Data: []byte("x")})
	require.NoError(t, err)
	svc.newID = func() string { return "auth-2" }

	id, err := svc.UpdateProfile(ctx, "ana b", nil)
	require.NoError(t, err)
	assert.Equal(t, "auth-1", id.AuthID)
	assert.Equal(t, "ana b", id.Username)
	assert.Equal(t, "https://res.test/me.png", id.Avatar)
	assert.Equal(t, 1, up.calls)

	id, err = svc.UpdateProfile(ctx, "", &imagehost.File{Name: "new.png", Data: []byte("y")})
	require.NoError(t, err)
	assert.Equal(t, "ana b", id.Username)
	assert.Equal(t, "https://res.test/new.png", id.Avatar)
}

func TestLogout(t *testing.T) {
	svc := newService(t, &stubUploader{configured: true})
	_, err := svc.CreateProfile(context.Background(), "ana", &imagehost.File{Name: "a", Data: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, svc.Logout())
	got, err := svc.Store().Get()
	require.NoError(t, err)
	assert.Nil(t, got)
}
