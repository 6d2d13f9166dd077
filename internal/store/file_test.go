package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

func TestFile_RoundTripAcrossOpens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "store.json")

	first, err := OpenFile(path)
	require.NoError(t, err)
	account := schemas.Account{
		ID:        "a1",
		Label:     "Anna",
		Status:    schemas.AccountActive,
		Cookies:   `[{"name":"access_token","value":"tok","domain":".kleinanzeigen.de"}]`,
		ProxyID:   "p1",
		CreatedAt: t0,
	}
	proxy := schemas.Proxy{ID: "p1", Name: "home", Descriptor: schemas.ProxyDescriptor{Type: schemas.ProxySOCKS5, Host: "10.0.0.1", Port: 1080, Username: "u", Password: "p"}, CreatedAt: t0}
	require.NoError(t, first.CreateAccount(ctx, account))
	require.NoError(t, first.CreateProxy(ctx, proxy))
	require.NoError(t, first.UpdateAccountStatus(ctx, "a1", schemas.AccountInvalid, t0.Add(time.Hour)))
	require.NoError(t, first.UpsertAds(ctx, []schemas.Ad{
		{AccountID: "a1", Title: "Fahrrad", Price: "50", Status: schemas.AdActive},
		{AccountID: "a1", Title: "Lampe", Price: "10", Status: schemas.AdActive},
	}))
	first.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := OpenFile(path)
	require.NoError(t, err)
	got, err := second.GetAccount(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, schemas.AccountInvalid, got.Status)
	require.NotNil(t, got.LastCheck)
	assert.True(t, got.LastCheck.Equal(t0.Add(time.Hour)))
	want := account
	want.Status, want.LastCheck = got.Status, got.LastCheck
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetAccount() mismatch (-want +got):\n%s", diff)
	}

	gotProxy, err := second.GetProxy(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, proxy.Descriptor, gotProxy.Descriptor)

	ads, err := second.ListAds(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, ads, 2)
	assert.Equal(t, "Fahrrad", ads[0].Title, "insertion order survives")
	assert.Equal(t, "Lampe", ads[1].Title)

	require.NoError(t, second.DeleteProxy(ctx, "p1"))
	third, err := OpenFile(path)
	require.NoError(t, err)
	_, err = third.GetProxy(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFile_MissingAndEmptyFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	f, err := OpenFile(filepath.Join(dir, "absent.json"))
	require.NoError(t, err)
	list, err := f.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	_, err = os.Stat(filepath.Join(dir, "absent.json"))
	assert.ErrorIs(t, err, os.ErrNotExist, "nothing is written before the first mutation")

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = OpenFile(empty)
	assert.NoError(t, err)
}

func TestFile_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := OpenFile(path)
	assert.ErrorContains(t, err, "failed to decode store file")
}

func TestFile_FailedOperationWritesNothing(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")
	f, err := OpenFile(path)
	require.NoError(t, err)

	assert.ErrorIs(t, f.DeleteAccount(ctx, "ghost"), ErrNotFound)
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, f.CreateAccount(cancelled, schemas.Account{ID: "a1"}), context.Canceled)
	_, err = f.GetAccount(ctx, "a1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFile_WriteFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	// A regular file where the parent directory should be makes every write fail.
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	f, err := OpenFile(filepath.Join(blocker, "store.json"))
	require.NoError(t, err)
	assert.Error(t, f.CreateAccount(ctx, schemas.Account{ID: "a1"}))
	_, err = f.GetAccount(ctx, "a1")
	assert.ErrorIs(t, err, ErrNotFound, "state is rolled back after a failed write")
}

func TestOpenFile_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	f, err := OpenFile("~/.kleinpost/store.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".kleinpost", "store.json"), f.Path())
}
